// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package livefeed maintains the websocket connection to the live entity
// stream and injects arriving entities into the reconciler.
//
// The connection moves through disconnected, connecting, connected, error,
// and failed. Reconnects back off exponentially up to a bounded number of
// attempts; exhausting them parks the connector in failed, which only a
// manual reconnect clears. Entities are applied strictly in arrival order.
package livefeed

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/metrics"
	"github.com/tomtom215/geoscope/internal/models"
)

const (
	// DefaultMaxRetries bounds automatic reconnect attempts.
	DefaultMaxRetries = 10

	// DefaultInitialBackoff and DefaultMaxBackoff bound the reconnect delay.
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 60 * time.Second

	handshakeTimeout = 10 * time.Second
)

// EntitySink receives stream entities in arrival order. Satisfied by the
// reconciler.
type EntitySink interface {
	InjectTransient(e models.Entity)
}

// streamMessage is the wire envelope of one stream frame.
type streamMessage struct {
	Type   string        `json:"type"`
	Entity models.Entity `json:"entity"`
}

// Options configures a Connector. Zero values take defaults.
type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Connector is the live feed connection manager. Run it under a supervisor
// via Serve.
type Connector struct {
	url  string
	sink EntitySink

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	dialer *websocket.Dialer

	mu      sync.Mutex
	state   models.ConnectionState
	onState func(models.ConnectionState)

	// reconnect wakes the failed state; buffered so a manual trigger never
	// blocks the caller.
	reconnect chan struct{}
}

// New creates a Connector for the stream at url, delivering into sink.
func New(url string, sink EntitySink, opts Options) *Connector {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	return &Connector{
		url:            url,
		sink:           sink,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		state: models.ConnectionState{
			Status:     models.StatusDisconnected,
			MaxRetries: opts.MaxRetries,
		},
		reconnect: make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (c *Connector) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange installs a callback invoked on every status transition. The
// callback runs outside the connector lock.
func (c *Connector) OnStateChange(fn func(models.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Reconnect manually revives a failed connector. Outside the failed state it
// is a no-op; the automatic retry loop already owns recovery there.
func (c *Connector) Reconnect() error {
	c.mu.Lock()
	if c.state.Status != models.StatusFailed {
		status := c.state.Status
		c.mu.Unlock()
		logging.Debug().Str("status", string(status)).Msg("manual reconnect ignored")
		return nil
	}
	c.state.RetryCount = 0
	c.mu.Unlock()

	select {
	case c.reconnect <- struct{}{}:
	default:
	}
	return nil
}

// Serve runs the connection loop until the context is cancelled. It
// implements suture.Service.
func (c *Connector) Serve(ctx context.Context) error {
	defer c.setStatus(models.StatusDisconnected)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxInterval = c.maxBackoff
	bo.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.setStatus(models.StatusConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			bo.Reset()
			c.connected()
			err = c.readLoop(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Err(err).Msg("live stream connection lost")
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Err(err).Str("url", c.url).Msg("live stream dial failed")
		}

		c.setStatus(models.StatusError)
		retries := c.bumpRetry()
		if retries > c.maxRetries {
			c.setStatus(models.StatusFailed)
			logging.Error().Int("retries", c.maxRetries).
				Msg("live stream retry limit exhausted; waiting for manual reconnect")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.reconnect:
				bo.Reset()
				metrics.StreamReconnects.Inc()
				continue
			}
		}

		metrics.StreamReconnects.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// readLoop consumes frames until the connection breaks or the context ends.
// Single-reader: arrival order is delivery order.
func (c *Connector) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.StreamMessages.WithLabelValues("skipped").Inc()
			logging.Warn().Err(err).Msg("skipping malformed stream frame")
			continue
		}
		if msg.Type != "entity" || msg.Entity.ID == "" || !msg.Entity.Position.Valid() {
			metrics.StreamMessages.WithLabelValues("skipped").Inc()
			continue
		}

		c.sink.InjectTransient(msg.Entity)
		metrics.StreamMessages.WithLabelValues("applied").Inc()
	}
}

func (c *Connector) connected() {
	c.mu.Lock()
	c.state.RetryCount = 0
	c.mu.Unlock()
	c.setStatus(models.StatusConnected)
}

func (c *Connector) bumpRetry() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.RetryCount++
	return c.state.RetryCount
}

func (c *Connector) setStatus(status models.ConnectionStatus) {
	c.mu.Lock()
	if c.state.Status == status {
		c.mu.Unlock()
		return
	}
	c.state.Status = status
	snapshot := c.state
	fn := c.onState
	c.mu.Unlock()

	metrics.StreamState.Set(metrics.StreamStateValue(string(status)))
	logging.Info().Str("status", string(status)).Int("retries", snapshot.RetryCount).
		Msg("live stream state")
	if fn != nil {
		fn(snapshot)
	}
}
