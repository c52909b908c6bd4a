// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package layers manages the overlay layers rendered above the primary
// marker layer: heatmap, trajectories, vessels, and verified events.
//
// Each layer owns its fetch lifecycle end to end: its own version gate, its
// own circuit breaker, and its own rate limiter. A failure in one layer can
// never affect another; the failed layer keeps its last-known-good data and
// recovers on a later settle.
package layers

import (
	"context"
	"sync"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/geoscope/internal/datasource"
	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/metrics"
	"github.com/tomtom215/geoscope/internal/models"
)

// Kind names an overlay layer.
type Kind string

const (
	KindHeatmap        Kind = "heatmap"
	KindTrajectories   Kind = "trajectories"
	KindVessels        Kind = "vessels"
	KindVerifiedEvents Kind = "verified_events"
)

// Kinds lists all overlay layers in render order.
var Kinds = []Kind{KindHeatmap, KindTrajectories, KindVessels, KindVerifiedEvents}

// Fetcher retrieves one layer's feature collection for a viewport.
type Fetcher interface {
	FetchLayerData(ctx context.Context, layer string, bounds models.BBox, zoom float64, tf models.TimeFilter) (*geojson.FeatureCollection, error)
}

// SourceSink is the rendering-side style source of one layer. SetData
// replaces the source contents atomically: the previous data stays visible
// until the swap, there is never a cleared intermediate state.
type SourceSink interface {
	SetData(fc *geojson.FeatureCollection)
	Clear()
}

// Layer is one overlay layer's controller.
type Layer struct {
	kind    Kind
	fetcher Fetcher
	sink    SourceSink

	gate    datasource.VersionGate
	breaker *gobreaker.CircuitBreaker[*geojson.FeatureCollection]
	limiter *rate.Limiter

	mu       sync.Mutex
	enabled  bool
	lastGood *geojson.FeatureCollection
}

// newLayer builds a layer with its isolation machinery.
func newLayer(kind Kind, fetcher Fetcher, sink SourceSink, enabled bool, minInterval time.Duration) *Layer {
	if minInterval <= 0 {
		minInterval = 5 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    string(kind),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.LayerBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			logging.Warn().Str("layer", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("layer breaker state change")
		},
	}

	return &Layer{
		kind:    kind,
		fetcher: fetcher,
		sink:    sink,
		breaker: gobreaker.NewCircuitBreaker[*geojson.FeatureCollection](settings),
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		enabled: enabled,
	}
}

// Kind returns the layer's name.
func (l *Layer) Kind() Kind { return l.kind }

// Enabled reports whether the layer is visible.
func (l *Layer) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Show enables the layer. Last-known-good data reappears immediately; fresh
// data follows on the next settle.
func (l *Layer) Show() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enabled {
		return
	}
	l.enabled = true
	if l.lastGood != nil {
		l.sink.SetData(l.lastGood)
	}
}

// Hide disables the layer and removes its rendered data. The backing state
// is retained for a later Show.
func (l *Layer) Hide() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	l.enabled = false
	l.sink.Clear()
}

// Refresh fetches and swaps in fresh data for the current viewport. Disabled
// layers, rate-limited settles, and superseded responses are all no-ops; a
// failed fetch keeps the previous data rendered.
func (l *Layer) Refresh(ctx context.Context, bounds models.BBox, zoom float64, tf models.TimeFilter) {
	if !l.Enabled() {
		return
	}
	if !l.limiter.Allow() {
		return
	}

	version := l.gate.Next()

	fc, err := l.breaker.Execute(func() (*geojson.FeatureCollection, error) {
		return l.fetcher.FetchLayerData(ctx, string(l.kind), bounds, zoom, tf)
	})
	if err != nil {
		// Isolation: the failure stays inside this layer. Prior data keeps
		// rendering; the breaker decides when to probe again.
		logging.Warn().Err(err).Str("layer", string(l.kind)).Msg("layer refresh failed")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Gate and swap under one lock so responses render in version order: an
	// older response must not pass the gate and then swap in after a newer
	// one already rendered.
	if !l.gate.IsLatest(version) {
		metrics.StaleResponsesDiscarded.WithLabelValues(string(l.kind)).Inc()
		return
	}
	if !l.enabled {
		// Hidden while the fetch was in flight; retain but do not render.
		l.lastGood = fc
		return
	}
	l.lastGood = fc
	l.sink.SetData(fc)
	metrics.LayerSourceSwaps.WithLabelValues(string(l.kind)).Inc()
}

// LastGood returns the most recent successfully fetched collection, nil if
// none yet. The style switcher uses it to restore sources after a theme swap.
func (l *Layer) LastGood() *geojson.FeatureCollection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastGood
}

// Restore re-applies the last-known-good data to the sink, if the layer is
// enabled and has any. Used after theme swaps recreate the style sources.
func (l *Layer) Restore() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enabled && l.lastGood != nil {
		l.sink.SetData(l.lastGood)
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
