// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package push fans engine state out to connected dashboard clients over
// websockets: marker deltas, layer visibility changes, and live feed status.
package push

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/metrics"
	"github.com/tomtom215/geoscope/internal/models"
	"github.com/tomtom215/geoscope/internal/reconcile"
)

// Message types pushed to dashboard clients.
const (
	MessageTypeMarkerDelta  = "marker_delta"
	MessageTypeLayerChange  = "layer_change"
	MessageTypeStreamStatus = "stream_status"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message is one frame pushed to a dashboard client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of connected dashboard clients and broadcasts
// engine events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a Hub. Run it with RunWithContext under the supervisor.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub until the context is cancelled, then closes
// all clients and returns ctx.Err().
//
// DETERMINISM: Uses priority-based selection: shutdown first, then client
// lifecycle events, then broadcasts. When Go's select has multiple ready
// channels it picks randomly; the staged selects keep client state
// consistent before any message is processed.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check)
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle (non-blocking check)
		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		// Priority 3: broadcasts, or block until any event arrives
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	metrics.PushClients.Set(float64(count))
	logging.Info().Int("total_clients", count).Msg("dashboard client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.PushClients.Set(float64(count))
	logging.Info().Int("total_clients", count).Msg("dashboard client disconnected")
}

// broadcastToClients delivers a message to every client in a deterministic
// order. Clients whose send buffer is full are dropped; a dashboard that
// cannot keep up reconnects with a fresh state snapshot.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	// DETERMINISM: sort by client id for consistent delivery order.
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.PushClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped slow dashboard clients")
	}

	metrics.PushMessagesSent.WithLabelValues(message.Type).Add(float64(len(clients) - len(toRemove)))
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.PushClients.Set(0)
	logging.Info().
		Str("component", "push-hub").
		Int("clients_closed", len(clients)).
		Msg("push hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastMarkerDelta pushes one marker mutation. Wired as the
// reconciler's delta callback.
func (h *Hub) BroadcastMarkerDelta(d reconcile.Delta) {
	h.send(Message{Type: MessageTypeMarkerDelta, Data: d})
}

// LayerChangeData describes an overlay layer visibility change.
type LayerChangeData struct {
	Layer   string `json:"layer"`
	Visible bool   `json:"visible"`
}

// BroadcastLayerChange pushes an overlay visibility change.
func (h *Hub) BroadcastLayerChange(layer string, visible bool) {
	h.send(Message{Type: MessageTypeLayerChange, Data: LayerChangeData{Layer: layer, Visible: visible}})
}

// StreamStatusData describes a live feed state transition.
type StreamStatusData struct {
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// BroadcastStreamStatus pushes a live feed state transition. Wired as the
// connector's state change callback.
func (h *Hub) BroadcastStreamStatus(state models.ConnectionState) {
	h.send(Message{Type: MessageTypeStreamStatus, Data: StreamStatusData{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Status:     string(state.Status),
		RetryCount: state.RetryCount,
		MaxRetries: state.MaxRetries,
	}})
}

// Broadcast pushes an arbitrary typed message to all clients.
func (h *Hub) Broadcast(messageType string, data any) {
	h.send(Message{Type: messageType, Data: data})
}

func (h *Hub) send(message Message) {
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", message.Type).
			Msg("broadcast channel full, dropping message")
	}
}
