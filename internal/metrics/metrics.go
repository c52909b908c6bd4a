// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package metrics provides Prometheus collectors for the viewport engine.
//
// Collectors are package-level promauto variables exposed at /metrics by the
// daemon. Components record into them directly; nothing here is stateful
// beyond the Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch metrics
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoscope_fetches_total",
			Help: "Total bounded feature fetches issued",
		},
		[]string{"source", "outcome"}, // source: primary|heatmap|trajectories|vessels|verified_events; outcome: ok|error|stale
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoscope_fetch_duration_seconds",
			Help:    "Bounded feature fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	StaleResponsesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoscope_stale_responses_discarded_total",
			Help: "Responses discarded because a newer fetch superseded them",
		},
		[]string{"source"},
	)

	ContractViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoscope_contract_violations_total",
			Help: "Features skipped for missing identity or malformed geometry",
		},
	)

	// Reconciler metrics
	MarkersRendered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoscope_markers_rendered",
			Help: "Markers currently rendered on the primary layer",
		},
	)

	ReconcileOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoscope_reconcile_ops_total",
			Help: "Marker operations performed by reconciliation passes",
		},
		[]string{"op"}, // create|update|remove
	)

	ModeSwitches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoscope_mode_switches_total",
			Help: "Transitions between aggregate and individual rendering modes",
		},
	)

	TransientExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoscope_transient_expired_total",
			Help: "Stream-sourced entities removed by TTL sweeps",
		},
	)

	// Live feed metrics
	StreamState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoscope_stream_state",
			Help: "Live feed state: 0=disconnected 1=connecting 2=connected 3=error 4=failed",
		},
	)

	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoscope_stream_reconnects_total",
			Help: "Automatic reconnect attempts against the live feed",
		},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoscope_stream_messages_total",
			Help: "Messages received from the live feed",
		},
		[]string{"outcome"}, // applied|skipped
	)

	// Layer metrics
	LayerBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoscope_layer_breaker_state",
			Help: "Per-layer circuit breaker state: 0=closed 1=open 2=half-open",
		},
		[]string{"layer"},
	)

	LayerSourceSwaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoscope_layer_source_swaps_total",
			Help: "Atomic source replacements per overlay layer",
		},
		[]string{"layer"},
	)

	// Expansion metrics
	ClusterExpansions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoscope_cluster_expansions_total",
			Help: "Cluster expansion attempts",
		},
		[]string{"outcome"}, // ok|error|empty|superseded
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoscope_cache_hits_total",
			Help: "Feature cache hits",
		},
		[]string{"tier"}, // lru|badger
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoscope_cache_misses_total",
			Help: "Feature cache misses",
		},
	)

	// Push metrics
	PushClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoscope_push_clients",
			Help: "Dashboard clients connected to the push hub",
		},
	)

	PushMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoscope_push_messages_sent_total",
			Help: "Messages broadcast to dashboard clients",
		},
		[]string{"type"},
	)
)

// StreamStateValue maps a connection status string onto the gauge encoding.
func StreamStateValue(status string) float64 {
	switch status {
	case "connecting":
		return 1
	case "connected":
		return 2
	case "error":
		return 3
	case "failed":
		return 4
	default:
		return 0
	}
}
