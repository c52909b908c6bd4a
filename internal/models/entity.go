// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package models

import "time"

// EntityID is the stable, source-assigned identity of an entity. It is the
// reconciliation key: the same ID across fetches means the same rendered
// object.
type EntityID string

// Precision describes the positional confidence class of an entity.
type Precision string

const (
	PrecisionHigh   Precision = "high"
	PrecisionMedium Precision = "medium"
	PrecisionLow    Precision = "low"
)

// ParsePrecision maps a property value onto a Precision, defaulting to low
// for unknown values rather than rejecting the feature.
func ParsePrecision(s string) Precision {
	switch Precision(s) {
	case PrecisionHigh, PrecisionMedium:
		return Precision(s)
	default:
		return PrecisionLow
	}
}

// Entity is a point feature with stable identity.
type Entity struct {
	ID         EntityID       `json:"id"`
	Position   LatLng         `json:"position"`
	Precision  Precision      `json:"precision"`
	Confidence float64        `json:"confidence"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// TransientEntity is an Entity injected from the live stream. It is removed
// unconditionally once ExpiresAt passes, independent of viewport fetches.
type TransientEntity struct {
	Entity
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entity's TTL has elapsed at the given instant.
func (t TransientEntity) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ClusterTier classifies a cluster by member volume. Produced by the backend
// aggregation; the engine only passes it through to rendering.
type ClusterTier string

const (
	ClusterTierSmall  ClusterTier = "small"
	ClusterTierMedium ClusterTier = "medium"
	ClusterTierLarge  ClusterTier = "large"
)

// ClusterSummary is a backend-aggregated group of entities. Summaries are
// ephemeral: they are not persisted across fetches and carry no stable
// identity guarantees beyond a single response.
type ClusterSummary struct {
	ClusterID   string      `json:"cluster_id"`
	Centroid    LatLng      `json:"centroid"`
	MemberCount int         `json:"member_count"`
	Tier        ClusterTier `json:"tier"`
}

// FeatureSet is one decoded bounded-query response. Version is assigned by
// the issuing data source and compared at apply time to discard stale
// responses.
type FeatureSet struct {
	Version  uint64           `json:"version"`
	Entities []Entity         `json:"entities"`
	Clusters []ClusterSummary `json:"clusters"`
	// Skipped counts features dropped for contract violations.
	Skipped int `json:"skipped,omitempty"`
}

// TimeFilter bounds a query in time. Zero values mean unbounded.
type TimeFilter struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether no time bounds are set.
func (f TimeFilter) IsZero() bool {
	return f.Start.IsZero() && f.End.IsZero()
}

// ConnectionStatus enumerates the live feed connection states.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	// StatusFailed is terminal until a manual reconnect.
	StatusFailed ConnectionStatus = "failed"
)

// ConnectionState is the live feed connector's externally visible state.
type ConnectionState struct {
	Status     ConnectionStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
	MaxRetries int              `json:"max_retries"`
}
