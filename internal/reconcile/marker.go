// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package reconcile

import (
	"time"

	"github.com/tomtom215/geoscope/internal/models"
)

// MarkerHandle abstracts one rendered marker in the underlying rendering
// library. The reconciliation algorithm depends only on this interface, never
// on the library itself.
type MarkerHandle interface {
	// Move repositions the marker without recreating it.
	Move(pos models.LatLng)

	// SetPayload updates the marker's bound data in place.
	SetPayload(payload map[string]any)

	// Destroy removes the marker from the map. The handle is dead afterwards.
	Destroy()
}

// MarkerEvents carries the interaction handlers attached exactly once at
// marker creation. They are never reattached on updates.
type MarkerEvents struct {
	OnClick func(id models.EntityID)
	OnHover func(id models.EntityID)
}

// MarkerFactory creates rendering-library marker handles.
type MarkerFactory interface {
	Create(entity models.Entity, events MarkerEvents) MarkerHandle
}

// Mode is the primary layer's rendering strategy.
type Mode string

const (
	// ModeAggregate delegates rendering to the clustering layer; no
	// per-entity markers exist.
	ModeAggregate Mode = "aggregate"

	// ModeIndividual renders one marker per desired entity.
	ModeIndividual Mode = "individual"
)

// ModeForZoom selects the rendering mode for a zoom level against a
// threshold.
func ModeForZoom(zoom, threshold float64) Mode {
	if zoom >= threshold {
		return ModeIndividual
	}
	return ModeAggregate
}

// RenderedMarker pairs a stable entity identity with its live handle. Owned
// exclusively by the Reconciler; other components reach it only through the
// Reconciler's API.
type RenderedMarker struct {
	EntityID  models.EntityID
	Handle    MarkerHandle
	Mode      Mode
	CreatedAt time.Time

	// Position and Payload mirror the state last pushed to the handle, so a
	// pass can tell a real change from a no-op.
	Position models.LatLng
	Payload  map[string]any
}
