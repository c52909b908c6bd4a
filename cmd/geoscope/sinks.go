// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package main

import (
	"sync"

	geojson "github.com/paulmach/go.geojson"

	"github.com/tomtom215/geoscope/internal/models"
	"github.com/tomtom215/geoscope/internal/push"
	"github.com/tomtom215/geoscope/internal/reconcile"
)

// The daemon holds the authoritative render state; the actual drawing
// happens in connected dashboards, fed through the push hub. The sinks here
// are the server-side halves of those rendering surfaces.

// stateMarker is a server-side marker handle. Mutations are observable
// through the reconciler's delta stream; the handle itself only tracks
// liveness.
type stateMarker struct{}

func (stateMarker) Move(models.LatLng)        {}
func (stateMarker) SetPayload(map[string]any) {}
func (stateMarker) Destroy()                  {}

// stateFactory creates server-side marker handles.
type stateFactory struct{}

func (stateFactory) Create(models.Entity, reconcile.MarkerEvents) reconcile.MarkerHandle {
	return stateMarker{}
}

// layerSink holds one overlay layer's current data and pushes swaps to the
// dashboards.
type layerSink struct {
	kind string
	hub  *push.Hub

	mu   sync.Mutex
	data *geojson.FeatureCollection
}

func newLayerSink(kind string, hub *push.Hub) *layerSink {
	return &layerSink{kind: kind, hub: hub}
}

func (s *layerSink) SetData(fc *geojson.FeatureCollection) {
	s.mu.Lock()
	s.data = fc
	s.mu.Unlock()
	s.hub.Broadcast("layer_data", map[string]any{"layer": s.kind, "data": fc})
}

func (s *layerSink) Clear() {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	s.hub.Broadcast("layer_data", map[string]any{"layer": s.kind, "data": nil})
}

// lineBroadcaster pushes expansion indicator lines to the dashboards.
type lineBroadcaster struct {
	hub *push.Hub
}

type indicatorLine struct {
	ID   string        `json:"id"`
	From models.LatLng `json:"from"`
	To   models.LatLng `json:"to"`
}

func (l *lineBroadcaster) AddLine(id string, from, to models.LatLng) {
	l.hub.Broadcast("expansion_line", indicatorLine{ID: id, From: from, To: to})
}

func (l *lineBroadcaster) RemoveAll() {
	l.hub.Broadcast("expansion_clear", nil)
}

// themeTarget applies theme swaps by instructing the dashboards and
// restoring the camera afterwards.
type themeTarget struct {
	hub *push.Hub
}

func (t *themeTarget) ApplyTheme(theme string) error {
	t.hub.Broadcast("theme", map[string]any{"theme": theme})
	return nil
}

func (t *themeTarget) SetCamera(vp models.Viewport) {
	t.hub.Broadcast("camera", vp)
}
