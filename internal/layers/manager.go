// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package layers

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/geoscope/internal/models"
)

// LayerSettings configures one layer at construction.
type LayerSettings struct {
	Enabled     bool
	MinInterval time.Duration
}

// Manager owns the four overlay layers. It fans viewport settles out to
// them; each layer then proceeds independently.
type Manager struct {
	layers map[Kind]*Layer
}

// NewManager builds the overlay layers. sinks must provide a SourceSink per
// kind; settings may omit kinds, which then default to enabled with a 5s
// minimum interval.
func NewManager(fetcher Fetcher, sinks map[Kind]SourceSink, settings map[Kind]LayerSettings) *Manager {
	m := &Manager{layers: make(map[Kind]*Layer, len(Kinds))}
	for _, kind := range Kinds {
		s, ok := settings[kind]
		if !ok {
			s = LayerSettings{Enabled: true}
		}
		m.layers[kind] = newLayer(kind, fetcher, sinks[kind], s.Enabled, s.MinInterval)
	}
	return m
}

// Layer returns one layer's controller, nil for unknown kinds.
func (m *Manager) Layer(kind Kind) *Layer {
	return m.layers[kind]
}

// RefreshAll fans a settled viewport out to every layer. Layers refresh
// concurrently and independently; RefreshAll returns when all have finished
// or skipped.
func (m *Manager) RefreshAll(ctx context.Context, bounds models.BBox, zoom float64, tf models.TimeFilter) {
	var wg sync.WaitGroup
	for _, l := range m.layers {
		wg.Add(1)
		go func(l *Layer) {
			defer wg.Done()
			l.Refresh(ctx, bounds, zoom, tf)
		}(l)
	}
	wg.Wait()
}

// RestoreAll re-applies last-known-good data on every enabled layer, in
// render order. Used after a theme swap.
func (m *Manager) RestoreAll() {
	for _, kind := range Kinds {
		m.layers[kind].Restore()
	}
}

// Visibility reports the enabled state of every layer.
func (m *Manager) Visibility() map[Kind]bool {
	out := make(map[Kind]bool, len(m.layers))
	for kind, l := range m.layers {
		out[kind] = l.Enabled()
	}
	return out
}
