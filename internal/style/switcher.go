// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package style swaps map themes without losing view state.
//
// Applying a theme destroys every style source and marker on the rendering
// side. The switcher snapshots what must survive before the swap and
// restores it in a fixed order afterwards: camera first, then layer sources,
// then one reconciliation pass to recreate the markers.
package style

import (
	"fmt"
	"sync"

	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/models"
	"github.com/tomtom215/geoscope/internal/reconcile"
)

// ThemeTarget is the rendering side of a theme swap.
type ThemeTarget interface {
	// ApplyTheme loads a new base style, destroying all sources and markers.
	ApplyTheme(theme string) error

	// SetCamera restores the camera after a swap.
	SetCamera(vp models.Viewport)
}

// ViewportSource provides the camera state to snapshot.
type ViewportSource interface {
	Viewport() models.Viewport
}

// MarkerState is the reconciler surface the switcher needs.
type MarkerState interface {
	Desired() []models.Entity
	InvalidateAll()
	Apply(entities []models.Entity, zoom float64) reconcile.Stats
}

// SourceRestorer re-applies overlay layer sources. Satisfied by the layer
// manager.
type SourceRestorer interface {
	RestoreAll()
}

// Collapser removes any open cluster expansion. Expansions do not survive a
// theme swap.
type Collapser interface {
	Collapse()
}

// Switcher coordinates theme swaps.
type Switcher struct {
	target    ThemeTarget
	camera    ViewportSource
	markers   MarkerState
	sources   SourceRestorer
	expansion Collapser

	mu    sync.Mutex
	theme string
}

// New creates a Switcher starting on the given theme. expansion may be nil.
func New(target ThemeTarget, camera ViewportSource, markers MarkerState, sources SourceRestorer, expansion Collapser, theme string) *Switcher {
	return &Switcher{
		target:    target,
		camera:    camera,
		markers:   markers,
		sources:   sources,
		expansion: expansion,
		theme:     theme,
	}
}

// Theme returns the active theme.
func (s *Switcher) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// Switch swaps to a new theme, preserving camera, layer data, and markers.
// Switching to the active theme is a no-op. On failure the previous theme
// remains active and nothing is restored.
func (s *Switcher) Switch(theme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if theme == s.theme {
		return nil
	}

	snapshot := s.camera.Viewport()
	desired := s.markers.Desired()

	if s.expansion != nil {
		s.expansion.Collapse()
	}

	if err := s.target.ApplyTheme(theme); err != nil {
		return fmt.Errorf("applying theme %q: %w", theme, err)
	}

	// Restore order matters: the camera must be in place before sources
	// repopulate, and markers recreate last against the settled view.
	s.target.SetCamera(snapshot)
	s.sources.RestoreAll()
	s.markers.InvalidateAll()
	stats := s.markers.Apply(desired, snapshot.Zoom)

	s.theme = theme
	logging.Info().Str("theme", theme).
		Int("markers", stats.Created).
		Msg("theme swapped")
	return nil
}
