// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package viewport owns the camera state and the settle debounce.
//
// Every camera-movement-end event restarts a quiet-period timer; only when
// the timer expires is the viewport declared settled and the subscribers
// notified exactly once. Movements inside the window coalesce into a single
// downstream fetch. There is no retry logic here, only event debouncing.
package viewport

import (
	"sync"
	"time"

	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/models"
)

// DefaultSettleDebounce is the quiet period before the viewport settles.
const DefaultSettleDebounce = 300 * time.Millisecond

// SettledFunc receives the settled bounds and zoom.
type SettledFunc func(bounds models.BBox, zoom float64)

// Controller owns the current camera state and emits debounced settle
// events. Safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	vp       models.Viewport
	debounce time.Duration
	timer    *time.Timer
	subs     []SettledFunc
	closed   bool
}

// NewController creates a controller with the given quiet period. A
// non-positive debounce falls back to the default.
func NewController(debounce time.Duration, initial models.Viewport) *Controller {
	if debounce <= 0 {
		debounce = DefaultSettleDebounce
	}
	return &Controller{
		vp:       initial,
		debounce: debounce,
	}
}

// OnSettled registers a subscriber invoked on every settle. Subscribers are
// called sequentially in registration order, outside the controller's lock.
func (c *Controller) OnSettled(fn SettledFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Viewport returns the current camera state.
func (c *Controller) Viewport() models.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vp
}

// MoveCamera records a camera-movement-end event and restarts the settle
// timer. The viewport state is updated immediately; the settle fires only
// after the quiet period passes with no further movement.
func (c *Controller) MoveCamera(center models.LatLng, zoom float64, bounds models.BBox) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.vp = models.Viewport{Center: center, Zoom: zoom, Bounds: bounds}

	if c.timer != nil {
		// Coalesce: movement within the window restarts the quiet period.
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.fireSettled)
}

// fireSettled snapshots the camera and notifies subscribers.
func (c *Controller) fireSettled() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	vp := c.vp
	subs := make([]SettledFunc, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	logging.Debug().
		Float64("zoom", vp.Zoom).
		Str("bounds", vp.Bounds.String()).
		Msg("viewport settled")

	for _, fn := range subs {
		fn(vp.Bounds, vp.Zoom)
	}
}

// Close stops any pending settle timer. Subsequent movements are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
