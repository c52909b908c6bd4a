// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package viewport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/geoscope/internal/models"
)

var testBounds = models.BBox{South: 44, West: 22, North: 53, East: 42}

func TestMoveCamera_CoalescesIntoOneSettle(t *testing.T) {
	t.Parallel()

	c := NewController(50*time.Millisecond, models.Viewport{})
	defer c.Close()

	var settles atomic.Int32
	var lastZoom atomic.Value
	c.OnSettled(func(_ models.BBox, zoom float64) {
		settles.Add(1)
		lastZoom.Store(zoom)
	})

	// Rapid movements inside the quiet window must coalesce.
	for i := 0; i < 5; i++ {
		c.MoveCamera(models.LatLng{Lat: 48, Lng: 35}, float64(6+i), testBounds)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)

	if got := settles.Load(); got != 1 {
		t.Fatalf("settle count = %d, want 1", got)
	}
	// The settle must carry the final camera state, not an intermediate one.
	if z := lastZoom.Load().(float64); z != 10 {
		t.Errorf("settled zoom = %f, want 10", z)
	}
}

func TestMoveCamera_SeparateQuietPeriodsSettleSeparately(t *testing.T) {
	t.Parallel()

	c := NewController(30*time.Millisecond, models.Viewport{})
	defer c.Close()

	var settles atomic.Int32
	c.OnSettled(func(models.BBox, float64) { settles.Add(1) })

	c.MoveCamera(models.LatLng{}, 6, testBounds)
	time.Sleep(100 * time.Millisecond)
	c.MoveCamera(models.LatLng{}, 10, testBounds)
	time.Sleep(100 * time.Millisecond)

	if got := settles.Load(); got != 2 {
		t.Fatalf("settle count = %d, want 2", got)
	}
}

func TestViewportStateUpdatesImmediately(t *testing.T) {
	t.Parallel()

	c := NewController(time.Hour, models.Viewport{})
	defer c.Close()

	c.MoveCamera(models.LatLng{Lat: 48.5, Lng: 35}, 12, testBounds)

	vp := c.Viewport()
	if vp.Zoom != 12 {
		t.Errorf("Zoom = %f, want 12 before settle", vp.Zoom)
	}
	if vp.Bounds != testBounds {
		t.Errorf("Bounds = %+v, want %+v", vp.Bounds, testBounds)
	}
}

func TestClose_SuppressesPendingSettle(t *testing.T) {
	t.Parallel()

	c := NewController(30*time.Millisecond, models.Viewport{})

	var settles atomic.Int32
	c.OnSettled(func(models.BBox, float64) { settles.Add(1) })

	c.MoveCamera(models.LatLng{}, 6, testBounds)
	c.Close()
	time.Sleep(100 * time.Millisecond)

	if got := settles.Load(); got != 0 {
		t.Fatalf("settle count after Close = %d, want 0", got)
	}
}
