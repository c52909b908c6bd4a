// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/geoscope/internal/models"
)

// fakeMarker records every operation applied to it.
type fakeMarker struct {
	mu        sync.Mutex
	id        models.EntityID
	position  models.LatLng
	moves     int
	payloads  int
	destroyed bool
	events    MarkerEvents
	binds     int
}

func (m *fakeMarker) Move(pos models.LatLng) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = pos
	m.moves++
}

func (m *fakeMarker) SetPayload(map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads++
}

func (m *fakeMarker) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
}

// fakeFactory tracks every marker ever created, including destroyed ones, so
// tests can prove an identity was never recreated.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeMarker
}

func (f *fakeFactory) Create(e models.Entity, events MarkerEvents) MarkerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &fakeMarker{id: e.ID, position: e.Position, events: events, binds: 1}
	f.created = append(f.created, m)
	return m
}

func (f *fakeFactory) createdFor(id models.EntityID) []*fakeMarker {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeMarker
	for _, m := range f.created {
		if m.id == id {
			out = append(out, m)
		}
	}
	return out
}

// mockClock is an adjustable time source.
type mockClock struct {
	mu sync.Mutex
	t  time.Time
}

func newMockClock() *mockClock {
	return &mockClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func entity(id string, lat, lng float64) models.Entity {
	return models.Entity{
		ID:       models.EntityID(id),
		Position: models.LatLng{Lat: lat, Lng: lng},
	}
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeFactory, *mockClock) {
	t.Helper()
	f := &fakeFactory{}
	clock := newMockClock()
	r := New(f, Options{Now: clock.Now})
	return r, f, clock
}

func TestApply_SecondIdenticalPassIsNoOp(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestReconciler(t)

	desired := []models.Entity{entity("a", 48, 35), entity("b", 49, 36)}

	first := r.Apply(desired, 10)
	if first.Created != 2 || first.Updated != 0 || first.Removed != 0 {
		t.Fatalf("first pass = %+v, want 2 creates", first)
	}

	second := r.Apply(desired, 10)
	if second.Created != 0 || second.Updated != 0 || second.Removed != 0 {
		t.Errorf("second identical pass = %+v, want all zero", second)
	}
}

func TestApply_PositionChangeMovesWithoutRecreate(t *testing.T) {
	t.Parallel()
	r, f, _ := newTestReconciler(t)

	r.Apply([]models.Entity{entity("a", 48, 35)}, 10)
	r.Apply([]models.Entity{entity("a", 48.5, 35.5)}, 10)
	r.Apply([]models.Entity{entity("a", 49, 36)}, 10)

	handles := f.createdFor("a")
	if len(handles) != 1 {
		t.Fatalf("handles created for 'a' = %d, want exactly 1", len(handles))
	}
	m := handles[0]
	if m.destroyed {
		t.Error("continuously present entity must not be destroyed")
	}
	if m.moves != 2 {
		t.Errorf("moves = %d, want 2", m.moves)
	}
	if m.position != (models.LatLng{Lat: 49, Lng: 36}) {
		t.Errorf("final position = %+v", m.position)
	}
}

func TestApply_PayloadChangeUpdatesInPlace(t *testing.T) {
	t.Parallel()
	r, f, _ := newTestReconciler(t)

	e := entity("a", 48, 35)
	e.Payload = map[string]any{"confidence": 0.4}
	r.Apply([]models.Entity{e}, 10)

	e.Payload = map[string]any{"confidence": 0.9}
	stats := r.Apply([]models.Entity{e}, 10)
	if stats.Updated != 1 || stats.Created != 0 {
		t.Fatalf("stats = %+v, want 1 update", stats)
	}

	handles := f.createdFor("a")
	if len(handles) != 1 {
		t.Fatalf("handles = %d, want 1", len(handles))
	}
	if handles[0].payloads != 1 {
		t.Errorf("SetPayload calls = %d, want 1 (initial payload travels with Create)", handles[0].payloads)
	}
}

func TestApply_RemovesDeparted(t *testing.T) {
	t.Parallel()
	r, f, _ := newTestReconciler(t)

	r.Apply([]models.Entity{entity("a", 48, 35), entity("b", 49, 36)}, 10)
	stats := r.Apply([]models.Entity{entity("b", 49, 36)}, 10)

	if stats.Removed != 1 {
		t.Fatalf("removed = %d, want 1", stats.Removed)
	}
	if !f.createdFor("a")[0].destroyed {
		t.Error("departed entity's marker must be destroyed")
	}
	if f.createdFor("b")[0].destroyed {
		t.Error("surviving entity's marker must not be destroyed")
	}
}

func TestApply_AggregateModeClearsIndividualMarkers(t *testing.T) {
	t.Parallel()
	r, f, _ := newTestReconciler(t)

	desired := []models.Entity{entity("a", 48, 35), entity("b", 49, 36)}
	r.Apply(desired, 10)
	if r.RenderedCount() != 2 {
		t.Fatalf("rendered = %d, want 2", r.RenderedCount())
	}

	// Zoom below the threshold: clustering takes over, markers go away.
	stats := r.Apply(desired, 8)
	if stats.Mode != ModeAggregate {
		t.Fatalf("mode = %s, want aggregate", stats.Mode)
	}
	if stats.Removed != 2 || r.RenderedCount() != 0 {
		t.Errorf("removed = %d rendered = %d, want 2 and 0", stats.Removed, r.RenderedCount())
	}

	// Crossing back recreates them; handles are fresh by necessity.
	stats = r.Apply(desired, 9)
	if stats.Mode != ModeIndividual || stats.Created != 2 {
		t.Errorf("return to individual = %+v, want 2 creates", stats)
	}
	if got := len(f.createdFor("a")); got != 2 {
		t.Errorf("total handles for 'a' = %d, want 2 across the mode round trip", got)
	}
}

func TestApply_ThresholdBoundaryIsIndividual(t *testing.T) {
	t.Parallel()

	if ModeForZoom(9, DefaultZoomThreshold) != ModeIndividual {
		t.Error("zoom exactly at threshold must render individually")
	}
	if ModeForZoom(8.999, DefaultZoomThreshold) != ModeAggregate {
		t.Error("zoom just below threshold must aggregate")
	}
}

func TestInjectTransient_RendersImmediatelyInIndividualMode(t *testing.T) {
	t.Parallel()
	r, f, _ := newTestReconciler(t)

	r.Apply(nil, 10)
	r.InjectTransient(entity("live-1", 48, 35))

	if r.RenderedCount() != 1 {
		t.Fatalf("rendered = %d, want 1", r.RenderedCount())
	}
	if len(f.createdFor("live-1")) != 1 {
		t.Error("transient should create a marker immediately")
	}
}

func TestInjectTransient_NotRenderedInAggregateMode(t *testing.T) {
	t.Parallel()
	r, f, _ := newTestReconciler(t)

	r.Apply(nil, 5)
	r.InjectTransient(entity("live-1", 48, 35))

	if r.RenderedCount() != 0 {
		t.Errorf("rendered = %d, want 0 in aggregate mode", r.RenderedCount())
	}
	if len(f.createdFor("live-1")) != 0 {
		t.Error("no marker may be created in aggregate mode")
	}
}

func TestSweepExpired_RemovesAtTTL(t *testing.T) {
	t.Parallel()
	r, f, clock := newTestReconciler(t)

	r.Apply(nil, 10)
	r.InjectTransient(entity("live-1", 48, 35))

	clock.Advance(DefaultTransientTTL - time.Second)
	if n := r.SweepExpired(); n != 0 {
		t.Fatalf("sweep before TTL expired %d, want 0", n)
	}
	if r.RenderedCount() != 1 {
		t.Fatal("marker must survive until TTL")
	}

	clock.Advance(time.Second)
	if n := r.SweepExpired(); n != 1 {
		t.Fatalf("sweep at TTL expired %d, want 1", n)
	}
	if r.RenderedCount() != 0 {
		t.Error("marker must be gone after TTL")
	}
	if !f.createdFor("live-1")[0].destroyed {
		t.Error("expired transient's handle must be destroyed")
	}
}

func TestSweepExpired_FetchedIdentitySurvivesTransientExpiry(t *testing.T) {
	t.Parallel()
	r, f, clock := newTestReconciler(t)

	r.Apply(nil, 10)
	r.InjectTransient(entity("e1", 48, 35))

	// A later fetch confirms the same identity as persistent.
	r.Apply([]models.Entity{entity("e1", 48, 35)}, 10)

	clock.Advance(DefaultTransientTTL + time.Second)
	r.SweepExpired()

	if r.RenderedCount() != 1 {
		t.Fatal("fetch-confirmed entity must survive its transient echo expiring")
	}
	if f.createdFor("e1")[0].destroyed {
		t.Error("handle must not be destroyed")
	}
}

func TestEventsAttachedOnceAtCreation(t *testing.T) {
	t.Parallel()
	r, f, _ := newTestReconciler(t)

	var clicks int
	r.SetEvents(MarkerEvents{OnClick: func(models.EntityID) { clicks++ }})

	r.Apply([]models.Entity{entity("a", 48, 35)}, 10)
	for i := 0; i < 5; i++ {
		r.Apply([]models.Entity{entity("a", 48, 35+float64(i))}, 10)
	}

	handles := f.createdFor("a")
	if len(handles) != 1 {
		t.Fatalf("handles = %d, want 1", len(handles))
	}
	m := handles[0]
	if m.binds != 1 {
		t.Errorf("event bindings = %d, want exactly 1", m.binds)
	}
	m.events.OnClick("a")
	if clicks != 1 {
		t.Errorf("click handler fired %d times, want 1", clicks)
	}
}

func TestChildNamespaceIndependentOfApply(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestReconciler(t)

	r.Apply([]models.Entity{entity("a", 48, 35)}, 10)
	r.AddChild(entity("c:1:m1", 48.001, 35.001))
	r.AddChild(entity("c:1:m2", 48.002, 35.002))

	// A reconciliation pass must not touch expansion-owned markers.
	r.Apply([]models.Entity{entity("a", 48, 35)}, 10)
	if r.ChildCount() != 2 {
		t.Fatalf("children after pass = %d, want 2", r.ChildCount())
	}

	r.ClearChildren()
	if r.ChildCount() != 0 {
		t.Errorf("children after clear = %d, want 0", r.ChildCount())
	}
}

func TestDeltasEmittedForMutations(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestReconciler(t)

	var mu sync.Mutex
	byOp := map[DeltaOp]int{}
	r.SetDeltaFunc(func(d Delta) {
		mu.Lock()
		defer mu.Unlock()
		byOp[d.Op]++
	})

	r.Apply([]models.Entity{entity("a", 48, 35), entity("b", 49, 36)}, 10)
	r.Apply([]models.Entity{entity("a", 48.5, 35)}, 10)

	mu.Lock()
	defer mu.Unlock()
	if byOp[DeltaCreated] != 2 || byOp[DeltaUpdated] != 1 || byOp[DeltaRemoved] != 1 {
		t.Errorf("deltas = %v, want 2 created / 1 updated / 1 removed", byOp)
	}
}
