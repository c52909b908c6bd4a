// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package reconcile maintains the primary marker layer by diffing desired
// entity sets against currently rendered markers.
//
// DETERMINISM: reconciliation is a pure function of (rendered set, desired
// set, zoom). Applying the same desired set twice performs zero marker
// operations on the second pass. An entity present in consecutive desired
// sets keeps its marker handle for its entire continuous lifetime; position
// and payload changes mutate the existing handle, they never recreate it.
package reconcile

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/metrics"
	"github.com/tomtom215/geoscope/internal/models"
)

// DefaultZoomThreshold is the zoom at or above which entities render
// individually instead of through backend aggregation.
const DefaultZoomThreshold = 9.0

// DefaultTransientTTL is how long a stream-injected entity stays rendered
// before the sweeper removes it.
const DefaultTransientTTL = 30 * time.Second

// DeltaOp identifies a marker mutation for downstream consumers.
type DeltaOp string

const (
	DeltaCreated DeltaOp = "created"
	DeltaUpdated DeltaOp = "updated"
	DeltaRemoved DeltaOp = "removed"
)

// Delta describes one marker mutation. The push hub fans these out to
// connected dashboards.
type Delta struct {
	Op       DeltaOp         `json:"op"`
	ID       models.EntityID `json:"id"`
	Position models.LatLng   `json:"position"`
}

// Stats summarizes one reconciliation pass.
type Stats struct {
	Created int
	Updated int
	Removed int
	Mode    Mode
}

// Options configures a Reconciler. Zero values take defaults.
type Options struct {
	// ZoomThreshold separates aggregate from individual rendering.
	ZoomThreshold float64

	// TransientTTL bounds the lifetime of stream-injected entities.
	TransientTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Reconciler owns the primary layer marker registry. All marker creation,
// mutation, and destruction for that layer flows through it; no other
// component holds marker handles.
type Reconciler struct {
	mu sync.Mutex

	factory   MarkerFactory
	events    MarkerEvents
	threshold float64
	ttl       time.Duration
	now       func() time.Time

	mode     Mode
	rendered map[models.EntityID]*RenderedMarker

	// desired is the last fetch-derived entity set, kept so transient
	// arrivals and expiries can adjust markers without a full pass.
	desired map[models.EntityID]models.Entity

	transients map[models.EntityID]models.TransientEntity

	// children are expansion-owned markers in a separate namespace; they
	// never participate in the desired-set diff.
	children map[models.EntityID]*RenderedMarker

	onDelta func(Delta)
}

// New creates a Reconciler rendering through the given factory.
func New(factory MarkerFactory, opts Options) *Reconciler {
	if opts.ZoomThreshold == 0 {
		opts.ZoomThreshold = DefaultZoomThreshold
	}
	if opts.TransientTTL <= 0 {
		opts.TransientTTL = DefaultTransientTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		factory:    factory,
		threshold:  opts.ZoomThreshold,
		ttl:        opts.TransientTTL,
		now:        opts.Now,
		mode:       ModeAggregate,
		rendered:   make(map[models.EntityID]*RenderedMarker),
		desired:    make(map[models.EntityID]models.Entity),
		transients: make(map[models.EntityID]models.TransientEntity),
		children:   make(map[models.EntityID]*RenderedMarker),
	}
}

// SetEvents installs the interaction handlers bound to every marker at
// creation. Call before the first Apply.
func (r *Reconciler) SetEvents(events MarkerEvents) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = events
}

// SetDeltaFunc installs a callback invoked for every marker mutation. The
// callback runs outside the reconciler lock.
func (r *Reconciler) SetDeltaFunc(fn func(Delta)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDelta = fn
}

// Mode returns the current rendering mode.
func (r *Reconciler) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// RenderedCount returns the number of primary-layer markers.
func (r *Reconciler) RenderedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rendered)
}

// RenderedIDs returns the sorted identities of all primary-layer markers.
func (r *Reconciler) RenderedIDs() []models.EntityID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]models.EntityID, 0, len(r.rendered))
	for id := range r.rendered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Desired returns the last fetch-derived entity set, sorted by ID. The style
// switcher snapshots it before a theme swap.
func (r *Reconciler) Desired() []models.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Entity, 0, len(r.desired))
	for _, e := range r.desired {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply reconciles the rendered marker set against a fetch-derived desired
// set at the given zoom. In aggregate mode all individual markers are
// destroyed and rendering is delegated to the clustering layer; in
// individual mode the desired set is the union of fetched entities and live,
// non-expired transients.
func (r *Reconciler) Apply(entities []models.Entity, zoom float64) Stats {
	r.mu.Lock()

	mode := ModeForZoom(zoom, r.threshold)
	if mode != r.mode {
		metrics.ModeSwitches.Inc()
		logging.Debug().
			Str("from", string(r.mode)).
			Str("to", string(mode)).
			Float64("zoom", zoom).
			Msg("render mode switch")
		r.mode = mode
	}

	r.desired = make(map[models.EntityID]models.Entity, len(entities))
	for _, e := range entities {
		r.desired[e.ID] = e
	}

	var stats Stats
	stats.Mode = mode
	var deltas []Delta

	if mode == ModeAggregate {
		for id, m := range r.rendered {
			m.Handle.Destroy()
			delete(r.rendered, id)
			stats.Removed++
			deltas = append(deltas, Delta{Op: DeltaRemoved, ID: id})
		}
	} else {
		want := make(map[models.EntityID]models.Entity, len(r.desired)+len(r.transients))
		for id, e := range r.desired {
			want[id] = e
		}
		now := r.now()
		for id, te := range r.transients {
			if te.Expired(now) {
				continue
			}
			// Fetched entities are authoritative over their transient echo.
			if _, ok := want[id]; !ok {
				want[id] = te.Entity
			}
		}

		for id, e := range want {
			if m, ok := r.rendered[id]; ok {
				if r.updateMarker(m, e) {
					stats.Updated++
					deltas = append(deltas, Delta{Op: DeltaUpdated, ID: id, Position: e.Position})
				}
				continue
			}
			r.createMarker(e, mode)
			stats.Created++
			deltas = append(deltas, Delta{Op: DeltaCreated, ID: id, Position: e.Position})
		}

		for id, m := range r.rendered {
			if _, ok := want[id]; ok {
				continue
			}
			m.Handle.Destroy()
			delete(r.rendered, id)
			stats.Removed++
			deltas = append(deltas, Delta{Op: DeltaRemoved, ID: id})
		}
	}

	metrics.ReconcileOps.WithLabelValues("create").Add(float64(stats.Created))
	metrics.ReconcileOps.WithLabelValues("update").Add(float64(stats.Updated))
	metrics.ReconcileOps.WithLabelValues("remove").Add(float64(stats.Removed))
	metrics.MarkersRendered.Set(float64(len(r.rendered)))

	onDelta := r.onDelta
	r.mu.Unlock()

	if onDelta != nil {
		for _, d := range deltas {
			onDelta(d)
		}
	}
	return stats
}

// InjectTransient adds a stream-sourced entity with the configured TTL. In
// individual mode the marker appears immediately; in aggregate mode the
// entity is tracked but not rendered.
func (r *Reconciler) InjectTransient(e models.Entity) {
	r.mu.Lock()

	r.transients[e.ID] = models.TransientEntity{
		Entity:    e,
		ExpiresAt: r.now().Add(r.ttl),
	}

	var delta *Delta
	if r.mode == ModeIndividual {
		if _, fetched := r.desired[e.ID]; !fetched {
			if m, ok := r.rendered[e.ID]; ok {
				if r.updateMarker(m, e) {
					delta = &Delta{Op: DeltaUpdated, ID: e.ID, Position: e.Position}
					metrics.ReconcileOps.WithLabelValues("update").Inc()
				}
			} else {
				r.createMarker(e, r.mode)
				delta = &Delta{Op: DeltaCreated, ID: e.ID, Position: e.Position}
				metrics.ReconcileOps.WithLabelValues("create").Inc()
				metrics.MarkersRendered.Set(float64(len(r.rendered)))
			}
		}
	}

	onDelta := r.onDelta
	r.mu.Unlock()

	if onDelta != nil && delta != nil {
		onDelta(*delta)
	}
}

// SweepExpired removes transients whose TTL has elapsed, destroying their
// markers unless a fetch has since made the same identity persistent.
// Returns the number of expired transients.
func (r *Reconciler) SweepExpired() int {
	r.mu.Lock()

	now := r.now()
	var deltas []Delta
	expired := 0

	for id, te := range r.transients {
		if !te.Expired(now) {
			continue
		}
		delete(r.transients, id)
		expired++

		if _, fetched := r.desired[id]; fetched {
			continue
		}
		if m, ok := r.rendered[id]; ok {
			m.Handle.Destroy()
			delete(r.rendered, id)
			metrics.ReconcileOps.WithLabelValues("remove").Inc()
			deltas = append(deltas, Delta{Op: DeltaRemoved, ID: id})
		}
	}

	if expired > 0 {
		metrics.TransientExpired.Add(float64(expired))
		metrics.MarkersRendered.Set(float64(len(r.rendered)))
	}

	onDelta := r.onDelta
	r.mu.Unlock()

	if onDelta != nil {
		for _, d := range deltas {
			onDelta(d)
		}
	}
	return expired
}

// RunSweeper sweeps expired transients on a fixed interval until the context
// is cancelled. Suitable as a supervised service loop.
func (r *Reconciler) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := r.SweepExpired(); n > 0 {
				logging.Debug().Int("expired", n).Msg("transient sweep")
			}
		}
	}
}

// AddChild renders an expansion-owned marker. Children live in their own
// namespace and survive reconciliation passes until ClearChildren.
func (r *Reconciler) AddChild(e models.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.children[e.ID]; ok {
		r.updateMarker(m, e)
		return
	}
	handle := r.factory.Create(e, r.events)
	r.children[e.ID] = &RenderedMarker{
		EntityID:  e.ID,
		Handle:    handle,
		Mode:      r.mode,
		CreatedAt: r.now(),
	}
}

// ChildCount returns the number of expansion-owned markers.
func (r *Reconciler) ChildCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.children)
}

// ClearChildren destroys all expansion-owned markers.
func (r *Reconciler) ClearChildren() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, m := range r.children {
		m.Handle.Destroy()
		delete(r.children, id)
	}
}

// InvalidateAll forgets every rendered handle without destroying it. A theme
// swap has already destroyed the underlying objects; the next Apply recreates
// markers from the desired set.
func (r *Reconciler) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rendered = make(map[models.EntityID]*RenderedMarker)
	r.children = make(map[models.EntityID]*RenderedMarker)
	metrics.MarkersRendered.Set(0)
}

// createMarker must be called with the lock held.
func (r *Reconciler) createMarker(e models.Entity, mode Mode) {
	handle := r.factory.Create(e, r.events)
	r.rendered[e.ID] = &RenderedMarker{
		EntityID:  e.ID,
		Handle:    handle,
		Mode:      mode,
		CreatedAt: r.now(),
		Position:  e.Position,
		Payload:   e.Payload,
	}
}

// updateMarker mutates an existing handle in place. Returns true if anything
// changed. Must be called with the lock held.
func (r *Reconciler) updateMarker(m *RenderedMarker, e models.Entity) bool {
	changed := false
	// Position comparison is exact: sources echo unchanged coordinates
	// bit-identically, so float equality is the correct no-op test.
	if m.Position != e.Position {
		m.Handle.Move(e.Position)
		m.Position = e.Position
		changed = true
	}
	if !reflect.DeepEqual(m.Payload, e.Payload) {
		m.Handle.SetPayload(e.Payload)
		m.Payload = e.Payload
		changed = true
	}
	return changed
}
