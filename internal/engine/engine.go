// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package engine wires the viewport pipeline together: camera settles drive
// versioned bounded fetches, fetch results drive marker reconciliation and
// overlay refreshes, and cluster interactions drive expansion.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	geojson "github.com/paulmach/go.geojson"

	"github.com/tomtom215/geoscope/internal/datasource"
	"github.com/tomtom215/geoscope/internal/layers"
	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/models"
	"github.com/tomtom215/geoscope/internal/reconcile"
	"github.com/tomtom215/geoscope/internal/spiderfy"
	"github.com/tomtom215/geoscope/internal/viewport"
)

// fetchTimeout bounds one settle-driven refresh cycle.
const fetchTimeout = 60 * time.Second

// Engine coordinates the viewport pipeline. Construct with New; camera
// movement enters through MoveCamera and everything downstream follows from
// settles.
type Engine struct {
	id string

	vp        *viewport.Controller
	primary   *datasource.Client
	rec       *reconcile.Reconciler
	expansion *spiderfy.Engine
	overlays  *layers.Manager

	// applyMu serializes the version check and the reconcile apply of each
	// primary fetch: without it an older response could pass the gate, lose
	// the scheduler, and render after a newer response already applied.
	applyMu sync.Mutex

	mu         sync.Mutex
	timeFilter models.TimeFilter
	clusters   map[string]models.ClusterSummary
}

// Options carries the engine's collaborators.
type Options struct {
	Viewport  *viewport.Controller
	Primary   *datasource.Client
	Reconcile *reconcile.Reconciler
	Expansion *spiderfy.Engine
	Overlays  *layers.Manager
}

// New wires an Engine and subscribes it to viewport settles.
func New(opts Options) *Engine {
	e := &Engine{
		id:        uuid.NewString(),
		vp:        opts.Viewport,
		primary:   opts.Primary,
		rec:       opts.Reconcile,
		expansion: opts.Expansion,
		overlays:  opts.Overlays,
		clusters:  make(map[string]models.ClusterSummary),
	}
	e.vp.OnSettled(e.onSettled)
	return e
}

// ID returns the engine instance id, minted at startup.
func (e *Engine) ID() string { return e.id }

// Viewport returns the current camera state.
func (e *Engine) Viewport() models.Viewport { return e.vp.Viewport() }

// MoveCamera reports a camera movement. State updates immediately; fetches
// wait for the settle debounce.
func (e *Engine) MoveCamera(center models.LatLng, zoom float64, bounds models.BBox) {
	e.vp.MoveCamera(center, zoom, bounds)
}

// SetTimeFilter changes the active time filter and refreshes the current
// viewport with it.
func (e *Engine) SetTimeFilter(tf models.TimeFilter) {
	e.mu.Lock()
	e.timeFilter = tf
	e.mu.Unlock()

	vp := e.vp.Viewport()
	e.onSettled(vp.Bounds, vp.Zoom)
}

// TimeFilter returns the active time filter.
func (e *Engine) TimeFilter() models.TimeFilter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeFilter
}

// WarmStart seeds the primary layer from the last-known-good cache for the
// initial viewport, before any fetch resolves. No-op on a cold cache.
func (e *Engine) WarmStart() {
	vp := e.vp.Viewport()
	fs, ok := e.primary.Cached(vp.Bounds, vp.Zoom)
	if !ok {
		return
	}

	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	stats := e.rec.Apply(fs.Entities, vp.Zoom)
	e.rememberClusters(fs.Clusters)
	logging.Info().
		Int("markers", stats.Created).
		Int("clusters", len(fs.Clusters)).
		Msg("warm start from cached feature set")
}

// onSettled runs on every viewport settle: the open expansion collapses,
// then the primary fetch and overlay refreshes proceed concurrently.
func (e *Engine) onSettled(bounds models.BBox, zoom float64) {
	e.expansion.Collapse()
	tf := e.TimeFilter()

	go e.refreshPrimary(bounds, zoom, tf)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		e.overlays.RefreshAll(ctx, bounds, zoom, tf)
	}()
}

// refreshPrimary fetches and applies the primary feature set. A response
// superseded by a newer settle is discarded; a failed fetch retains the
// prior render state.
func (e *Engine) refreshPrimary(bounds models.BBox, zoom float64, tf models.TimeFilter) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	fs, err := e.primary.FetchFeatures(ctx, bounds, zoom, tf)
	if err != nil {
		logging.Warn().Err(err).Msg("primary fetch failed, retaining prior state")
		return
	}

	// Gate and apply under one lock so responses render in version order.
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	if !e.primary.IsLatest(fs.Version) {
		e.primary.MarkStale(fs.Version)
		return
	}
	e.rec.Apply(fs.Entities, zoom)
	e.rememberClusters(fs.Clusters)
}

func (e *Engine) rememberClusters(clusters []models.ClusterSummary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clusters = make(map[string]models.ClusterSummary, len(clusters))
	for _, c := range clusters {
		e.clusters[c.ClusterID] = c
	}
}

// ExpandCluster opens a cluster from the most recent fetch. Unknown ids are
// ignored: the cluster was already superseded by a newer response.
func (e *Engine) ExpandCluster(ctx context.Context, clusterID string) error {
	e.mu.Lock()
	cluster, ok := e.clusters[clusterID]
	e.mu.Unlock()
	if !ok {
		logging.Debug().Str("cluster_id", clusterID).Msg("ignoring expansion of superseded cluster")
		return nil
	}
	return e.expansion.Expand(ctx, cluster, e.vp.Viewport().Zoom)
}

// RetryExpansion clears a cluster's memoized expansion error and refetches.
func (e *Engine) RetryExpansion(ctx context.Context, clusterID string) error {
	e.mu.Lock()
	cluster, ok := e.clusters[clusterID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return e.expansion.Retry(ctx, cluster, e.vp.Viewport().Zoom)
}

// CollapseExpansion closes any open expansion. Wired to outside clicks.
func (e *Engine) CollapseExpansion() {
	e.expansion.Collapse()
}

// Overlays returns the overlay layer manager.
func (e *Engine) Overlays() *layers.Manager { return e.overlays }

// Snapshot renders the current desired entity set and known clusters as a
// feature collection, for the state endpoint.
func (e *Engine) Snapshot() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, entity := range e.rec.Desired() {
		f := geojson.NewPointFeature([]float64{entity.Position.Lng, entity.Position.Lat})
		f.ID = string(entity.ID)
		f.SetProperty("id", string(entity.ID))
		f.SetProperty("precision", string(entity.Precision))
		if entity.Confidence > 0 {
			f.SetProperty("confidence", entity.Confidence)
		}
		fc.AddFeature(f)
	}

	e.mu.Lock()
	clusters := make([]models.ClusterSummary, 0, len(e.clusters))
	for _, c := range e.clusters {
		clusters = append(clusters, c)
	}
	e.mu.Unlock()

	for _, c := range clusters {
		f := geojson.NewPointFeature([]float64{c.Centroid.Lng, c.Centroid.Lat})
		f.ID = c.ClusterID
		f.SetProperty("cluster_id", c.ClusterID)
		f.SetProperty("member_count", c.MemberCount)
		f.SetProperty("tier", string(c.Tier))
		fc.AddFeature(f)
	}

	return fc
}

// Close stops the settle timer. The supervised services shut down through
// their own contexts.
func (e *Engine) Close() {
	e.vp.Close()
}
