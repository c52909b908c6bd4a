// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package spiderfy expands backend cluster summaries into radial member
// layouts around the cluster centroid.
//
// At most one cluster is expanded at a time: expanding a second cluster
// collapses the first before any member fetch is issued, and a member fetch
// that resolves after a newer click or collapse is discarded. A failed or
// empty member fetch is memoized per cluster and surfaced again the next
// time that cluster is opened; opening it once more after that, or an
// explicit retry, clears the memo and refetches.
package spiderfy

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/geoscope/internal/geomath"
	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/metrics"
	"github.com/tomtom215/geoscope/internal/models"
)

// DefaultRadiusPx is the fixed pixel radius of the expansion ring.
const DefaultRadiusPx = 50.0

// MemberFetcher retrieves the member entities of a backend cluster.
type MemberFetcher interface {
	FetchClusterMembers(ctx context.Context, clusterID string) ([]models.Entity, error)
}

// ChildRenderer renders expansion-owned member markers. Satisfied by the
// reconciler's child namespace.
type ChildRenderer interface {
	AddChild(e models.Entity)
	ClearChildren()
}

// LineRenderer renders the indicator lines from the centroid to each
// displaced member.
type LineRenderer interface {
	AddLine(id string, from, to models.LatLng)
	RemoveAll()
}

// Engine owns cluster expansion state.
type Engine struct {
	mu sync.Mutex

	fetcher  MemberFetcher
	markers  ChildRenderer
	lines    LineRenderer
	radiusPx float64

	// expanded is the currently expanded cluster id, empty if none.
	expanded string

	// gen counts expansion intents: every open and collapse bumps it, and a
	// member fetch resolving for an older intent is discarded. The most
	// recent interaction defines what is open.
	gen uint64

	// memo holds the last expansion error per cluster id. memoShown names
	// the cluster whose memo was surfaced last, so a consecutive re-open of
	// the same cluster retries instead of surfacing the error forever.
	memo      map[string]error
	memoShown string
}

// New creates an expansion engine. A radiusPx of zero takes the default.
func New(fetcher MemberFetcher, markers ChildRenderer, lines LineRenderer, radiusPx float64) *Engine {
	if radiusPx <= 0 {
		radiusPx = DefaultRadiusPx
	}
	return &Engine{
		fetcher:  fetcher,
		markers:  markers,
		lines:    lines,
		radiusPx: radiusPx,
		memo:     make(map[string]error),
	}
}

// Expanded returns the currently expanded cluster id, empty if none.
func (e *Engine) Expanded() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expanded
}

// ErrorFor returns the memoized expansion error for a cluster, nil if none.
func (e *Engine) ErrorFor(clusterID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memo[clusterID]
}

// Expand opens a cluster's members in a radial layout. Clicking the already
// expanded cluster collapses it instead. A memoized error from a prior
// attempt is surfaced without refetching; the next consecutive open of the
// same cluster treats the click as a retry.
func (e *Engine) Expand(ctx context.Context, cluster models.ClusterSummary, zoom float64) error {
	e.mu.Lock()

	if e.expanded == cluster.ClusterID {
		e.collapseLocked()
		e.mu.Unlock()
		return nil
	}
	if e.expanded != "" {
		e.collapseLocked()
	}

	if err, ok := e.memo[cluster.ClusterID]; ok && e.memoShown != cluster.ClusterID {
		e.memoShown = cluster.ClusterID
		e.mu.Unlock()
		return err
	}
	// Either no memo, or the user re-clicked an errored cluster: the
	// re-click is the retry.
	delete(e.memo, cluster.ClusterID)
	e.memoShown = ""

	e.gen++
	myGen := e.gen
	e.mu.Unlock()

	// The fetch runs outside the lock; the intent generation is revalidated
	// when applying the result.
	members, err := e.fetcher.FetchClusterMembers(ctx, cluster.ClusterID)
	if err != nil {
		e.memoize(cluster.ClusterID, err)
		metrics.ClusterExpansions.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Str("cluster_id", cluster.ClusterID).
			Msg("cluster expansion failed")
		return err
	}
	if len(members) == 0 {
		err := &models.ClusterExpansionError{ClusterID: cluster.ClusterID, Err: models.ErrEmptyCluster}
		e.memoize(cluster.ClusterID, err)
		metrics.ClusterExpansions.WithLabelValues("empty").Inc()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A newer click or collapse superseded this fetch while it was in
	// flight. The newer intent owns the expansion state; this result is
	// stale and must not clobber it.
	if e.gen != myGen {
		metrics.ClusterExpansions.WithLabelValues("superseded").Inc()
		logging.Debug().Str("cluster_id", cluster.ClusterID).
			Msg("discarding superseded expansion result")
		return nil
	}

	for i, m := range members {
		dLat, dLng := geomath.RingOffset(i, len(members), e.radiusPx, zoom, cluster.Centroid.Lat)
		pos := models.LatLng{
			Lat: cluster.Centroid.Lat + dLat,
			Lng: cluster.Centroid.Lng + dLng,
		}

		child := m
		child.ID = childID(cluster.ClusterID, m.ID)
		child.Position = pos
		e.markers.AddChild(child)
		e.lines.AddLine(string(child.ID), cluster.Centroid, pos)
	}

	e.expanded = cluster.ClusterID
	metrics.ClusterExpansions.WithLabelValues("ok").Inc()
	logging.Debug().Str("cluster_id", cluster.ClusterID).Int("members", len(members)).
		Msg("cluster expanded")
	return nil
}

// Retry clears a cluster's memoized error and attempts expansion again.
func (e *Engine) Retry(ctx context.Context, cluster models.ClusterSummary, zoom float64) error {
	e.mu.Lock()
	delete(e.memo, cluster.ClusterID)
	e.memoShown = ""
	e.mu.Unlock()
	return e.Expand(ctx, cluster, zoom)
}

// Collapse removes the current expansion, if any. Called on outside clicks
// and viewport settles. An in-flight member fetch is superseded: its result
// will be discarded when it resolves.
func (e *Engine) Collapse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.collapseLocked()
}

func (e *Engine) collapseLocked() {
	if e.expanded == "" {
		return
	}
	e.markers.ClearChildren()
	e.lines.RemoveAll()
	e.expanded = ""
}

func (e *Engine) memoize(clusterID string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo[clusterID] = err
}

// childID namespaces an expansion member so it can never collide with a
// primary-layer marker identity.
func childID(clusterID string, memberID models.EntityID) models.EntityID {
	return models.EntityID(fmt.Sprintf("x:%s:%s", clusterID, memberID))
}
