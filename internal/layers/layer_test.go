// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package layers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/tomtom215/geoscope/internal/models"
)

var testBounds = models.BBox{South: 44, West: 22, North: 53, East: 42}

// fakeFetcher fails selectively per layer kind.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	failing map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, failing: map[string]bool{}}
}

func (f *fakeFetcher) FetchLayerData(_ context.Context, layer string, _ models.BBox, _ float64, _ models.TimeFilter) (*geojson.FeatureCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[layer]++
	if f.failing[layer] {
		return nil, &models.TransientFetchError{Source: layer, Err: errors.New("backend down")}
	}
	fc := geojson.NewFeatureCollection()
	fc.AddFeature(geojson.NewPointFeature([]float64{35, 48}))
	return fc, nil
}

func (f *fakeFetcher) setFailing(layer string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[layer] = failing
}

func (f *fakeFetcher) callCount(layer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[layer]
}

// fakeSink records swaps and clears.
type fakeSink struct {
	mu     sync.Mutex
	swaps  int
	clears int
	data   *geojson.FeatureCollection
}

func (s *fakeSink) SetData(fc *geojson.FeatureCollection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps++
	s.data = fc
}

func (s *fakeSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.data = nil
}

func (s *fakeSink) snapshot() (swaps, clears int, hasData bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swaps, s.clears, s.data != nil
}

func (s *fakeSink) featureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0
	}
	return len(s.data.Features)
}

func newTestManager(t *testing.T) (*Manager, *fakeFetcher, map[Kind]*fakeSink) {
	t.Helper()
	fetcher := newFakeFetcher()
	sinks := map[Kind]*fakeSink{}
	sourceSinks := map[Kind]SourceSink{}
	settings := map[Kind]LayerSettings{}
	for _, kind := range Kinds {
		s := &fakeSink{}
		sinks[kind] = s
		sourceSinks[kind] = s
		settings[kind] = LayerSettings{Enabled: true, MinInterval: time.Millisecond}
	}
	return NewManager(fetcher, sourceSinks, settings), fetcher, sinks
}

func TestRefreshAll_SwapsEveryEnabledLayer(t *testing.T) {
	t.Parallel()
	m, _, sinks := newTestManager(t)

	m.RefreshAll(context.Background(), testBounds, 8, models.TimeFilter{})

	for kind, sink := range sinks {
		swaps, _, hasData := sink.snapshot()
		if swaps != 1 || !hasData {
			t.Errorf("%s: swaps = %d hasData = %v, want 1 and true", kind, swaps, hasData)
		}
	}
}

// One layer's failure must not disturb the other three.
func TestLayerFailureIsIsolated(t *testing.T) {
	t.Parallel()
	m, fetcher, sinks := newTestManager(t)

	// Seed all layers with good data.
	m.RefreshAll(context.Background(), testBounds, 8, models.TimeFilter{})
	time.Sleep(5 * time.Millisecond)

	fetcher.setFailing("heatmap", true)
	m.RefreshAll(context.Background(), testBounds, 8, models.TimeFilter{})

	// The failed layer keeps its previous data: no clear, no new swap.
	swaps, clears, hasData := sinks[KindHeatmap].snapshot()
	if swaps != 1 || clears != 0 || !hasData {
		t.Errorf("heatmap: swaps=%d clears=%d hasData=%v, want 1/0/true", swaps, clears, hasData)
	}

	// The healthy layers refreshed normally.
	for _, kind := range []Kind{KindTrajectories, KindVessels, KindVerifiedEvents} {
		swaps, _, _ := sinks[kind].snapshot()
		if swaps != 2 {
			t.Errorf("%s: swaps = %d, want 2", kind, swaps)
		}
	}
}

func TestBreakerStopsHammeringFailedBackend(t *testing.T) {
	t.Parallel()
	m, fetcher, _ := newTestManager(t)

	fetcher.setFailing("vessels", true)
	l := m.Layer(KindVessels)

	// Three consecutive failures trip the breaker; further refreshes are
	// short-circuited without touching the backend.
	for i := 0; i < 6; i++ {
		l.Refresh(context.Background(), testBounds, 8, models.TimeFilter{})
		time.Sleep(2 * time.Millisecond)
	}

	if got := fetcher.callCount("vessels"); got != 3 {
		t.Errorf("backend calls = %d, want 3 before the breaker opens", got)
	}
}

func TestHideRemovesDataAndShowRestoresIt(t *testing.T) {
	t.Parallel()
	m, _, sinks := newTestManager(t)

	l := m.Layer(KindTrajectories)
	l.Refresh(context.Background(), testBounds, 8, models.TimeFilter{})

	l.Hide()
	_, clears, hasData := sinks[KindTrajectories].snapshot()
	if clears != 1 || hasData {
		t.Fatalf("after Hide: clears=%d hasData=%v, want 1/false", clears, hasData)
	}

	// Hidden layers skip refreshes entirely.
	before, _, _ := sinks[KindTrajectories].snapshot()
	time.Sleep(5 * time.Millisecond)
	l.Refresh(context.Background(), testBounds, 8, models.TimeFilter{})
	after, _, _ := sinks[KindTrajectories].snapshot()
	if after != before {
		t.Error("hidden layer must not swap data")
	}

	// Show brings last-known-good back without a fetch.
	l.Show()
	swaps, _, hasData := sinks[KindTrajectories].snapshot()
	if swaps != 2 || !hasData {
		t.Errorf("after Show: swaps=%d hasData=%v, want 2/true", swaps, hasData)
	}
}

func TestRateLimiterCoalescesRapidSettles(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	sink := &fakeSink{}
	l := newLayer(KindHeatmap, fetcher, sink, true, time.Hour)

	for i := 0; i < 5; i++ {
		l.Refresh(context.Background(), testBounds, 8, models.TimeFilter{})
	}

	if got := fetcher.callCount("heatmap"); got != 1 {
		t.Errorf("fetches = %d, want 1 within the rate window", got)
	}
}

// gatedLayerFetcher stalls the first fetch until released; later fetches
// return immediately with a larger collection so the test can tell the
// responses apart.
type gatedLayerFetcher struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (f *gatedLayerFetcher) FetchLayerData(_ context.Context, _ string, _ models.BBox, _ float64, _ models.TimeFilter) (*geojson.FeatureCollection, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	fc := geojson.NewFeatureCollection()
	if n == 1 {
		<-f.release
		fc.AddFeature(geojson.NewPointFeature([]float64{1, 1}))
		return fc, nil
	}
	fc.AddFeature(geojson.NewPointFeature([]float64{2, 2}))
	fc.AddFeature(geojson.NewPointFeature([]float64{2, 3}))
	return fc, nil
}

func (f *gatedLayerFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// An older response that resolves after a newer one already swapped in must
// be discarded, never rendered on top of the newer data.
func TestRefresh_StaleResponseCannotOvertakeNewerSwap(t *testing.T) {
	t.Parallel()

	fetcher := &gatedLayerFetcher{release: make(chan struct{})}
	sink := &fakeSink{}
	l := newLayer(KindHeatmap, fetcher, sink, true, time.Nanosecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Refresh(context.Background(), testBounds, 8, models.TimeFilter{})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fetcher.callCount() == 0 {
		t.Fatal("first fetch never started")
	}

	// The newer refresh completes and swaps while the older one is stalled.
	l.Refresh(context.Background(), testBounds, 8, models.TimeFilter{})
	if swaps, _, _ := sink.snapshot(); swaps != 1 {
		t.Fatalf("swaps = %d, want 1 after the newer refresh", swaps)
	}

	close(fetcher.release)
	<-done

	swaps, _, _ := sink.snapshot()
	if swaps != 1 {
		t.Errorf("swaps = %d, want 1: the stale response must not swap", swaps)
	}
	if got := sink.featureCount(); got != 2 {
		t.Errorf("rendered features = %d, want the newer response's 2", got)
	}
}

func TestRestoreAllReappliesLastGood(t *testing.T) {
	t.Parallel()
	m, _, sinks := newTestManager(t)

	m.RefreshAll(context.Background(), testBounds, 8, models.TimeFilter{})
	m.Layer(KindVessels).Hide()

	m.RestoreAll()

	swaps, _, _ := sinks[KindHeatmap].snapshot()
	if swaps != 2 {
		t.Errorf("heatmap swaps = %d, want 2 after restore", swaps)
	}
	vesselSwaps, _, hasData := sinks[KindVessels].snapshot()
	if vesselSwaps != 1 || hasData {
		t.Errorf("hidden vessels must not be restored: swaps=%d hasData=%v", vesselSwaps, hasData)
	}
}
