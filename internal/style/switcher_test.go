// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package style

import (
	"errors"
	"testing"

	"github.com/tomtom215/geoscope/internal/models"
	"github.com/tomtom215/geoscope/internal/reconcile"
)

type fakeTarget struct {
	applied []string
	failOn  string
	camera  []models.Viewport
	// order records the restore sequence across all collaborators.
	order *[]string
}

func (f *fakeTarget) ApplyTheme(theme string) error {
	if theme == f.failOn {
		return errors.New("style service unavailable")
	}
	f.applied = append(f.applied, theme)
	*f.order = append(*f.order, "theme")
	return nil
}

func (f *fakeTarget) SetCamera(vp models.Viewport) {
	f.camera = append(f.camera, vp)
	*f.order = append(*f.order, "camera")
}

type fakeCamera struct{ vp models.Viewport }

func (f *fakeCamera) Viewport() models.Viewport { return f.vp }

type fakeMarkers struct {
	desired     []models.Entity
	invalidated int
	applied     [][]models.Entity
	order       *[]string
}

func (f *fakeMarkers) Desired() []models.Entity { return f.desired }

func (f *fakeMarkers) InvalidateAll() {
	f.invalidated++
	*f.order = append(*f.order, "invalidate")
}

func (f *fakeMarkers) Apply(entities []models.Entity, _ float64) reconcile.Stats {
	f.applied = append(f.applied, entities)
	*f.order = append(*f.order, "markers")
	return reconcile.Stats{Created: len(entities)}
}

type fakeSources struct{ order *[]string }

func (f *fakeSources) RestoreAll() { *f.order = append(*f.order, "sources") }

type fakeCollapser struct{ collapsed int }

func (f *fakeCollapser) Collapse() { f.collapsed++ }

func newTestSwitcher(t *testing.T, failOn string) (*Switcher, *fakeTarget, *fakeMarkers, *fakeCollapser, *[]string) {
	t.Helper()
	order := &[]string{}
	target := &fakeTarget{order: order, failOn: failOn}
	camera := &fakeCamera{vp: models.Viewport{
		Center: models.LatLng{Lat: 48, Lng: 35},
		Zoom:   11,
		Bounds: models.BBox{South: 44, West: 22, North: 53, East: 42},
	}}
	markers := &fakeMarkers{
		desired: []models.Entity{{ID: "a"}, {ID: "b"}},
		order:   order,
	}
	collapser := &fakeCollapser{}
	s := New(target, camera, markers, &fakeSources{order: order}, collapser, "dark")
	return s, target, markers, collapser, order
}

func TestSwitch_RestoreOrder(t *testing.T) {
	t.Parallel()
	s, target, markers, collapser, order := newTestSwitcher(t, "")

	if err := s.Switch("light"); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	want := []string{"theme", "camera", "sources", "invalidate", "markers"}
	if len(*order) != len(want) {
		t.Fatalf("order = %v, want %v", *order, want)
	}
	for i := range want {
		if (*order)[i] != want[i] {
			t.Fatalf("order = %v, want %v", *order, want)
		}
	}

	if s.Theme() != "light" {
		t.Errorf("Theme = %q, want light", s.Theme())
	}
	if collapser.collapsed != 1 {
		t.Errorf("expansion collapsed %d times, want 1", collapser.collapsed)
	}
	if len(target.camera) != 1 || target.camera[0].Zoom != 11 {
		t.Errorf("restored camera = %+v, want snapshot with zoom 11", target.camera)
	}
	if len(markers.applied) != 1 || len(markers.applied[0]) != 2 {
		t.Errorf("marker restore pass = %+v, want the 2 snapshotted entities", markers.applied)
	}
}

func TestSwitch_SameThemeIsNoOp(t *testing.T) {
	t.Parallel()
	s, target, _, _, _ := newTestSwitcher(t, "")

	if err := s.Switch("dark"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if len(target.applied) != 0 {
		t.Error("switching to the active theme must not touch the target")
	}
}

func TestSwitch_FailureKeepsPreviousTheme(t *testing.T) {
	t.Parallel()
	s, _, markers, _, order := newTestSwitcher(t, "broken")

	if err := s.Switch("broken"); err == nil {
		t.Fatal("expected error")
	}
	if s.Theme() != "dark" {
		t.Errorf("Theme = %q, want dark retained", s.Theme())
	}
	if markers.invalidated != 0 || len(*order) != 0 {
		t.Error("no restore steps may run after a failed theme apply")
	}
}
