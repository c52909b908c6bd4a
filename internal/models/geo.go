// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package models

import "fmt"

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is within geographic range.
func (p LatLng) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// BBox is a geographic bounding box in degrees.
type BBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Valid reports whether the box is well-formed. Boxes crossing the
// antimeridian (West > East) are considered valid.
func (b BBox) Valid() bool {
	return b.South <= b.North &&
		b.South >= -90 && b.North <= 90 &&
		b.West >= -180 && b.West <= 180 &&
		b.East >= -180 && b.East <= 180
}

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(p LatLng) bool {
	if p.Lat < b.South || p.Lat > b.North {
		return false
	}
	if b.West <= b.East {
		return p.Lng >= b.West && p.Lng <= b.East
	}
	// Antimeridian crossing
	return p.Lng >= b.West || p.Lng <= b.East
}

// Center returns the geometric center of the box. Antimeridian-crossing
// boxes resolve to the midpoint of the wrapped span.
func (b BBox) Center() LatLng {
	lng := (b.West + b.East) / 2
	if b.West > b.East {
		lng = (b.West + b.East + 360) / 2
		if lng > 180 {
			lng -= 360
		}
	}
	return LatLng{Lat: (b.South + b.North) / 2, Lng: lng}
}

// String renders the box as "south,west,north,east" for logging and cache keys.
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.South, b.West, b.North, b.East)
}

// Viewport is the camera state read by every fetch. Mutated only by camera
// interaction through the viewport controller.
type Viewport struct {
	Center LatLng  `json:"center"`
	Zoom   float64 `json:"zoom"`
	Bounds BBox    `json:"bounds"`
}
