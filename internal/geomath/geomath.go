// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package geomath provides pure geographic-to-pixel conversion functions
// under the Web Mercator approximation. It is used by cluster expansion to
// lay members out at a fixed pixel radius and by halo sizing.
//
// All functions are deterministic and allocation-free; none touch shared
// state.
package geomath

import "math"

const (
	// EarthCircumferenceMeters is the equatorial circumference used by the
	// Web Mercator projection.
	EarthCircumferenceMeters = 40075016.686

	// MetersPerDegreeLat is the approximate ground distance of one degree of
	// latitude. Treated as constant; the <0.5% variation with latitude is
	// irrelevant at marker scale.
	MetersPerDegreeLat = 111320.0

	// TileSize is the pixel size of one map tile at every zoom level.
	TileSize = 256.0
)

// MetersPerPixel returns the ground resolution of one screen pixel at the
// given zoom level and latitude.
func MetersPerPixel(zoom, lat float64) float64 {
	return EarthCircumferenceMeters * math.Cos(lat*math.Pi/180) / (TileSize * math.Exp2(zoom))
}

// PixelOffset converts a pixel displacement (dx east, dy north) at the given
// anchor latitude and zoom into a geographic offset in degrees.
func PixelOffset(dx, dy, zoom, lat float64) (dLat, dLng float64) {
	mpp := MetersPerPixel(zoom, lat)
	dLat = dy * mpp / MetersPerDegreeLat
	dLng = dx * mpp / (MetersPerDegreeLat * math.Cos(lat*math.Pi/180))
	return dLat, dLng
}

// PixelDistance returns the screen distance in pixels between two coordinates
// at the given zoom, measured at the first point's latitude. Suitable for
// marker-scale distances only; it is not a great-circle measure.
func PixelDistance(lat1, lng1, lat2, lng2, zoom float64) float64 {
	mpp := MetersPerPixel(zoom, lat1)
	dy := (lat2 - lat1) * MetersPerDegreeLat / mpp
	dx := (lng2 - lng1) * MetersPerDegreeLat * math.Cos(lat1*math.Pi/180) / mpp
	return math.Hypot(dx, dy)
}

// RingOffset returns the geographic offset of member i of count members laid
// out on a ring of radiusPx pixels around an anchor at the given latitude and
// zoom. Member 0 sits due east of the anchor; members proceed
// counterclockwise with equal angular spacing of 2π/count.
func RingOffset(i, count int, radiusPx, zoom, lat float64) (dLat, dLng float64) {
	if count <= 0 {
		return 0, 0
	}
	angle := float64(i) * (2 * math.Pi / float64(count))
	return PixelOffset(radiusPx*math.Cos(angle), radiusPx*math.Sin(angle), zoom, lat)
}

// Bearing returns the planar bearing in degrees from the anchor to a point,
// measured counterclockwise from due east, normalized to [0, 360). At marker
// scale the planar approximation is within float tolerance of the spherical
// bearing.
func Bearing(anchorLat, anchorLng, lat, lng float64) float64 {
	dy := (lat - anchorLat) * MetersPerDegreeLat
	dx := (lng - anchorLng) * MetersPerDegreeLat * math.Cos(anchorLat*math.Pi/180)
	deg := math.Atan2(dy, dx) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

// HaversineKm returns the great-circle distance between two coordinates in
// kilometers. Used for halo sizing and proximity checks where planar math
// would drift.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
