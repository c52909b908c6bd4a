// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package models defines the shared data model for the viewport engine:
// geographic primitives (LatLng, BBox, Viewport), entities and cluster
// summaries produced by the backend, transient entities sourced from the live
// stream, connection state for the stream, and the typed error taxonomy used
// across components.
//
// Entity identity is the contract that holds the whole engine together: two
// responses carrying the same entity ID refer to the same rendered object and
// must never cause it to be recreated. Features arriving without a stable
// identity are contract violations; they are skipped during decoding and
// never abort processing of the remaining features.
package models
