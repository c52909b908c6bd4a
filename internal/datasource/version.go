// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package datasource

import "sync/atomic"

// VersionGate issues monotonically increasing fetch versions and decides at
// apply time whether a resolved response is still the latest issued.
//
// In-flight requests are never cancelled when a newer fetch is issued;
// supersession is resolved entirely here. A response carrying any version
// other than the most recently issued one is stale and must be discarded
// without side effects.
type VersionGate struct {
	issued atomic.Uint64
}

// Next issues the next fetch version. The first issued version is 1.
func (g *VersionGate) Next() uint64 {
	return g.issued.Add(1)
}

// Current returns the most recently issued version, 0 if none.
func (g *VersionGate) Current() uint64 {
	return g.issued.Load()
}

// IsLatest reports whether v is the most recently issued version.
func (g *VersionGate) IsLatest(v uint64) bool {
	return v == g.issued.Load()
}
