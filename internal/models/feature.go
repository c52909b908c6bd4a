// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package models

import (
	"fmt"
	"strconv"

	geojson "github.com/paulmach/go.geojson"
)

// DecodeFeatureCollection converts a GeoJSON feature collection from the
// bounded feature query into entities and cluster summaries.
//
// Features missing a stable identity or carrying malformed geometry are
// contract violations: each is reported through onViolation (if non-nil) and
// skipped, and decoding continues with the remaining features.
func DecodeFeatureCollection(fc *geojson.FeatureCollection, onViolation func(*ContractViolation)) ([]Entity, []ClusterSummary) {
	if fc == nil {
		return nil, nil
	}

	var (
		entities []Entity
		clusters []ClusterSummary
	)

	for i, f := range fc.Features {
		violation := func(reason string) {
			if onViolation != nil {
				onViolation(&ContractViolation{Index: i, Reason: reason})
			}
		}

		if f == nil || f.Geometry == nil {
			violation("missing geometry")
			continue
		}
		if !f.Geometry.IsPoint() {
			// Line features belong to the trajectory layer, which consumes
			// raw feature collections; the primary decode is points only.
			violation(fmt.Sprintf("unsupported geometry type %q", f.Geometry.Type))
			continue
		}
		if len(f.Geometry.Point) < 2 {
			violation("point geometry without coordinates")
			continue
		}

		pos := LatLng{Lat: f.Geometry.Point[1], Lng: f.Geometry.Point[0]}
		if !pos.Valid() {
			violation(fmt.Sprintf("coordinates out of range: %v", f.Geometry.Point))
			continue
		}

		if cs, ok := decodeCluster(f, pos); ok {
			clusters = append(clusters, cs)
			continue
		}

		id := featureIdentity(f)
		if id == "" {
			violation("missing stable identity field")
			continue
		}

		entities = append(entities, Entity{
			ID:         EntityID(id),
			Position:   pos,
			Precision:  ParsePrecision(stringProp(f, "precision")),
			Confidence: floatProp(f, "confidence"),
			Payload:    f.Properties,
		})
	}

	return entities, clusters
}

// decodeCluster interprets a feature as a backend cluster summary if it
// carries a member count.
func decodeCluster(f *geojson.Feature, pos LatLng) (ClusterSummary, bool) {
	count, ok := intProp(f, "member_count")
	if !ok || count <= 0 {
		return ClusterSummary{}, false
	}

	id := stringProp(f, "cluster_id")
	if id == "" {
		id = featureIdentity(f)
	}
	if id == "" {
		return ClusterSummary{}, false
	}

	tier := ClusterTier(stringProp(f, "tier"))
	switch tier {
	case ClusterTierSmall, ClusterTierMedium, ClusterTierLarge:
	default:
		tier = tierForCount(count)
	}

	return ClusterSummary{
		ClusterID:   id,
		Centroid:    pos,
		MemberCount: count,
		Tier:        tier,
	}, true
}

// tierForCount assigns a tier when the backend omits one.
func tierForCount(count int) ClusterTier {
	switch {
	case count >= 100:
		return ClusterTierLarge
	case count >= 10:
		return ClusterTierMedium
	default:
		return ClusterTierSmall
	}
}

// featureIdentity extracts the stable identity field from a feature: the
// GeoJSON top-level id when present, otherwise the "id" property.
func featureIdentity(f *geojson.Feature) string {
	if s := identityString(f.ID); s != "" {
		return s
	}
	if f.Properties != nil {
		return identityString(f.Properties["id"])
	}
	return ""
}

func identityString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	default:
		return ""
	}
}

func stringProp(f *geojson.Feature, key string) string {
	if f.Properties == nil {
		return ""
	}
	s, _ := f.Properties[key].(string)
	return s
}

func floatProp(f *geojson.Feature, key string) float64 {
	if f.Properties == nil {
		return 0
	}
	switch v := f.Properties[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func intProp(f *geojson.Feature, key string) (int, bool) {
	if f.Properties == nil {
		return 0, false
	}
	switch v := f.Properties[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
