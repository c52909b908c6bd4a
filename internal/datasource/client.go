// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package datasource issues versioned bounded feature queries against the
// backend and decodes the GeoJSON responses.
//
// Every fetch carries a version from a monotonic per-source counter. Callers
// check the version against the source's gate at apply time and discard any
// response that a newer fetch has superseded; issued requests themselves are
// never cancelled.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/tomtom215/geoscope/internal/cache"
	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/metrics"
	"github.com/tomtom215/geoscope/internal/models"
)

// maxResponseBytes caps a single response body read.
const maxResponseBytes = 32 << 20

// Options configures a Client.
type Options struct {
	// Source names this client in logs and metrics, e.g. "primary" or the
	// overlay layer it serves.
	Source string

	// Timeout bounds each HTTP request. Zero means 30s.
	Timeout time.Duration

	// Limit is the page size sent with every bounded query. Zero means 500.
	Limit int

	// Cache, when non-nil, receives successful feature sets and serves
	// warm-start reads.
	Cache *cache.FeatureCache

	// HTTPClient overrides the transport, for tests.
	HTTPClient *http.Client
}

// Client fetches bounded feature sets from the backend query API.
type Client struct {
	baseURL string
	source  string
	limit   int
	http    *http.Client
	cache   *cache.FeatureCache
	gate    VersionGate
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts Options) *Client {
	if opts.Source == "" {
		opts.Source = "primary"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 500
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: baseURL,
		source:  opts.Source,
		limit:   opts.Limit,
		http:    httpClient,
		cache:   opts.Cache,
	}
}

// Source returns the client's source name.
func (c *Client) Source() string { return c.source }

// IsLatest reports whether a feature set version is still the most recently
// issued fetch. Callers must check this before applying a resolved response.
func (c *Client) IsLatest(v uint64) bool { return c.gate.IsLatest(v) }

// MarkStale records that a resolved response was discarded as superseded.
func (c *Client) MarkStale(v uint64) {
	metrics.StaleResponsesDiscarded.WithLabelValues(c.source).Inc()
	logging.Debug().
		Str("source", c.source).
		Uint64("version", v).
		Uint64("latest", c.gate.Current()).
		Msg("discarding superseded response")
}

// FetchFeatures issues a bounded feature query for the given viewport. The
// returned set carries the fetch version; apply it only if IsLatest still
// holds when it resolves.
func (c *Client) FetchFeatures(ctx context.Context, bounds models.BBox, zoom float64, tf models.TimeFilter) (models.FeatureSet, error) {
	version := c.gate.Next()
	start := time.Now()

	q := url.Values{}
	q.Set("south", strconv.FormatFloat(bounds.South, 'f', 6, 64))
	q.Set("west", strconv.FormatFloat(bounds.West, 'f', 6, 64))
	q.Set("north", strconv.FormatFloat(bounds.North, 'f', 6, 64))
	q.Set("east", strconv.FormatFloat(bounds.East, 'f', 6, 64))
	q.Set("zoom", strconv.FormatFloat(zoom, 'f', 2, 64))
	q.Set("limit", strconv.Itoa(c.limit))
	if !tf.Start.IsZero() {
		q.Set("start_date", tf.Start.UTC().Format(time.RFC3339))
	}
	if !tf.End.IsZero() {
		q.Set("end_date", tf.End.UTC().Format(time.RFC3339))
	}

	fc, err := c.getFeatureCollection(ctx, c.baseURL+"/api/v1/features?"+q.Encode())
	metrics.FetchDuration.WithLabelValues(c.source).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(c.source, "error").Inc()
		return models.FeatureSet{Version: version}, &models.TransientFetchError{Source: c.source, Err: err}
	}

	fs := c.decode(fc)
	fs.Version = version
	metrics.FetchesTotal.WithLabelValues(c.source, "ok").Inc()

	if c.cache != nil {
		c.cache.Put(cache.Key(bounds, zoom), fs)
	}

	logging.Debug().
		Str("source", c.source).
		Uint64("version", version).
		Int("entities", len(fs.Entities)).
		Int("clusters", len(fs.Clusters)).
		Int("skipped", fs.Skipped).
		Msg("bounded fetch resolved")
	return fs, nil
}

// Cached returns the last-known-good feature set for a viewport, if the
// warm-start cache holds one.
func (c *Client) Cached(bounds models.BBox, zoom float64) (models.FeatureSet, bool) {
	if c.cache == nil {
		return models.FeatureSet{}, false
	}
	return c.cache.Get(cache.Key(bounds, zoom))
}

// FetchLayerData fetches the raw feature collection for one overlay layer.
// Overlay layers consume whole collections (lines, polygons, weighted
// points), so no entity decode happens here.
func (c *Client) FetchLayerData(ctx context.Context, layer string, bounds models.BBox, zoom float64, tf models.TimeFilter) (*geojson.FeatureCollection, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("south", strconv.FormatFloat(bounds.South, 'f', 6, 64))
	q.Set("west", strconv.FormatFloat(bounds.West, 'f', 6, 64))
	q.Set("north", strconv.FormatFloat(bounds.North, 'f', 6, 64))
	q.Set("east", strconv.FormatFloat(bounds.East, 'f', 6, 64))
	q.Set("zoom", strconv.FormatFloat(zoom, 'f', 2, 64))
	if !tf.Start.IsZero() {
		q.Set("start_date", tf.Start.UTC().Format(time.RFC3339))
	}
	if !tf.End.IsZero() {
		q.Set("end_date", tf.End.UTC().Format(time.RFC3339))
	}

	fc, err := c.getFeatureCollection(ctx,
		c.baseURL+"/api/v1/layers/"+url.PathEscape(layer)+"?"+q.Encode())
	metrics.FetchDuration.WithLabelValues(layer).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(layer, "error").Inc()
		return nil, &models.TransientFetchError{Source: layer, Err: err}
	}
	metrics.FetchesTotal.WithLabelValues(layer, "ok").Inc()
	return fc, nil
}

// FetchClusterMembers returns the member entities of a backend cluster.
func (c *Client) FetchClusterMembers(ctx context.Context, clusterID string) ([]models.Entity, error) {
	fc, err := c.getFeatureCollection(ctx,
		c.baseURL+"/api/v1/clusters/"+url.PathEscape(clusterID)+"/members")
	if err != nil {
		return nil, &models.ClusterExpansionError{ClusterID: clusterID, Err: err}
	}

	entities, _ := models.DecodeFeatureCollection(fc, func(v *models.ContractViolation) {
		metrics.ContractViolations.Inc()
		logging.Warn().Str("cluster_id", clusterID).Str("reason", v.Reason).
			Msg("skipping malformed cluster member")
	})
	return entities, nil
}

func (c *Client) getFeatureCollection(ctx context.Context, rawURL string) (*geojson.FeatureCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decoding feature collection: %w", err)
	}
	return fc, nil
}

func (c *Client) decode(fc *geojson.FeatureCollection) models.FeatureSet {
	var fs models.FeatureSet
	fs.Entities, fs.Clusters = models.DecodeFeatureCollection(fc, func(v *models.ContractViolation) {
		fs.Skipped++
		metrics.ContractViolations.Inc()
		logging.Warn().
			Str("source", c.source).
			Int("index", v.Index).
			Str("reason", v.Reason).
			Msg("skipping malformed feature")
	})
	return fs
}
