// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package cache

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/metrics"
	"github.com/tomtom215/geoscope/internal/models"
)

// Key quantizes a viewport into a cache key. Quantization to two decimal
// places (~1 km) means small camera drifts still hit the same entry.
func Key(bounds models.BBox, zoom float64) string {
	return fmt.Sprintf("fs:%d:%.2f:%.2f:%.2f:%.2f",
		int(zoom), bounds.South, bounds.West, bounds.North, bounds.East)
}

// FeatureCache layers an in-memory LRU over an optional badger store. The
// badger tier survives restarts and lets the engine warm-start the primary
// layer before the first fetch resolves.
type FeatureCache struct {
	lru *FeatureLRU
	db  *badger.DB // nil when persistence is disabled
	ttl time.Duration
}

// Options configures a FeatureCache.
type Options struct {
	// Path is the badger directory; empty disables the persistent tier.
	Path string

	// MaxEntries bounds the in-memory LRU.
	MaxEntries int

	// TTL applies to both tiers.
	TTL time.Duration
}

// Open creates a FeatureCache. Badger open failures degrade to memory-only
// caching rather than failing the engine.
func Open(opts Options) *FeatureCache {
	c := &FeatureCache{
		lru: NewFeatureLRU(opts.MaxEntries, opts.TTL),
		ttl: opts.TTL,
	}

	if opts.Path == "" {
		return c
	}

	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		logging.Warn().Err(err).Str("path", opts.Path).
			Msg("feature cache falling back to memory-only")
		return c
	}
	c.db = db
	return c
}

// Get returns the cached feature set for a key, checking the LRU first and
// falling back to badger.
func (c *FeatureCache) Get(key string) (models.FeatureSet, bool) {
	if fs, ok := c.lru.Get(key); ok {
		metrics.CacheHits.WithLabelValues("lru").Inc()
		return fs, true
	}

	if c.db == nil {
		metrics.CacheMisses.Inc()
		return models.FeatureSet{}, false
	}

	var fs models.FeatureSet
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &fs)
		})
	})
	if err != nil {
		metrics.CacheMisses.Inc()
		return models.FeatureSet{}, false
	}

	metrics.CacheHits.WithLabelValues("badger").Inc()
	c.lru.Add(key, fs)
	return fs, true
}

// Put stores a feature set in both tiers. Persistence errors are logged and
// otherwise ignored; the cache is best-effort by design.
func (c *FeatureCache) Put(key string, fs models.FeatureSet) {
	c.lru.Add(key, fs)

	if c.db == nil {
		return
	}

	data, err := json.Marshal(fs)
	if err != nil {
		logging.Warn().Err(err).Msg("feature cache marshal failed")
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if c.ttl > 0 {
			// Badger tracks expiry at whole-second granularity.
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("feature cache write failed")
	}
}

// Close releases the badger store if open.
func (c *FeatureCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
