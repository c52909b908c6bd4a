// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package config loads and validates Geoscope configuration using Koanf v2
// with layered sources (highest priority wins):
//
//  1. Environment variables (GEOSCOPE_ prefix)
//  2. YAML config file (config.yaml, or GEOSCOPE_CONFIG_PATH)
//  3. Built-in defaults
package config

import "time"

// Config is the root configuration for the viewport engine daemon.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Backend   BackendConfig   `koanf:"backend"`
	Viewport  ViewportConfig  `koanf:"viewport"`
	Stream    StreamConfig    `koanf:"stream"`
	Layers    LayersConfig    `koanf:"layers"`
	Expansion ExpansionConfig `koanf:"expansion"`
	Cache     CacheConfig     `koanf:"cache"`
	Server    ServerConfig    `koanf:"server"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// BackendConfig points at the bounded feature query service.
type BackendConfig struct {
	// BaseURL is the root of the feature query API, e.g. http://backend:8080.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// Timeout bounds each HTTP request at the transport level. The engine
	// itself never cancels an issued fetch; superseded responses are
	// discarded at apply time.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// Limit is the page size sent with every bounded query.
	Limit int `koanf:"limit" validate:"min=1,max=10000"`
}

// ViewportConfig tunes camera settling and the rendering mode switch.
type ViewportConfig struct {
	// SettleDebounce is the quiet period after the last camera movement
	// before the viewport is declared settled.
	SettleDebounce time.Duration `koanf:"settle_debounce" validate:"min=10ms"`

	// ZoomThreshold selects the rendering mode: zoom >= threshold renders
	// individual markers, below it the aggregate layer owns the view.
	ZoomThreshold float64 `koanf:"zoom_threshold" validate:"min=0,max=24"`
}

// StreamConfig tunes the live feed connection.
type StreamConfig struct {
	// URL is the websocket endpoint of the live stream.
	URL string `koanf:"url" validate:"required"`

	// TTL is how long a stream-sourced entity stays rendered.
	TTL time.Duration `koanf:"ttl" validate:"min=1s"`

	// MaxRetries bounds automatic reconnect attempts before the connector
	// parks in the failed state.
	MaxRetries int `koanf:"max_retries" validate:"min=1,max=100"`

	// InitialBackoff and MaxBackoff bound the exponential reconnect delay.
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"min=100ms"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"min=1s"`

	// SweepInterval is the cadence of the transient-entity TTL sweep.
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=100ms"`
}

// LayerConfig tunes one overlay layer.
type LayerConfig struct {
	Enabled bool `koanf:"enabled"`

	// MinInterval rate-limits fetches for this layer; settles arriving
	// faster than this are coalesced.
	MinInterval time.Duration `koanf:"min_interval" validate:"min=100ms"`
}

// LayersConfig holds the four overlay layers. Each layer's lifecycle is
// fully independent; these settings never couple them.
type LayersConfig struct {
	Heatmap        LayerConfig `koanf:"heatmap"`
	Trajectories   LayerConfig `koanf:"trajectories"`
	Vessels        LayerConfig `koanf:"vessels"`
	VerifiedEvents LayerConfig `koanf:"verified_events"`
}

// ExpansionConfig tunes cluster spiderfication.
type ExpansionConfig struct {
	// RadiusPx is the fixed pixel radius of the expansion ring.
	RadiusPx float64 `koanf:"radius_px" validate:"min=10,max=500"`
}

// CacheConfig controls the badger-backed warm-start cache of last-known-good
// feature sets.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"required_if=Enabled true"`

	// MaxEntries bounds the in-memory LRU in front of badger.
	MaxEntries int `koanf:"max_entries" validate:"min=1"`
}

// ServerConfig configures the status/push HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
			Limit:   500,
		},
		Viewport: ViewportConfig{
			SettleDebounce: 300 * time.Millisecond,
			ZoomThreshold:  9,
		},
		Stream: StreamConfig{
			URL:            "ws://localhost:8080/stream",
			TTL:            30 * time.Second,
			MaxRetries:     10,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     60 * time.Second,
			SweepInterval:  time.Second,
		},
		Layers: LayersConfig{
			Heatmap:        LayerConfig{Enabled: true, MinInterval: 5 * time.Second},
			Trajectories:   LayerConfig{Enabled: true, MinInterval: 10 * time.Second},
			Vessels:        LayerConfig{Enabled: true, MinInterval: 5 * time.Second},
			VerifiedEvents: LayerConfig{Enabled: true, MinInterval: 15 * time.Second},
		},
		Expansion: ExpansionConfig{
			RadiusPx: 50,
		},
		Cache: CacheConfig{
			Enabled:    false,
			Path:       "/data/geoscope/cache",
			MaxEntries: 256,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3857,
			Timeout: 30 * time.Second,
		},
	}
}
