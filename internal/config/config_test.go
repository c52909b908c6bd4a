// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom(\"\") error: %v", err)
	}

	if cfg.Viewport.SettleDebounce != 300*time.Millisecond {
		t.Errorf("SettleDebounce = %s, want 300ms", cfg.Viewport.SettleDebounce)
	}
	if cfg.Viewport.ZoomThreshold != 9 {
		t.Errorf("ZoomThreshold = %f, want 9", cfg.Viewport.ZoomThreshold)
	}
	if cfg.Stream.TTL != 30*time.Second {
		t.Errorf("Stream.TTL = %s, want 30s", cfg.Stream.TTL)
	}
	if cfg.Stream.MaxRetries != 10 {
		t.Errorf("Stream.MaxRetries = %d, want 10", cfg.Stream.MaxRetries)
	}
	if !cfg.Layers.Heatmap.Enabled {
		t.Error("heatmap layer should default to enabled")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlCfg := `
viewport:
  zoom_threshold: 11
stream:
  url: wss://feed.example.com/live
  max_retries: 3
layers:
  heatmap:
    enabled: false
`
	if err := os.WriteFile(path, []byte(yamlCfg), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}

	if cfg.Viewport.ZoomThreshold != 11 {
		t.Errorf("ZoomThreshold = %f, want 11", cfg.Viewport.ZoomThreshold)
	}
	if cfg.Stream.URL != "wss://feed.example.com/live" {
		t.Errorf("Stream.URL = %q", cfg.Stream.URL)
	}
	if cfg.Stream.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Stream.MaxRetries)
	}
	if cfg.Layers.Heatmap.Enabled {
		t.Error("heatmap should be disabled by the file layer")
	}
	// Untouched sections keep defaults.
	if cfg.Stream.TTL != 30*time.Second {
		t.Errorf("Stream.TTL = %s, want default 30s", cfg.Stream.TTL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEOSCOPE_STREAM_MAX_RETRIES", "5")
	t.Setenv("GEOSCOPE_VIEWPORT_ZOOM_THRESHOLD", "8")
	t.Setenv("GEOSCOPE_LAYERS_VESSELS_ENABLED", "false")
	t.Setenv("GEOSCOPE_LAYERS_VERIFIED_EVENTS_ENABLED", "false")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}

	if cfg.Stream.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Stream.MaxRetries)
	}
	if cfg.Viewport.ZoomThreshold != 8 {
		t.Errorf("ZoomThreshold = %f, want 8", cfg.Viewport.ZoomThreshold)
	}
	if cfg.Layers.Vessels.Enabled {
		t.Error("vessels layer should be disabled via env")
	}
	if cfg.Layers.VerifiedEvents.Enabled {
		t.Error("verified_events layer should be disabled via env")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-ws stream url", func(c *Config) { c.Stream.URL = "http://feed.example.com" }},
		{"backoff inversion", func(c *Config) {
			c.Stream.InitialBackoff = 2 * time.Minute
			c.Stream.MaxBackoff = 30 * time.Second
		}},
		{"sweep slower than ttl", func(c *Config) {
			c.Stream.SweepInterval = time.Minute
			c.Stream.TTL = 30 * time.Second
		}},
		{"zoom threshold out of range", func(c *Config) { c.Viewport.ZoomThreshold = 42 }},
		{"zero retries", func(c *Config) { c.Stream.MaxRetries = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"GEOSCOPE_STREAM_MAX_RETRIES", "stream.max_retries"},
		{"GEOSCOPE_BACKEND_BASE_URL", "backend.base_url"},
		{"GEOSCOPE_LAYERS_HEATMAP_ENABLED", "layers.heatmap.enabled"},
		{"GEOSCOPE_LAYERS_VERIFIED_EVENTS_MIN_INTERVAL", "layers.verified_events.min_interval"},
		{"GEOSCOPE_CONFIG_PATH", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
