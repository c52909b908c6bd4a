// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/geoscope/config.yaml",
	"/etc/geoscope/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "GEOSCOPE_CONFIG_PATH"

// envPrefix namespaces all environment overrides.
const envPrefix = "GEOSCOPE_"

// Load loads configuration with layered sources:
//  1. Defaults from defaultConfig()
//  2. Optional YAML config file
//  3. GEOSCOPE_* environment variables (highest priority)
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom loads configuration using the given config file path ("" skips
// the file layer).
func LoadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// GEOSCOPE_STREAM_MAX_RETRIES -> stream.max_retries
	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names onto koanf paths.
//
// The first underscore-separated token after the prefix is the section; the
// rest joins into the key:
//
//	GEOSCOPE_STREAM_MAX_RETRIES   -> stream.max_retries
//	GEOSCOPE_VIEWPORT_ZOOM_THRESHOLD -> viewport.zoom_threshold
//	GEOSCOPE_BACKEND_BASE_URL     -> backend.base_url
//
// Layer settings use a double section:
//
//	GEOSCOPE_LAYERS_HEATMAP_ENABLED -> layers.heatmap.enabled
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if key == "config_path" {
		return "" // handled separately, never a config key
	}

	parts := strings.SplitN(key, "_", 2)
	if len(parts) < 2 {
		return key
	}
	section, rest := parts[0], parts[1]

	if section == "layers" {
		layerParts := strings.SplitN(rest, "_", 2)
		if len(layerParts) == 2 {
			layer := layerParts[0]
			if layer == "verified" {
				// layers.verified_events needs special casing since the
				// layer name itself contains an underscore.
				sub := strings.SplitN(layerParts[1], "_", 2)
				if len(sub) == 2 && sub[0] == "events" {
					return "layers.verified_events." + sub[1]
				}
			}
			return "layers." + layer + "." + layerParts[1]
		}
	}

	return section + "." + rest
}
