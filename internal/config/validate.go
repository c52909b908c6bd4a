// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural and cross-field errors.
// Struct tags handle ranges and formats; cross-field rules that tags cannot
// express are checked by hand afterwards.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Stream.MaxBackoff < c.Stream.InitialBackoff {
		return fmt.Errorf("stream.max_backoff (%s) must be >= stream.initial_backoff (%s)",
			c.Stream.MaxBackoff, c.Stream.InitialBackoff)
	}

	if !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
		return fmt.Errorf("stream.url must be a ws:// or wss:// endpoint, got %q", c.Stream.URL)
	}

	if c.Stream.SweepInterval > c.Stream.TTL {
		return fmt.Errorf("stream.sweep_interval (%s) must not exceed stream.ttl (%s)",
			c.Stream.SweepInterval, c.Stream.TTL)
	}

	return nil
}
