// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package main is the entry point for the Geoscope daemon.
//
// Geoscope keeps a live geospatial view synchronized between a backend
// feature service and connected dashboards. Camera movements arrive over the
// HTTP API, settle after a quiet period, and drive versioned bounded
// fetches; the resulting entity sets are reconciled into the marker state
// and pushed to dashboards over websockets, together with overlay layer
// data, cluster expansions, and live stream entities.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables (GEOSCOPE_ prefix), a YAML config
// file (config.yaml or GEOSCOPE_CONFIG_PATH), and built-in defaults.
//
// # Signal Handling
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: the supervisor
// tree stops its services, the HTTP server drains in-flight requests, and
// connected dashboard clients are closed.
//
// # Port 3857
//
// The default port 3857 references EPSG:3857 (Web Mercator projection), the
// coordinate system the engine's pixel math is built on.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/tomtom215/geoscope/internal/cache"
	"github.com/tomtom215/geoscope/internal/config"
	"github.com/tomtom215/geoscope/internal/datasource"
	"github.com/tomtom215/geoscope/internal/engine"
	"github.com/tomtom215/geoscope/internal/layers"
	"github.com/tomtom215/geoscope/internal/livefeed"
	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/models"
	"github.com/tomtom215/geoscope/internal/push"
	"github.com/tomtom215/geoscope/internal/reconcile"
	"github.com/tomtom215/geoscope/internal/spiderfy"
	"github.com/tomtom215/geoscope/internal/style"
	"github.com/tomtom215/geoscope/internal/supervisor"
	"github.com/tomtom215/geoscope/internal/viewport"
)

var version = "dev"

var cli struct {
	Config  string           `help:"Path to config file." short:"c" type:"path"`
	Theme   string           `help:"Initial map theme." default:"dark"`
	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("geoscope"),
		kong.Description("Live geospatial viewport engine."),
		kong.Vars{"version": version},
	)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "geoscope: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Msg("geoscope starting")

	// Warm-start cache. Disabled or broken persistence degrades to
	// memory-only.
	var featureCache *cache.FeatureCache
	if cfg.Cache.Enabled {
		featureCache = cache.Open(cache.Options{
			Path:       cfg.Cache.Path,
			MaxEntries: cfg.Cache.MaxEntries,
			TTL:        10 * time.Minute,
		})
	} else {
		featureCache = cache.Open(cache.Options{MaxEntries: cfg.Cache.MaxEntries, TTL: 10 * time.Minute})
	}
	defer featureCache.Close() //nolint:errcheck

	hub := push.NewHub()

	primary := datasource.New(cfg.Backend.BaseURL, datasource.Options{
		Source:  "primary",
		Timeout: cfg.Backend.Timeout,
		Limit:   cfg.Backend.Limit,
		Cache:   featureCache,
	})

	rec := reconcile.New(stateFactory{}, reconcile.Options{
		ZoomThreshold: cfg.Viewport.ZoomThreshold,
		TransientTTL:  cfg.Stream.TTL,
	})
	rec.SetDeltaFunc(hub.BroadcastMarkerDelta)

	expansion := spiderfy.New(primary, rec, &lineBroadcaster{hub: hub}, cfg.Expansion.RadiusPx)

	sinks := map[layers.Kind]layers.SourceSink{}
	for _, kind := range layers.Kinds {
		sinks[kind] = newLayerSink(string(kind), hub)
	}
	overlays := layers.NewManager(primary, sinks, map[layers.Kind]layers.LayerSettings{
		layers.KindHeatmap:        {Enabled: cfg.Layers.Heatmap.Enabled, MinInterval: cfg.Layers.Heatmap.MinInterval},
		layers.KindTrajectories:   {Enabled: cfg.Layers.Trajectories.Enabled, MinInterval: cfg.Layers.Trajectories.MinInterval},
		layers.KindVessels:        {Enabled: cfg.Layers.Vessels.Enabled, MinInterval: cfg.Layers.Vessels.MinInterval},
		layers.KindVerifiedEvents: {Enabled: cfg.Layers.VerifiedEvents.Enabled, MinInterval: cfg.Layers.VerifiedEvents.MinInterval},
	})

	vp := viewport.NewController(cfg.Viewport.SettleDebounce, models.Viewport{})
	eng := engine.New(engine.Options{
		Viewport:  vp,
		Primary:   primary,
		Reconcile: rec,
		Expansion: expansion,
		Overlays:  overlays,
	})
	defer eng.Close()
	eng.WarmStart()

	stream := livefeed.New(cfg.Stream.URL, rec, livefeed.Options{
		MaxRetries:     cfg.Stream.MaxRetries,
		InitialBackoff: cfg.Stream.InitialBackoff,
		MaxBackoff:     cfg.Stream.MaxBackoff,
	})
	stream.OnStateChange(hub.BroadcastStreamStatus)

	switcher := style.New(&themeTarget{hub: hub}, vp, rec, overlays, expansion, cli.Theme)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEngineService(&sweeperService{rec: rec, interval: cfg.Stream.SweepInterval})
	tree.AddStreamService(stream)
	tree.AddStreamService(&hubService{hub: hub})
	tree.AddAPIService(&httpService{
		addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		handler: newAPIServer(cfg.Server, eng, stream, switcher, hub).router(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if ctx.Err() != nil {
		logging.Info().Msg("geoscope stopped")
		return nil
	}
	return err
}

func loadConfig() (*config.Config, error) {
	if cli.Config != "" {
		return config.LoadFrom(cli.Config)
	}
	return config.Load()
}

// sweeperService runs the transient-entity TTL sweep under supervision.
type sweeperService struct {
	rec      *reconcile.Reconciler
	interval time.Duration
}

func (s *sweeperService) Serve(ctx context.Context) error {
	return s.rec.RunSweeper(ctx, s.interval)
}

// hubService adapts the push hub to suture.Service.
type hubService struct {
	hub *push.Hub
}

func (s *hubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}
