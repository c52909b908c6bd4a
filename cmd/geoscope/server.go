// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/geoscope/internal/config"
	"github.com/tomtom215/geoscope/internal/engine"
	"github.com/tomtom215/geoscope/internal/layers"
	"github.com/tomtom215/geoscope/internal/livefeed"
	"github.com/tomtom215/geoscope/internal/logging"
	"github.com/tomtom215/geoscope/internal/models"
	"github.com/tomtom215/geoscope/internal/push"
	"github.com/tomtom215/geoscope/internal/style"
)

// apiServer exposes the engine over HTTP: dashboard interactions come in,
// state snapshots and the websocket push stream go out.
type apiServer struct {
	cfg      config.ServerConfig
	eng      *engine.Engine
	stream   *livefeed.Connector
	switcher *style.Switcher
	hub      *push.Hub
}

func newAPIServer(cfg config.ServerConfig, eng *engine.Engine, stream *livefeed.Connector, switcher *style.Switcher, hub *push.Hub) *apiServer {
	return &apiServer{cfg: cfg, eng: eng, stream: stream, switcher: switcher, hub: hub}
}

func (s *apiServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Timeout))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		push.ServeWS(s.hub, w, req)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/state.geojson", s.handleState)

		r.Post("/camera", s.handleCamera)
		r.Post("/filter", s.handleFilter)

		r.Get("/stream/status", s.handleStreamStatus)
		r.Post("/stream/reconnect", s.handleStreamReconnect)

		r.Post("/clusters/{clusterID}/expand", s.handleExpand)
		r.Post("/clusters/{clusterID}/retry", s.handleExpandRetry)
		r.Post("/expansion/collapse", s.handleCollapse)

		r.Post("/layers/{kind}/show", s.handleLayerShow)
		r.Post("/layers/{kind}/hide", s.handleLayerHide)
		r.Get("/layers", s.handleLayerVisibility)

		r.Post("/theme", s.handleTheme)
	})

	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"instance": s.eng.ID(),
	})
}

func (s *apiServer) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(s.eng.Snapshot()); err != nil {
		logging.Error().Err(err).Msg("encoding state snapshot")
	}
}

type cameraRequest struct {
	Center models.LatLng `json:"center"`
	Zoom   float64       `json:"zoom"`
	Bounds models.BBox   `json:"bounds"`
}

func (s *apiServer) handleCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid camera payload")
		return
	}
	if !req.Bounds.Valid() || !req.Center.Valid() {
		writeError(w, http.StatusBadRequest, "camera out of geographic range")
		return
	}

	s.eng.MoveCamera(req.Center, req.Zoom, req.Bounds)
	w.WriteHeader(http.StatusAccepted)
}

type filterRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *apiServer) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter payload")
		return
	}
	if !req.Start.IsZero() && !req.End.IsZero() && req.End.Before(req.Start) {
		writeError(w, http.StatusBadRequest, "filter end precedes start")
		return
	}

	s.eng.SetTimeFilter(models.TimeFilter{Start: req.Start, End: req.End})
	w.WriteHeader(http.StatusAccepted)
}

func (s *apiServer) handleStreamStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stream.State())
}

func (s *apiServer) handleStreamReconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.stream.Reconnect(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.stream.State())
}

func (s *apiServer) handleExpand(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "clusterID")
	if err := s.eng.ExpandCluster(r.Context(), clusterID); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleExpandRetry(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "clusterID")
	if err := s.eng.RetryExpansion(r.Context(), clusterID); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCollapse(w http.ResponseWriter, _ *http.Request) {
	s.eng.CollapseExpansion()
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) layerFromRequest(w http.ResponseWriter, r *http.Request) *layers.Layer {
	kind := layers.Kind(chi.URLParam(r, "kind"))
	l := s.eng.Overlays().Layer(kind)
	if l == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown layer %q", kind))
	}
	return l
}

func (s *apiServer) handleLayerShow(w http.ResponseWriter, r *http.Request) {
	l := s.layerFromRequest(w, r)
	if l == nil {
		return
	}
	l.Show()
	s.hub.BroadcastLayerChange(string(l.Kind()), true)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleLayerHide(w http.ResponseWriter, r *http.Request) {
	l := s.layerFromRequest(w, r)
	if l == nil {
		return
	}
	l.Hide()
	s.hub.BroadcastLayerChange(string(l.Kind()), false)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleLayerVisibility(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Overlays().Visibility())
}

type themeRequest struct {
	Theme string `json:"theme"`
}

func (s *apiServer) handleTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Theme == "" {
		writeError(w, http.StatusBadRequest, "invalid theme payload")
		return
	}
	if err := s.switcher.Switch(req.Theme); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"theme": s.switcher.Theme()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// httpService runs the HTTP server under suture supervision.
type httpService struct {
	addr    string
	handler http.Handler
}

func (s *httpService) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.Info().Str("addr", s.addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("http server shutdown")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
