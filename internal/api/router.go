// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds router-level settings.
type RouterConfig struct {
	// RateLimitPerMinute caps ingest requests per client IP.
	RateLimitPerMinute int
}

// NewRouter builds the chi router for the vigil server.
func NewRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 600
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Instrument)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Ingest is the only endpoint exposed to untrusted callers;
		// rate limit it per client IP.
		r.With(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute)).
			Post("/events", h.IngestEvent)

		r.Get("/alerts", h.ListAlerts)

		r.Route("/detection", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
			r.Get("/config", h.GetDetectionConfig)
			r.Put("/config", h.UpdateDetectionConfig)
		})

		r.Route("/scoring", func(r chi.Router) {
			r.Get("/config", h.GetScoringConfig)
			r.Put("/config", h.UpdateScoringConfig)
		})

		r.Route("/score", func(r chi.Router) {
			r.Get("/{ip}", h.ScoreIP)
			r.Get("/{ip}/block", h.ShouldBlock)
		})

		r.Route("/model", func(r chi.Router) {
			r.Get("/", h.GetModel)
			r.Post("/train", h.TrainModel)
			r.Post("/reload", h.ReloadModel)
		})
	})

	return r
}

// NewServer builds the http.Server around the router.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}
