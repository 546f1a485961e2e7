// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package metrics defines Prometheus collectors for Vigil.
//
// Collectors are registered on the default registry via promauto and
// exposed on /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts login events accepted on the ingest path.
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_events_ingested_total",
		Help: "Login events accepted for storage and scoring",
	})

	// SweepsTotal counts completed detection sweeps by outcome.
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_detection_sweeps_total",
		Help: "Detection sweeps by outcome (ok, error, skipped)",
	}, []string{"outcome"})

	// SweepDuration observes wall time of a full detection sweep.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_detection_sweep_duration_seconds",
		Help:    "Duration of a full detection sweep",
		Buckets: prometheus.DefBuckets,
	})

	// AlertsEmitted counts persisted alerts by type.
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_alerts_emitted_total",
		Help: "Alerts persisted after deduplication, by alert type",
	}, []string{"type"})

	// AlertsSuppressed counts alerts dropped by deduplication.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_alerts_suppressed_total",
		Help: "Alert candidates suppressed by cooldown or store dedup, by alert type",
	}, []string{"type"})

	// MalformedEventRows counts store rows skipped during reads.
	MalformedEventRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_malformed_event_rows_total",
		Help: "Event rows skipped because a field failed to parse",
	})

	// ScoringDuration observes per-request risk scoring latency.
	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_scoring_duration_seconds",
		Help:    "Latency of a single risk scoring call",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	// RiskScores observes the distribution of emitted risk scores.
	RiskScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_risk_scores",
		Help:    "Distribution of risk scores returned by the scorer",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// ModelLoads counts model artifact loads by outcome.
	ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_model_loads_total",
		Help: "Model artifact loads by outcome (ok, error)",
	}, []string{"outcome"})

	// TrainingRuns counts training pipeline runs by outcome.
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_training_runs_total",
		Help: "Training pipeline runs by outcome (ok, insufficient_data, error)",
	}, []string{"outcome"})

	// WindowCacheEntries gauges tracked source IPs in the window cache.
	WindowCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_window_cache_entries",
		Help: "Source IPs currently tracked by the window state cache",
	})

	// HTTPRequests counts API requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_http_requests_total",
		Help: "API requests by method, route pattern and status code",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes API request latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_http_request_duration_seconds",
		Help:    "API request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// HTTPActiveRequests gauges requests currently in flight.
	HTTPActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_http_active_requests",
		Help: "API requests currently being served",
	})
)
