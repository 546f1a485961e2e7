// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/ml"
)

// defaultAlertLimit caps alert listings when no limit is given.
const defaultAlertLimit = 50

// maxAlertLimit is the hard cap for alert listings.
const maxAlertLimit = 1000

// TrainFunc runs the training pipeline and returns the new model.
type TrainFunc func(ctx context.Context) (*ml.Model, *ml.Report, error)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	events  detection.EventStore
	alerts  detection.AlertStore
	engine  *detection.SweepEngine
	scorer  *ml.Scorer
	train   TrainFunc
	started time.Time
}

// NewHandlers wires the handler set. train may be nil when the server
// runs without the training endpoint.
func NewHandlers(events detection.EventStore, alerts detection.AlertStore,
	engine *detection.SweepEngine, scorer *ml.Scorer, train TrainFunc) *Handlers {
	return &Handlers{
		events:  events,
		alerts:  alerts,
		engine:  engine,
		scorer:  scorer,
		train:   train,
		started: time.Now(),
	}
}

// ingestRequest is the POST /events payload.
type ingestRequest struct {
	Username    string `json:"username"`
	SourceIP    string `json:"source_ip"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint"`
	UserAgent   string `json:"user_agent"`
}

// ingestResponse couples the stored event ID with the inline score.
type ingestResponse struct {
	EventID string             `json:"event_id"`
	Result  ml.RiskScoreResult `json:"result"`
}

// IngestEvent accepts one login event, persists it, folds it into the
// scorer's window cache, and returns the risk score for its source IP.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON", err)
		return
	}

	if req.Username == "" || req.SourceIP == "" {
		respondError(w, http.StatusBadRequest, "missing_field", "username and source_ip are required", nil)
		return
	}
	status := detection.LoginStatus(req.Status)
	if !status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_status",
			"status must be success, fail, fail_no_user or fail_wrong_password", nil)
		return
	}

	ev := &detection.LoginEvent{
		ID:          uuid.NewString(),
		Username:    req.Username,
		SourceIP:    req.SourceIP,
		Status:      status,
		Fingerprint: req.Fingerprint,
		UserAgent:   req.UserAgent,
		Timestamp:   time.Now().UTC(),
	}

	if err := h.events.InsertLoginEvent(r.Context(), ev); err != nil {
		respondError(w, http.StatusInternalServerError, "store_failure", "persisting login event failed", err)
		return
	}
	metrics.EventsIngested.Inc()

	result := h.scorer.ScoreLoginAttempt(ev)
	writeJSON(w, http.StatusCreated, ingestResponse{EventID: ev.ID, Result: result})
}

// ListAlerts returns recent alerts, newest first.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	alerts, err := h.alerts.RecentAlerts(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failure", "querying alerts failed", err)
		return
	}
	if alerts == nil {
		alerts = []detection.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// RunSweep triggers one detection sweep immediately.
func (h *Handlers) RunSweep(w http.ResponseWriter, r *http.Request) {
	err := h.engine.RunSweepOnce(r.Context())
	switch {
	case errors.Is(err, detection.ErrSweepRunning):
		respondError(w, http.StatusConflict, "sweep_running", "a sweep is already in progress", nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "sweep_failure", "detection sweep failed", err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}

// ruleStatus describes one detection rule in config responses.
type ruleStatus struct {
	Enabled  bool `json:"enabled"`
	Settings any  `json:"settings"`
}

// GetDetectionConfig returns the engine cooldown and per-rule settings.
func (h *Handlers) GetDetectionConfig(w http.ResponseWriter, _ *http.Request) {
	rules := make(map[string]ruleStatus)
	for _, name := range h.engine.DetectorNames() {
		d := h.engine.Detector(name)
		if d == nil {
			continue
		}
		rules[name] = ruleStatus{Enabled: d.Enabled(), Settings: d.Settings()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cooldown_seconds": int(h.engine.Cooldown().Seconds()),
		"rules":            rules,
	})
}

// updateConfigRequest is the PUT /detection/config payload. Absent
// fields are left unchanged.
type updateConfigRequest struct {
	CooldownSeconds *int `json:"cooldown_seconds,omitempty"`
	Rules           map[string]struct {
		Enabled  *bool           `json:"enabled,omitempty"`
		Settings json.RawMessage `json:"settings,omitempty"`
	} `json:"rules,omitempty"`
}

// UpdateDetectionConfig applies runtime changes to the sweep engine and
// its detectors. Invalid values are rejected with 422 and nothing before
// them in the request is rolled back, so callers should send one change
// at a time when that matters.
func (h *Handlers) UpdateDetectionConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON", err)
		return
	}

	if req.CooldownSeconds != nil {
		if err := h.engine.SetCooldown(time.Duration(*req.CooldownSeconds) * time.Second); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid_cooldown", err.Error(), nil)
			return
		}
	}

	for name, rule := range req.Rules {
		if rule.Settings != nil {
			if err := h.engine.ConfigureDetector(name, rule.Settings); err != nil {
				status := http.StatusUnprocessableEntity
				if errors.Is(err, detection.ErrUnknownRule) {
					status = http.StatusNotFound
				}
				respondError(w, status, "invalid_rule_config", err.Error(), nil)
				return
			}
		}
		if rule.Enabled != nil {
			if err := h.engine.SetDetectorEnabled(name, *rule.Enabled); err != nil {
				respondError(w, http.StatusNotFound, "unknown_rule", err.Error(), nil)
				return
			}
		}
	}

	logging.Info().Msg("Detection configuration updated")
	h.GetDetectionConfig(w, r)
}

// GetScoringConfig returns the runtime scorer settings.
func (h *Handlers) GetScoringConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"block_threshold": h.scorer.BlockThreshold(),
		"horizon_seconds": int(h.scorer.Horizon().Seconds()),
	})
}

// updateScoringRequest is the PUT /scoring/config payload. Absent
// fields are left unchanged.
type updateScoringRequest struct {
	BlockThreshold *int `json:"block_threshold,omitempty"`
	HorizonSeconds *int `json:"horizon_seconds,omitempty"`
}

// UpdateScoringConfig applies runtime changes to the scorer: the default
// blocking threshold and the window cache retention horizon.
func (h *Handlers) UpdateScoringConfig(w http.ResponseWriter, r *http.Request) {
	var req updateScoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON", err)
		return
	}

	if req.BlockThreshold != nil {
		if err := h.scorer.SetBlockThreshold(*req.BlockThreshold); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid_threshold", err.Error(), nil)
			return
		}
	}
	if req.HorizonSeconds != nil {
		if err := h.scorer.SetHorizon(time.Duration(*req.HorizonSeconds) * time.Second); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid_horizon", err.Error(), nil)
			return
		}
	}

	logging.Info().Msg("Scoring configuration updated")
	h.GetScoringConfig(w, r)
}

// ScoreIP returns the current risk score for a source IP.
func (h *Handlers) ScoreIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		respondError(w, http.StatusBadRequest, "missing_ip", "source IP is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.scorer.ScoreIP(ip))
}

// ShouldBlock reports whether a source IP should be blocked. An optional
// threshold query parameter overrides the configured default.
func (h *Handlers) ShouldBlock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		respondError(w, http.StatusBadRequest, "missing_ip", "source IP is required", nil)
		return
	}

	threshold := 0
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			respondError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be in [1, 100]", nil)
			return
		}
		threshold = parsed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"source_ip": ip,
		"block":     h.scorer.ShouldBlock(ip, threshold),
	})
}

// GetModel returns the loaded model's metadata, or 404 when none is
// loaded yet.
func (h *Handlers) GetModel(w http.ResponseWriter, _ *http.Request) {
	meta, err := h.scorer.Metadata()
	if errors.Is(err, ml.ErrModelNotLoaded) {
		respondError(w, http.StatusNotFound, "model_not_loaded", "no classifier model is loaded", nil)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// TrainModel runs the training pipeline and swaps the new model into the
// scorer on success.
func (h *Handlers) TrainModel(w http.ResponseWriter, r *http.Request) {
	if h.train == nil {
		respondError(w, http.StatusNotImplemented, "training_disabled", "training is not enabled on this server", nil)
		return
	}

	model, report, err := h.train(r.Context())
	switch {
	case errors.Is(err, ml.ErrInsufficientData):
		respondError(w, http.StatusUnprocessableEntity, "insufficient_data", err.Error(), nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "training_failure", "model training failed", err)
		return
	}

	h.scorer.SetModel(model)
	writeJSON(w, http.StatusOK, report)
}

// ReloadModel re-reads the model artifact from disk.
func (h *Handlers) ReloadModel(w http.ResponseWriter, _ *http.Request) {
	if err := h.scorer.Reload(); err != nil {
		respondError(w, http.StatusInternalServerError, "reload_failure", "loading model artifact failed", err)
		return
	}
	meta, _ := h.scorer.Metadata()
	writeJSON(w, http.StatusOK, meta)
}

// Health reports liveness plus whether a model is loaded.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"model_loaded":   h.scorer.Model() != nil,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}
