// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/ml"
)

type fakeStore struct {
	mu        sync.Mutex
	events    []detection.LoginEvent
	alerts    []detection.Alert
	insertErr error
	alertsErr error
}

func (f *fakeStore) InsertLoginEvent(_ context.Context, ev *detection.LoginEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeStore) RecentEvents(_ context.Context, _ int) ([]detection.LoginEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]detection.LoginEvent(nil), f.events...), nil
}

func (f *fakeStore) EventsSince(ctx context.Context, _ time.Time) ([]detection.LoginEvent, error) {
	return f.RecentEvents(ctx, 0)
}

func (f *fakeStore) InsertAlert(_ context.Context, alert *detection.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, *alert)
	return nil
}

func (f *fakeStore) RecentAlerts(_ context.Context, limit int) ([]detection.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alertsErr != nil {
		return nil, f.alertsErr
	}
	out := append([]detection.Alert(nil), f.alerts...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) LastAlertTime(_ context.Context, alertType detection.AlertType, details string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last time.Time
	found := false
	for _, a := range f.alerts {
		if a.Type == alertType && a.Details == details && a.CreatedAt.After(last) {
			last = a.CreatedAt
			found = true
		}
	}
	return last, found, nil
}

type testServer struct {
	store  *fakeStore
	scorer *ml.Scorer
	router http.Handler
}

func newTestServer(t *testing.T, train TrainFunc) *testServer {
	t.Helper()

	store := &fakeStore{}
	cache := detection.NewWindowCache(time.Hour)
	scorer := ml.NewScorer(cache, "", 80)

	engine := detection.NewSweepEngine(store, store, detection.DefaultEngineConfig())
	engine.RegisterDetector("brute_force", detection.NewBruteForceDetector())
	engine.RegisterDetector("credential_stuffing", detection.NewCredentialStuffingDetector())

	h := NewHandlers(store, store, engine, scorer, train)
	return &testServer{
		store:  store,
		scorer: scorer,
		router: NewRouter(h, RouterConfig{}),
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestIngestEvent(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/events",
		`{"username": "alice", "source_ip": "10.0.0.1", "status": "fail"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		EventID string             `json:"event_id"`
		Result  ml.RiskScoreResult `json:"result"`
	}
	decodeBody(t, rec, &resp)
	if resp.EventID == "" {
		t.Error("event_id not set")
	}
	if resp.Result.SourceIP != "10.0.0.1" {
		t.Errorf("Result.SourceIP = %q, want 10.0.0.1", resp.Result.SourceIP)
	}
	// No model is loaded, so the score degrades to zero.
	if resp.Result.RiskScore != 0 || resp.Result.Classification != detection.LabelUnknown {
		t.Errorf("unexpected degraded result: %+v", resp.Result)
	}

	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()
	if len(ts.store.events) != 1 {
		t.Fatalf("persisted %d events, want 1", len(ts.store.events))
	}
	if ts.store.events[0].Username != "alice" {
		t.Errorf("persisted username = %q", ts.store.events[0].Username)
	}
}

func TestIngestEventValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{broken`},
		{"missing username", `{"source_ip": "10.0.0.1", "status": "fail"}`},
		{"missing source_ip", `{"username": "alice", "status": "fail"}`},
		{"bad status", `{"username": "alice", "source_ip": "10.0.0.1", "status": "maybe"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/events", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()
	if len(ts.store.events) != 0 {
		t.Errorf("persisted %d events from invalid requests, want 0", len(ts.store.events))
	}
}

func TestIngestEventStoreFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.insertErr = errors.New("disk full")

	rec := ts.do(t, http.MethodPost, "/api/v1/events",
		`{"username": "alice", "source_ip": "10.0.0.1", "status": "fail"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestListAlerts(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.alerts = []detection.Alert{{
		ID:        "a1",
		Type:      detection.AlertBruteForce,
		Details:   "Brute force attack detected from IP 10.0.0.1",
		CreatedAt: time.Now().UTC(),
	}}

	rec := ts.do(t, http.MethodGet, "/api/v1/alerts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Alerts []detection.Alert `json:"alerts"`
		Count  int               `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 1 || len(resp.Alerts) != 1 {
		t.Fatalf("count = %d, alerts = %d, want 1", resp.Count, len(resp.Alerts))
	}
	if resp.Alerts[0].ID != "a1" {
		t.Errorf("alert ID = %q, want a1", resp.Alerts[0].ID)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/alerts?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/alerts?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=abc status = %d, want 400", rec.Code)
	}
}

func TestRunSweepEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		ts.store.events = append(ts.store.events, detection.LoginEvent{
			Username:  "admin",
			SourceIP:  "10.0.0.9",
			Status:    detection.StatusFail,
			Timestamp: now.Add(-time.Duration(i) * time.Second),
		})
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/detection/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()
	if len(ts.store.alerts) != 1 {
		t.Errorf("sweep persisted %d alerts, want 1", len(ts.store.alerts))
	}
}

func TestDetectionConfigRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/v1/detection/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
	var got struct {
		CooldownSeconds int `json:"cooldown_seconds"`
		Rules           map[string]struct {
			Enabled  bool            `json:"enabled"`
			Settings json.RawMessage `json:"settings"`
		} `json:"rules"`
	}
	decodeBody(t, rec, &got)
	if got.CooldownSeconds != 300 {
		t.Errorf("cooldown_seconds = %d, want 300", got.CooldownSeconds)
	}
	if len(got.Rules) != 2 {
		t.Fatalf("rules = %v, want brute_force and credential_stuffing", got.Rules)
	}
	if !got.Rules["brute_force"].Enabled {
		t.Error("brute_force must be enabled by default")
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/detection/config", `{
		"cooldown_seconds": 120,
		"rules": {
			"brute_force": {"enabled": false, "settings": {"window_seconds": 60, "threshold": 10}}
		}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &got)
	if got.CooldownSeconds != 120 {
		t.Errorf("cooldown_seconds = %d after update, want 120", got.CooldownSeconds)
	}
	if got.Rules["brute_force"].Enabled {
		t.Error("brute_force still enabled after update")
	}
}

func TestUpdateDetectionConfigRejections(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPut, "/api/v1/detection/config",
		`{"rules": {"brute_force": {"settings": {"threshold": 0}}}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid settings status = %d, want 422", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/detection/config",
		`{"rules": {"no_such_rule": {"enabled": true}}}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown rule status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/detection/config", `{nope`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
}

func TestScoringConfigRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)

	var cfg struct {
		BlockThreshold int `json:"block_threshold"`
		HorizonSeconds int `json:"horizon_seconds"`
	}
	rec := ts.do(t, http.MethodGet, "/api/v1/scoring/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &cfg)
	if cfg.BlockThreshold != 80 || cfg.HorizonSeconds != 3600 {
		t.Fatalf("defaults = %+v, want threshold 80 and horizon 3600", cfg)
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/scoring/config",
		`{"block_threshold": 55, "horizon_seconds": 600}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &cfg)
	if cfg.BlockThreshold != 55 || cfg.HorizonSeconds != 600 {
		t.Errorf("after update = %+v, want threshold 55 and horizon 600", cfg)
	}
	if got := ts.scorer.BlockThreshold(); got != 55 {
		t.Errorf("scorer BlockThreshold = %d, want 55", got)
	}
	if got := ts.scorer.Horizon(); got != 10*time.Minute {
		t.Errorf("scorer Horizon = %s, want 10m", got)
	}
}

func TestUpdateScoringConfigRejections(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPut, "/api/v1/scoring/config", `{"block_threshold": 500}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d for out-of-range threshold, want 422", rec.Code)
	}
	rec = ts.do(t, http.MethodPut, "/api/v1/scoring/config", `{"horizon_seconds": 0}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d for non-positive horizon, want 422", rec.Code)
	}
	rec = ts.do(t, http.MethodPut, "/api/v1/scoring/config", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for malformed body, want 400", rec.Code)
	}

	// Rejections leave the configured values untouched.
	if got := ts.scorer.BlockThreshold(); got != 80 {
		t.Errorf("scorer BlockThreshold = %d after rejections, want 80", got)
	}
	if got := ts.scorer.Horizon(); got != time.Hour {
		t.Errorf("scorer Horizon = %s after rejections, want 1h", got)
	}
}

func TestScoreEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/v1/score/10.0.0.1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result ml.RiskScoreResult
	decodeBody(t, rec, &result)
	if result.SourceIP != "10.0.0.1" || result.RiskScore != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/score/10.0.0.1/block", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("block status = %d, want 200", rec.Code)
	}
	var block struct {
		SourceIP string `json:"source_ip"`
		Block    bool   `json:"block"`
	}
	decodeBody(t, rec, &block)
	if block.Block {
		t.Error("block = true with no model loaded")
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/score/10.0.0.1/block?threshold=500", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("threshold=500 status = %d, want 400", rec.Code)
	}
}

func TestModelEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	if rec := ts.do(t, http.MethodGet, "/api/v1/model/", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET model status = %d with no model, want 404", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/v1/model/train", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("train status = %d with no TrainFunc, want 501", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/v1/model/reload", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("reload status = %d with no artifact, want 500", rec.Code)
	}
}

func TestTrainModelEndpoint(t *testing.T) {
	insufficient := func(_ context.Context) (*ml.Model, *ml.Report, error) {
		return nil, nil, ml.ErrInsufficientData
	}
	ts := newTestServer(t, insufficient)
	if rec := ts.do(t, http.MethodPost, "/api/v1/model/train", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d for insufficient data, want 422", rec.Code)
	}

	failing := func(_ context.Context) (*ml.Model, *ml.Report, error) {
		return nil, nil, errors.New("dataset build failed")
	}
	ts = newTestServer(t, failing)
	if rec := ts.do(t, http.MethodPost, "/api/v1/model/train", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d for training failure, want 500", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.ModelLoaded {
		t.Error("model_loaded = true with no model")
	}
}
