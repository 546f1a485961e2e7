// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package detection implements rule-based attack detection over login
// events: a per-source-IP window state cache, sweep detectors for brute
// force and credential stuffing, a deduplicating sweep engine, and the
// feature extractor feeding the ml package.
package detection

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// LoginStatus is the outcome of a single authentication attempt.
type LoginStatus string

const (
	StatusSuccess           LoginStatus = "success"
	StatusFail              LoginStatus = "fail"
	StatusFailNoUser        LoginStatus = "fail_no_user"
	StatusFailWrongPassword LoginStatus = "fail_wrong_password"
)

// IsFailure reports whether the status is any failure variant.
func (s LoginStatus) IsFailure() bool {
	return strings.HasPrefix(string(s), "fail")
}

// Valid reports whether the status is one of the known values.
func (s LoginStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusFail, StatusFailNoUser, StatusFailWrongPassword:
		return true
	}
	return false
}

// LoginEvent is a single authentication attempt as stored and swept.
//
// Fingerprint is a keyed hash of the submitted password, never the
// password itself. It lets stuffing detection correlate reuse of one
// credential across many usernames.
type LoginEvent struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	SourceIP    string      `json:"source_ip"`
	Status      LoginStatus `json:"status"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	UserAgent   string      `json:"user_agent,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// AlertType identifies a detection rule family.
type AlertType string

const (
	AlertBruteForce         AlertType = "BRUTE_FORCE"
	AlertCredentialStuffing AlertType = "CREDENTIAL_STUFFING"
)

// Alert is a deduplicated detection finding.
//
// Details is intentionally count-independent: it names the attack and the
// offending source only, so that the same ongoing attack produces the
// same details string and store-level dedup can match it.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"alert_type"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a potential alert produced by a detector sweep, before
// deduplication. Key is the dedup grouping key (source IP or fingerprint).
type Candidate struct {
	Type    AlertType
	Key     string
	Details string
}

// Detector is a sweep-style detection rule. Sweep inspects a batch of
// recent events and returns zero or more candidates; it must be pure with
// respect to the event slice and deterministic for a given input.
type Detector interface {
	// Type returns the alert type this detector emits.
	Type() AlertType

	// Sweep evaluates recent events as of now and returns candidates
	// in deterministic order.
	Sweep(ctx context.Context, events []LoginEvent, now time.Time) []Candidate

	// Configure updates detector parameters from JSON, rejecting
	// invalid values without applying any of them.
	Configure(raw json.RawMessage) error

	// Settings returns the current parameters for display.
	Settings() any

	// Enabled reports whether the detector participates in sweeps.
	Enabled() bool

	// SetEnabled toggles the detector.
	SetEnabled(enabled bool)
}

// EventStore is the read/write surface the detection and scoring layers
// need from persistent event storage.
type EventStore interface {
	// InsertLoginEvent persists one event.
	InsertLoginEvent(ctx context.Context, ev *LoginEvent) error

	// RecentEvents returns up to limit most recent events, newest first.
	// Rows that fail to parse are skipped, not returned as errors.
	RecentEvents(ctx context.Context, limit int) ([]LoginEvent, error)

	// EventsSince returns all events with a timestamp after since,
	// newest first.
	EventsSince(ctx context.Context, since time.Time) ([]LoginEvent, error)
}

// AlertStore persists and queries alerts.
type AlertStore interface {
	// InsertAlert persists one alert.
	InsertAlert(ctx context.Context, alert *Alert) error

	// RecentAlerts returns up to limit most recent alerts, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]Alert, error)

	// LastAlertTime returns the creation time of the most recent alert
	// with the same type and identical details. ok is false when no such
	// alert exists.
	LastAlertTime(ctx context.Context, alertType AlertType, details string) (t time.Time, ok bool, err error)
}

// Notifier receives alerts after they are persisted.
type Notifier interface {
	Notify(ctx context.Context, alert *Alert) error
}
