// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// timeLayout is fixed-width UTC so string comparison orders rows
// chronologically. Do not switch to RFC3339Nano: trailing-zero trimming
// breaks the lexicographic property.
const timeLayout = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Store implements detection.EventStore and detection.AlertStore on DuckDB.
type Store struct {
	db *DB
}

// NewStore creates a store over an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// InsertLoginEvent persists one event.
func (s *Store) InsertLoginEvent(ctx context.Context, ev *detection.LoginEvent) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO login_events (id, username, source_ip, status, fingerprint, user_agent, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Username, ev.SourceIP, string(ev.Status),
		nullable(ev.Fingerprint), nullable(ev.UserAgent), formatTime(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("inserting login event %s: %w", ev.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit most recent events, newest first.
// Rows with unparseable fields are skipped and counted, never returned
// as errors: one corrupt row must not blind the whole sweep.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]detection.LoginEvent, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, username, source_ip, status, fingerprint, user_agent, ts
		 FROM login_events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// EventsSince returns all events after since, newest first.
func (s *Store) EventsSince(ctx context.Context, since time.Time) ([]detection.LoginEvent, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, username, source_ip, status, fingerprint, user_agent, ts
		 FROM login_events WHERE ts > ? ORDER BY ts DESC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying events since %s: %w", since, err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

func (s *Store) scanEvents(rows *sql.Rows) ([]detection.LoginEvent, error) {
	var events []detection.LoginEvent
	for rows.Next() {
		var (
			ev          detection.LoginEvent
			status      string
			fingerprint sql.NullString
			userAgent   sql.NullString
			ts          string
		)
		if err := rows.Scan(&ev.ID, &ev.Username, &ev.SourceIP, &status, &fingerprint, &userAgent, &ts); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		ev.Status = detection.LoginStatus(status)
		parsed, err := parseTime(ts)
		if err != nil || !ev.Status.Valid() {
			metrics.MalformedEventRows.Inc()
			logging.Debug().
				Str("event_id", ev.ID).
				Str("status", status).
				Str("ts", ts).
				Msg("Skipping malformed event row")
			continue
		}
		ev.Timestamp = parsed
		ev.Fingerprint = fingerprint.String
		ev.UserAgent = userAgent.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

// InsertAlert persists one alert.
func (s *Store) InsertAlert(ctx context.Context, alert *detection.Alert) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO alerts (id, alert_type, details, ts) VALUES (?, ?, ?, ?)`,
		alert.ID, string(alert.Type), alert.Details, formatTime(alert.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting alert %s: %w", alert.ID, err)
	}
	return nil
}

// RecentAlerts returns up to limit most recent alerts, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]detection.Alert, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, alert_type, details, ts FROM alerts ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []detection.Alert
	for rows.Next() {
		var (
			alert     detection.Alert
			alertType string
			ts        string
		)
		if err := rows.Scan(&alert.ID, &alertType, &alert.Details, &ts); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		parsed, err := parseTime(ts)
		if err != nil {
			metrics.MalformedEventRows.Inc()
			logging.Debug().Str("alert_id", alert.ID).Str("ts", ts).Msg("Skipping malformed alert row")
			continue
		}
		alert.Type = detection.AlertType(alertType)
		alert.CreatedAt = parsed
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert rows: %w", err)
	}
	return alerts, nil
}

// LastAlertTime returns when an alert with the same type and identical
// details was last persisted. A row with an unparseable timestamp counts
// as absent; dedup then errs on the side of alerting.
func (s *Store) LastAlertTime(ctx context.Context, alertType detection.AlertType, details string) (time.Time, bool, error) {
	var ts string
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT ts FROM alerts WHERE alert_type = ? AND details = ? ORDER BY ts DESC LIMIT 1`,
		string(alertType), details).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last alert time: %w", err)
	}

	parsed, err := parseTime(ts)
	if err != nil {
		logging.Debug().Str("ts", ts).Msg("Unparseable alert timestamp treated as absent")
		return time.Time{}, false, nil
	}
	return parsed, true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
