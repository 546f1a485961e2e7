// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"

	"github.com/tomtom215/vigil/internal/logging"
)

// LogNotifier writes alerts to the application log. It is the default
// notifier; external sinks implement Notifier the same way.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify logs the alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, alert *Alert) error {
	logging.Warn().
		Str("alert_id", alert.ID).
		Str("alert_type", string(alert.Type)).
		Str("details", alert.Details).
		Time("created_at", alert.CreatedAt).
		Msg("Security alert")
	return nil
}
