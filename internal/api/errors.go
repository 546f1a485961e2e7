// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package api exposes the HTTP surface of the vigil server: login event
// ingest with inline risk scoring, alert queries, detection rule
// management, and model operations.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/logging"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON serializes v with the shared JSON library. Serialization
// failures are logged, not surfaced; headers are already gone by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Encoding API response failed")
	}
}

// respondError writes the error envelope and logs server-side causes.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		logging.Error().Err(err).Str("code", code).Msg(message)
	}

	var resp errorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	writeJSON(w, status, resp)
}
