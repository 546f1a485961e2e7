// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ml

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
)

// DatasetBuilder turns stored login events into labeled training samples.
//
// Events from the lookback window are replayed per source IP through a
// window cache with the lookback as horizon, then each IP's snapshot is
// extracted and labeled with the rule-threshold heuristics.
type DatasetBuilder struct {
	store    detection.EventStore
	lookback time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewDatasetBuilder creates a builder reading from store with the given
// lookback window.
func NewDatasetBuilder(store detection.EventStore, lookback time.Duration) *DatasetBuilder {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &DatasetBuilder{
		store:    store,
		lookback: lookback,
		now:      time.Now,
	}
}

// Build extracts one labeled sample per source IP seen in the lookback
// window. Samples come back sorted by source IP for reproducible runs.
func (b *DatasetBuilder) Build(ctx context.Context) ([]Sample, error) {
	now := b.now()
	events, err := b.store.EventsSince(ctx, now.Add(-b.lookback))
	if err != nil {
		return nil, fmt.Errorf("reading events for training: %w", err)
	}

	cache := detection.NewWindowCache(b.lookback)
	ips := make(map[string]struct{})
	for i := range events {
		cache.Update(&events[i], now)
		ips[events[i].SourceIP] = struct{}{}
	}

	sorted := make([]string, 0, len(ips))
	for ip := range ips {
		sorted = append(sorted, ip)
	}
	sort.Strings(sorted)

	samples := make([]Sample, 0, len(sorted))
	for _, ip := range sorted {
		vec := detection.Extract(cache.Snapshot(ip, now))
		samples = append(samples, Sample{
			Features: vec,
			Label:    detection.DetermineLabel(vec),
		})
	}

	logging.Info().
		Int("events", len(events)).
		Int("samples", len(samples)).
		Dur("lookback", b.lookback).
		Msg("Training dataset built from stored events")
	return samples, nil
}

// LoadSyntheticSamples reads supplementary labeled samples from a JSON
// file: an array of {"features": {...}, "label": "..."} objects. Samples
// with unknown labels or empty feature vectors are rejected, not skipped;
// a corrupt synthetic set should fail the run loudly.
func LoadSyntheticSamples(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading synthetic samples %s: %w", path, err)
	}

	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parsing synthetic samples %s: %w", path, err)
	}

	for i, s := range samples {
		switch s.Label {
		case detection.LabelNormal, detection.LabelSuspicious,
			detection.LabelCredentialStuffing, detection.LabelBruteForce:
		default:
			return nil, fmt.Errorf("synthetic sample %d has unknown label %q", i, s.Label)
		}
		// Every real window holds at least one attempt; a zero vector
		// means the features were never populated.
		if s.Features.TotalAttempts < 1 {
			return nil, fmt.Errorf("synthetic sample %d has an empty feature vector", i)
		}
	}

	logging.Info().
		Int("samples", len(samples)).
		Str("path", path).
		Msg("Synthetic samples loaded")
	return samples, nil
}
