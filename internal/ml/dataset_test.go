// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/detection"
)

type stubEventStore struct {
	events []detection.LoginEvent
}

func (s *stubEventStore) InsertLoginEvent(_ context.Context, ev *detection.LoginEvent) error {
	s.events = append(s.events, *ev)
	return nil
}

func (s *stubEventStore) RecentEvents(_ context.Context, _ int) ([]detection.LoginEvent, error) {
	return s.events, nil
}

func (s *stubEventStore) EventsSince(_ context.Context, _ time.Time) ([]detection.LoginEvent, error) {
	return s.events, nil
}

func TestDatasetBuilderBuild(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &stubEventStore{}

	// A rapid single-user failure burst and one benign success.
	for i := 0; i < 20; i++ {
		store.events = append(store.events, detection.LoginEvent{
			Username:  "admin",
			SourceIP:  "10.0.0.1",
			Status:    detection.StatusFailWrongPassword,
			Timestamp: now.Add(time.Duration(i-20) * time.Second),
		})
	}
	store.events = append(store.events, detection.LoginEvent{
		Username:  "alice",
		SourceIP:  "10.0.0.2",
		Status:    detection.StatusSuccess,
		Timestamp: now.Add(-time.Minute),
	})

	b := NewDatasetBuilder(store, time.Hour)
	b.now = func() time.Time { return now }

	samples, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	// Sorted by source IP: the attacker comes first.
	if samples[0].Label != detection.LabelBruteForce {
		t.Errorf("samples[0].Label = %q, want %q", samples[0].Label, detection.LabelBruteForce)
	}
	if samples[1].Label != detection.LabelNormal {
		t.Errorf("samples[1].Label = %q, want %q", samples[1].Label, detection.LabelNormal)
	}
	if samples[0].Features.TotalAttempts != 20 {
		t.Errorf("samples[0].Features.TotalAttempts = %v, want 20", samples[0].Features.TotalAttempts)
	}
}

func writeSyntheticFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synthetic.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSyntheticSamples(t *testing.T) {
	path := writeSyntheticFile(t, `[
		{"features": {"failed_attempt_rate": 1, "unique_users_targeted": 1, "attempts_per_minute": 40, "total_attempts": 20}, "label": "brute_force"},
		{"features": {"success_rate": 1, "unique_users_targeted": 1, "attempts_per_minute": 0.1, "total_attempts": 2}, "label": "normal"}
	]`)

	samples, err := LoadSyntheticSamples(path)
	if err != nil {
		t.Fatalf("LoadSyntheticSamples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Label != detection.LabelBruteForce {
		t.Errorf("samples[0].Label = %q, want %q", samples[0].Label, detection.LabelBruteForce)
	}
}

func TestLoadSyntheticSamplesRejectsUnknownLabel(t *testing.T) {
	path := writeSyntheticFile(t,
		`[{"features": {"total_attempts": 5}, "label": "weird"}]`)
	if _, err := LoadSyntheticSamples(path); err == nil {
		t.Fatal("expected error for unknown label")
	}
}

func TestLoadSyntheticSamplesRejectsEmptyVector(t *testing.T) {
	// A valid label with no features is a corrupt sample, not a benign
	// zero: loading must fail, not feed zeros into training.
	path := writeSyntheticFile(t,
		`[{"label": "normal"}]`)
	if _, err := LoadSyntheticSamples(path); err == nil {
		t.Fatal("expected error for empty feature vector")
	}
}

func TestLoadSyntheticSamplesMissingFile(t *testing.T) {
	if _, err := LoadSyntheticSamples(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
