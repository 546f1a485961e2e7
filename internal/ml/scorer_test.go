// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ml

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/detection"
)

func trainedModel(t *testing.T) *Model {
	t.Helper()
	model, _, err := Train(labeledSamples(30, 42), quickTrainingConfig())
	if err != nil {
		t.Fatalf("training fixture model: %v", err)
	}
	return model
}

func TestScorerWithoutModel(t *testing.T) {
	cache := detection.NewWindowCache(time.Hour)
	s := NewScorer(cache, filepath.Join(t.TempDir(), "missing.json"), 80)

	result := s.ScoreIP("10.0.0.1")
	if result.RiskScore != 0 {
		t.Errorf("RiskScore = %d without model, want 0", result.RiskScore)
	}
	if result.Classification != detection.LabelUnknown {
		t.Errorf("Classification = %q, want unknown", result.Classification)
	}
	if result.RiskLevel != RiskLow {
		t.Errorf("RiskLevel = %q, want LOW", result.RiskLevel)
	}

	if err := s.Reload(); err == nil {
		t.Error("Reload succeeded with no artifact on disk")
	}
	if s.Model() != nil {
		t.Error("failed Reload must not install a model")
	}
}

func TestScorerScoresHostileTraffic(t *testing.T) {
	cache := detection.NewWindowCache(time.Hour)
	s := NewScorer(cache, "", 80)
	s.SetModel(trainedModel(t))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	// A rapid burst of failures against one account.
	for i := 0; i < 30; i++ {
		s.ScoreLoginAttempt(&detection.LoginEvent{
			Username:  "admin",
			SourceIP:  "203.0.113.7",
			Status:    detection.StatusFailWrongPassword,
			UserAgent: "curl",
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
	}

	result := s.ScoreIP("203.0.113.7")
	if result.Classification != detection.LabelBruteForce {
		t.Errorf("Classification = %q, want brute_force", result.Classification)
	}
	if result.RiskScore < 80 {
		t.Errorf("RiskScore = %d for a hot brute force run, want >= 80", result.RiskScore)
	}
	if result.RiskLevel != RiskCritical {
		t.Errorf("RiskLevel = %q, want CRITICAL", result.RiskLevel)
	}
	if result.Confidence <= 0 || result.Confidence > 100 {
		t.Errorf("Confidence = %v, want (0, 100]", result.Confidence)
	}

	if !s.ShouldBlock("203.0.113.7", 0) {
		t.Error("ShouldBlock must fire at the default threshold")
	}
	if s.ShouldBlock("203.0.113.7", 100) && result.RiskScore < 100 {
		t.Error("ShouldBlock fired above the score")
	}
}

func TestScorerBenignTrafficStaysLow(t *testing.T) {
	cache := detection.NewWindowCache(time.Hour)
	s := NewScorer(cache, "", 80)
	s.SetModel(trainedModel(t))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	result := s.ScoreLoginAttempt(&detection.LoginEvent{
		Username:  "alice",
		SourceIP:  "198.51.100.3",
		Status:    detection.StatusSuccess,
		UserAgent: "firefox",
		Timestamp: now,
	})

	if result.Classification != detection.LabelNormal {
		t.Errorf("Classification = %q, want normal", result.Classification)
	}
	if result.RiskScore != 0 {
		t.Errorf("RiskScore = %d for one successful login, want 0", result.RiskScore)
	}
	if s.ShouldBlock("198.51.100.3", 0) {
		t.Error("ShouldBlock fired on benign traffic")
	}
}

func TestScorerReloadAndClear(t *testing.T) {
	model := trainedModel(t)
	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModel(path, model); err != nil {
		t.Fatal(err)
	}

	cache := detection.NewWindowCache(time.Hour)
	s := NewScorer(cache, path, 80)
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if s.Model() == nil {
		t.Fatal("model not installed after Reload")
	}
	meta, err := s.Metadata()
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Classes) != len(model.Metadata.Classes) {
		t.Errorf("Metadata classes = %v, want %v", meta.Classes, model.Metadata.Classes)
	}

	now := time.Now()
	s.ScoreLoginAttempt(&detection.LoginEvent{
		Username: "alice", SourceIP: "10.0.0.1",
		Status: detection.StatusFail, Timestamp: now,
	})
	if cache.Len() != 1 {
		t.Fatalf("cache Len = %d, want 1", cache.Len())
	}
	s.ClearIP("10.0.0.1")
	if cache.Len() != 0 {
		t.Errorf("cache Len = %d after ClearIP, want 0", cache.Len())
	}
}

func TestScorerBlockThresholdBounds(t *testing.T) {
	s := NewScorer(detection.NewWindowCache(time.Hour), "", 0)
	if got := s.BlockThreshold(); got != 80 {
		t.Errorf("BlockThreshold = %d for invalid init value, want default 80", got)
	}
	if err := s.SetBlockThreshold(101); err == nil {
		t.Error("SetBlockThreshold accepted an out-of-range value")
	}
	if got := s.BlockThreshold(); got != 80 {
		t.Errorf("BlockThreshold = %d after out-of-range set, want 80", got)
	}
	if err := s.SetBlockThreshold(55); err != nil {
		t.Fatalf("SetBlockThreshold: %v", err)
	}
	if got := s.BlockThreshold(); got != 55 {
		t.Errorf("BlockThreshold = %d, want 55", got)
	}
}

func TestScorerHorizonOverride(t *testing.T) {
	cache := detection.NewWindowCache(time.Hour)
	s := NewScorer(cache, "", 80)

	if got := s.Horizon(); got != time.Hour {
		t.Fatalf("Horizon = %s, want 1h", got)
	}
	if err := s.SetHorizon(0); err == nil {
		t.Error("SetHorizon accepted a non-positive duration")
	}
	if err := s.SetHorizon(30 * time.Minute); err != nil {
		t.Fatalf("SetHorizon: %v", err)
	}
	if got := cache.Horizon(); got != 30*time.Minute {
		t.Errorf("cache Horizon = %s after override, want 30m", got)
	}
}

func TestRiskLevelBands(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, RiskLow},
		{39, RiskLow},
		{40, RiskMedium},
		{59, RiskMedium},
		{60, RiskHigh},
		{79, RiskHigh},
		{80, RiskCritical},
		{100, RiskCritical},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("score_%d", tt.score), func(t *testing.T) {
			if got := RiskLevel(tt.score); got != tt.want {
				t.Errorf("RiskLevel(%d) = %q, want %q", tt.score, got, tt.want)
			}
		})
	}
}
