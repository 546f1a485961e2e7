// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ml

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// Risk level bands on the 0-100 score.
const (
	RiskCritical = "CRITICAL"
	RiskHigh     = "HIGH"
	RiskMedium   = "MEDIUM"
	RiskLow      = "LOW"
)

// riskWeights maps a predicted class to its base risk. Unknown classes
// score in the middle of the range.
var riskWeights = map[string]float64{
	detection.LabelNormal:             0,
	detection.LabelSuspicious:         60,
	detection.LabelCredentialStuffing: 85,
	detection.LabelBruteForce:         95,
}

const unknownClassWeight = 50

// RiskScoreResult is the outcome of scoring one source IP.
type RiskScoreResult struct {
	SourceIP       string             `json:"source_ip"`
	RiskScore      int                `json:"risk_score"`
	RiskLevel      string             `json:"risk_level"`
	Classification string             `json:"classification"`
	Confidence     float64            `json:"confidence"`
	Probabilities  map[string]float64 `json:"probabilities,omitempty"`
}

// Scorer maintains the online window cache and scores source IPs against
// the loaded model. Scoring never fails: with no model loaded or a
// prediction error, it returns the zero score with the unknown label so
// callers degrade to rule-based detection only.
//
// The model is held behind an atomic pointer; Reload swaps it without
// blocking in-flight scoring.
type Scorer struct {
	cache     *detection.WindowCache
	modelPath string

	model          atomic.Pointer[Model]
	blockThreshold atomic.Int64

	// now is replaceable in tests.
	now func() time.Time
}

// NewScorer creates a scorer over the given window cache. modelPath is
// where Reload reads the artifact from.
func NewScorer(cache *detection.WindowCache, modelPath string, blockThreshold int) *Scorer {
	s := &Scorer{
		cache:     cache,
		modelPath: modelPath,
		now:       time.Now,
	}
	if blockThreshold <= 0 || blockThreshold > 100 {
		blockThreshold = 80
	}
	s.blockThreshold.Store(int64(blockThreshold))
	return s
}

// Reload loads the model artifact from disk and swaps it in. A load
// failure leaves the current model in place.
func (s *Scorer) Reload() error {
	model, err := LoadModel(s.modelPath)
	if err != nil {
		metrics.ModelLoads.WithLabelValues("error").Inc()
		return err
	}
	s.model.Store(model)
	metrics.ModelLoads.WithLabelValues("ok").Inc()
	logging.Info().
		Str("path", s.modelPath).
		Float64("accuracy", model.Metadata.Accuracy).
		Time("trained_at", model.Metadata.TrainedAt).
		Msg("Classifier model loaded")
	return nil
}

// SetModel swaps in an already-built model, e.g. right after training.
func (s *Scorer) SetModel(m *Model) {
	s.model.Store(m)
}

// Model returns the currently loaded model, or nil.
func (s *Scorer) Model() *Model {
	return s.model.Load()
}

// Metadata returns the loaded model's metadata.
func (s *Scorer) Metadata() (Metadata, error) {
	m := s.model.Load()
	if m == nil {
		return Metadata{}, ErrModelNotLoaded
	}
	return m.Metadata, nil
}

// ScoreLoginAttempt folds one event into the window cache and scores its
// source IP. This is the ingest-path entry point.
func (s *Scorer) ScoreLoginAttempt(ev *detection.LoginEvent) RiskScoreResult {
	s.cache.Update(ev, s.now())
	return s.ScoreIP(ev.SourceIP)
}

// ScoreIP scores a source IP from its current window state.
func (s *Scorer) ScoreIP(ip string) RiskScoreResult {
	start := time.Now()
	defer func() {
		metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	}()

	m := s.model.Load()
	if m == nil {
		return RiskScoreResult{
			SourceIP:       ip,
			RiskScore:      0,
			RiskLevel:      RiskLow,
			Classification: detection.LabelUnknown,
		}
	}

	vec := detection.Extract(s.cache.Snapshot(ip, s.now()))
	probs, err := m.PredictProba(vec.Values())
	if err != nil {
		logging.Error().Err(err).Str("source_ip", ip).Msg("Risk prediction failed")
		return RiskScoreResult{
			SourceIP:       ip,
			RiskScore:      0,
			RiskLevel:      RiskLow,
			Classification: detection.LabelUnknown,
		}
	}

	best := argmax(probs)
	label := m.Forest.Classes[best]
	maxProb := probs[best]

	weight, ok := riskWeights[label]
	if !ok {
		weight = unknownClassWeight
	}

	score := int(math.Round(weight * maxProb))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	metrics.RiskScores.Observe(float64(score))

	probMap := make(map[string]float64, len(probs))
	for i, p := range probs {
		probMap[m.Forest.Classes[i]] = p
	}

	return RiskScoreResult{
		SourceIP:       ip,
		RiskScore:      score,
		RiskLevel:      RiskLevel(score),
		Classification: label,
		Confidence:     maxProb * 100,
		Probabilities:  probMap,
	}
}

// ShouldBlock reports whether ip's current risk score meets the
// threshold. A threshold of zero or less uses the configured default.
func (s *Scorer) ShouldBlock(ip string, threshold int) bool {
	if threshold <= 0 {
		threshold = int(s.blockThreshold.Load())
	}
	return s.ScoreIP(ip).RiskScore >= threshold
}

// SetBlockThreshold updates the default blocking threshold at runtime.
func (s *Scorer) SetBlockThreshold(threshold int) error {
	if threshold < 1 || threshold > 100 {
		return fmt.Errorf("block threshold must be in [1, 100], got %d", threshold)
	}
	s.blockThreshold.Store(int64(threshold))
	return nil
}

// BlockThreshold returns the default blocking threshold.
func (s *Scorer) BlockThreshold() int {
	return int(s.blockThreshold.Load())
}

// Horizon returns the window cache retention horizon.
func (s *Scorer) Horizon() time.Duration {
	return s.cache.Horizon()
}

// SetHorizon updates the window cache retention horizon at runtime.
func (s *Scorer) SetHorizon(horizon time.Duration) error {
	return s.cache.SetHorizon(horizon)
}

// ClearIP drops the cached window for one source IP.
func (s *Scorer) ClearIP(ip string) {
	s.cache.Remove(ip)
}

// RiskLevel maps a 0-100 score onto the level bands.
func RiskLevel(score int) string {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}
