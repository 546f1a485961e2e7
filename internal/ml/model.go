// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/detection"
)

// ErrModelNotLoaded is returned by operations that require a trained
// model when none has been loaded yet.
var ErrModelNotLoaded = errors.New("classifier model not loaded")

// Metadata describes a trained model. It travels in the same artifact as
// the forest so the two can never drift apart.
type Metadata struct {
	FeatureNames      []string           `json:"feature_names"`
	Classes           []string           `json:"classes"`
	Accuracy          float64            `json:"accuracy"`
	CVAccuracy        float64            `json:"cv_accuracy"`
	CVStdDev          float64            `json:"cv_std_dev"`
	TrainingSamples   int                `json:"training_samples"`
	TrainedAt         time.Time          `json:"trained_at"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
}

// Model is the deployable artifact: forest plus metadata.
type Model struct {
	Forest   *RandomForest `json:"forest"`
	Metadata Metadata      `json:"metadata"`
}

// Predict returns the most probable class label.
func (m *Model) Predict(features []float64) (string, error) {
	idx, err := m.Forest.Predict(features)
	if err != nil {
		return "", err
	}
	return m.Forest.Classes[idx], nil
}

// PredictProba returns the probability for each class, aligned with
// Metadata.Classes.
func (m *Model) PredictProba(features []float64) ([]float64, error) {
	return m.Forest.PredictProba(features)
}

// ProbabilityMap returns class name to probability.
func (m *Model) ProbabilityMap(features []float64) (map[string]float64, error) {
	probs, err := m.Forest.PredictProba(features)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(probs))
	for i, p := range probs {
		out[m.Forest.Classes[i]] = p
	}
	return out, nil
}

// Validate checks internal consistency of the artifact.
func (m *Model) Validate() error {
	if m.Forest == nil {
		return fmt.Errorf("model has no forest")
	}
	if err := m.Forest.Validate(); err != nil {
		return err
	}
	if len(m.Metadata.FeatureNames) != m.Forest.NumFeatures {
		return fmt.Errorf("metadata names %d features, forest expects %d",
			len(m.Metadata.FeatureNames), m.Forest.NumFeatures)
	}
	if len(m.Metadata.Classes) != len(m.Forest.Classes) {
		return fmt.Errorf("metadata lists %d classes, forest has %d",
			len(m.Metadata.Classes), len(m.Forest.Classes))
	}
	for i, name := range m.Metadata.Classes {
		if name != m.Forest.Classes[i] {
			return fmt.Errorf("metadata class %d is %q, forest has %q", i, name, m.Forest.Classes[i])
		}
	}
	if len(m.Metadata.FeatureNames) != len(detection.FeatureNames) {
		return fmt.Errorf("model expects %d features, extractor produces %d",
			len(m.Metadata.FeatureNames), len(detection.FeatureNames))
	}
	return nil
}

// SaveModel writes the artifact atomically: a temp file in the target
// directory, fsynced, then renamed over the destination. Forest and
// metadata land together or not at all.
func SaveModel(path string, m *Model) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid model: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp model file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp model file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp model file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing model file %s: %w", path, err)
	}
	return nil
}

// LoadModel reads and validates an artifact.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file %s: %w", path, err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing model file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}
	return &m, nil
}
