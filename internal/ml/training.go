// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// ErrInsufficientData is returned when the combined sample count is below
// the configured minimum. Training refuses to proceed rather than fit a
// model on noise.
var ErrInsufficientData = errors.New("insufficient training data")

// Sample is one labeled training row.
type Sample struct {
	Features detection.FeatureVector `json:"features"`
	Label    string                  `json:"label"`
}

// TrainingConfig holds pipeline parameters.
type TrainingConfig struct {
	// MinSamples is the minimum combined sample count.
	MinSamples int

	// Folds is the cross-validation fold count.
	Folds int

	Forest RandomForestConfig
}

// DefaultTrainingConfig returns the standard pipeline parameters.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		MinSamples: 50,
		Folds:      5,
		Forest:     DefaultRandomForestConfig(),
	}
}

// Report summarizes a training run.
type Report struct {
	Samples     int            `json:"samples"`
	ClassCounts map[string]int `json:"class_counts"`
	Accuracy    float64        `json:"accuracy"`
	CVAccuracy  float64        `json:"cv_accuracy"`
	CVStdDev    float64        `json:"cv_std_dev"`
}

// Train runs the full pipeline: stratified 80/20 split, forest training,
// held-out evaluation, and stratified k-fold cross-validation over the
// whole set. The returned model is the one fit on the training split.
func Train(samples []Sample, cfg TrainingConfig) (*Model, *Report, error) {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 50
	}
	if cfg.Folds < 2 {
		cfg.Folds = 5
	}

	if len(samples) < cfg.MinSamples {
		metrics.TrainingRuns.WithLabelValues("insufficient_data").Inc()
		return nil, nil, fmt.Errorf("%w: have %d samples, need %d",
			ErrInsufficientData, len(samples), cfg.MinSamples)
	}

	classes, y := encodeLabels(samples)
	if len(classes) < 2 {
		return nil, nil, fmt.Errorf("%w: all %d samples share label %q",
			ErrInsufficientData, len(samples), classes[0])
	}

	x := make([][]float64, len(samples))
	for i := range samples {
		x[i] = samples[i].Features.Values()
	}

	rng := rand.New(rand.NewSource(cfg.Forest.Seed))
	trainIdx, testIdx := stratifiedSplit(y, len(classes), 0.2, rng)

	forest, err := TrainForest(cfg.Forest, gather(x, trainIdx), gatherInts(y, trainIdx), classes)
	if err != nil {
		metrics.TrainingRuns.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("training forest: %w", err)
	}

	accuracy := evaluate(forest, x, y, testIdx)
	if len(testIdx) == 0 {
		accuracy = evaluate(forest, x, y, trainIdx)
	}

	cvMean, cvStd, err := crossValidate(x, y, classes, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("cross-validating: %w", err)
	}

	report := &Report{
		Samples:     len(samples),
		ClassCounts: countLabels(samples),
		Accuracy:    accuracy,
		CVAccuracy:  cvMean,
		CVStdDev:    cvStd,
	}

	model := &Model{
		Forest: forest,
		Metadata: Metadata{
			FeatureNames:      append([]string(nil), detection.FeatureNames...),
			Classes:           classes,
			Accuracy:          accuracy,
			CVAccuracy:        cvMean,
			CVStdDev:          cvStd,
			TrainingSamples:   len(samples),
			TrainedAt:         time.Now().UTC(),
			FeatureImportance: importanceMap(forest),
		},
	}

	logging.Info().
		Int("samples", report.Samples).
		Float64("accuracy", report.Accuracy).
		Float64("cv_accuracy", report.CVAccuracy).
		Msg("Model training completed")
	metrics.TrainingRuns.WithLabelValues("ok").Inc()

	return model, report, nil
}

// encodeLabels returns sorted distinct labels and the per-sample class
// indices. Sorting fixes the probability vector order independent of
// sample order.
func encodeLabels(samples []Sample) ([]string, []int) {
	seen := make(map[string]int)
	for _, s := range samples {
		seen[s.Label] = 0
	}
	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	for i, label := range classes {
		seen[label] = i
	}

	y := make([]int, len(samples))
	for i, s := range samples {
		y[i] = seen[s.Label]
	}
	return classes, y
}

func countLabels(samples []Sample) map[string]int {
	counts := make(map[string]int)
	for _, s := range samples {
		counts[s.Label]++
	}
	return counts
}

// stratifiedSplit shuffles each class independently and holds out
// testFraction of it. Classes too small to contribute a test row stay
// entirely in the training split.
func stratifiedSplit(y []int, numClasses int, testFraction float64, rng *rand.Rand) (train, test []int) {
	byClass := make([][]int, numClasses)
	for i, cls := range y {
		byClass[cls] = append(byClass[cls], i)
	}

	for _, indices := range byClass {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		nTest := int(float64(len(indices)) * testFraction)
		test = append(test, indices[:nTest]...)
		train = append(train, indices[nTest:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// crossValidate runs stratified k-fold CV with fresh forests per fold.
// The fold count is capped by the smallest class size so every fold sees
// every class.
func crossValidate(x [][]float64, y []int, classes []string, cfg TrainingConfig) (mean, std float64, err error) {
	folds := cfg.Folds
	smallest := smallestClassSize(y, len(classes))
	if smallest < folds {
		folds = smallest
	}
	if folds < 2 {
		// Not enough per-class data for CV at all; report zero rather
		// than fabricating a score.
		return 0, 0, nil
	}

	rng := rand.New(rand.NewSource(cfg.Forest.Seed + 1))
	testFolds := stratifiedFolds(y, len(classes), folds, rng)

	scores := make([]float64, 0, folds)
	for _, testIdx := range testFolds {
		inTest := make(map[int]bool, len(testIdx))
		for _, idx := range testIdx {
			inTest[idx] = true
		}
		trainIdx := make([]int, 0, len(y)-len(testIdx))
		for i := range y {
			if !inTest[i] {
				trainIdx = append(trainIdx, i)
			}
		}

		forest, ferr := TrainForest(cfg.Forest, gather(x, trainIdx), gatherInts(y, trainIdx), classes)
		if ferr != nil {
			return 0, 0, ferr
		}
		scores = append(scores, evaluate(forest, x, y, testIdx))
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean = sum / float64(len(scores))

	var sq float64
	for _, s := range scores {
		d := s - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(scores)))
	return mean, std, nil
}

// stratifiedFolds assigns each class's shuffled indices round-robin to k
// folds and returns the test indices per fold.
func stratifiedFolds(y []int, numClasses, k int, rng *rand.Rand) [][]int {
	folds := make([][]int, k)

	byClass := make([][]int, numClasses)
	for i, cls := range y {
		byClass[cls] = append(byClass[cls], i)
	}
	for _, indices := range byClass {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		for i, idx := range indices {
			folds[i%k] = append(folds[i%k], idx)
		}
	}

	for _, fold := range folds {
		sort.Ints(fold)
	}
	return folds
}

func smallestClassSize(y []int, numClasses int) int {
	counts := make([]int, numClasses)
	for _, cls := range y {
		counts[cls]++
	}
	smallest := len(y)
	for _, c := range counts {
		if c < smallest {
			smallest = c
		}
	}
	return smallest
}

func evaluate(forest *RandomForest, x [][]float64, y []int, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	correct := 0
	for _, idx := range indices {
		pred, err := forest.Predict(x[idx])
		if err == nil && pred == y[idx] {
			correct++
		}
	}
	return float64(correct) / float64(len(indices))
}

func importanceMap(forest *RandomForest) map[string]float64 {
	if len(forest.Importance) != len(detection.FeatureNames) {
		return nil
	}
	out := make(map[string]float64, len(forest.Importance))
	for i, v := range forest.Importance {
		out[detection.FeatureNames[i]] = v
	}
	return out
}

func gather(x [][]float64, indices []int) [][]float64 {
	out := make([][]float64, 0, len(indices))
	for _, idx := range indices {
		out = append(out, x[idx])
	}
	return out
}

func gatherInts(y []int, indices []int) []int {
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		out = append(out, y[idx])
	}
	return out
}
