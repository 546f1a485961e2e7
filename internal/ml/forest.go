// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// RandomForestConfig holds ensemble hyperparameters.
type RandomForestConfig struct {
	// Trees is the ensemble size.
	Trees int `json:"trees"`

	// MaxDepth bounds individual tree depth.
	MaxDepth int `json:"max_depth"`

	// MinSplit is the minimum node size eligible for splitting.
	MinSplit int `json:"min_split"`

	// MinLeaf is the minimum samples on each side of a split.
	MinLeaf int `json:"min_leaf"`

	// Seed makes bootstrap sampling and feature subsampling reproducible.
	Seed int64 `json:"seed"`
}

// DefaultRandomForestConfig returns the standard hyperparameters.
func DefaultRandomForestConfig() RandomForestConfig {
	return RandomForestConfig{
		Trees:    100,
		MaxDepth: 10,
		MinSplit: 5,
		MinLeaf:  2,
		Seed:     42,
	}
}

// RandomForest is a bagged ensemble of CART trees with per-split feature
// subsampling (sqrt of the feature count).
type RandomForest struct {
	Config      RandomForestConfig `json:"config"`
	Classes     []string           `json:"classes"`
	NumFeatures int                `json:"num_features"`
	Trees       []*decisionTree    `json:"trees"`

	// Importance is normalized per-feature impurity decrease, in
	// feature-vector order.
	Importance []float64 `json:"importance,omitempty"`
}

// TrainForest trains a forest on x with class-index labels y. classes
// maps label index to name and defines the probability vector order.
// Training is deterministic for a given config and input ordering: tree
// t derives its RNG from Seed+t.
func TrainForest(config RandomForestConfig, x [][]float64, y []int, classes []string) (*RandomForest, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("training set is empty")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("feature rows (%d) and labels (%d) differ in length", len(x), len(y))
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	numFeatures := len(x[0])
	for i, row := range x {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), numFeatures)
		}
	}
	for i, label := range y {
		if label < 0 || label >= len(classes) {
			return nil, fmt.Errorf("label %d of row %d out of range [0, %d)", label, i, len(classes))
		}
	}

	maxFeatures := int(math.Sqrt(float64(numFeatures)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}
	params := treeParams{
		maxDepth:    config.MaxDepth,
		minSplit:    config.MinSplit,
		minLeaf:     config.MinLeaf,
		maxFeatures: maxFeatures,
		numClasses:  len(classes),
	}

	n := len(x)
	forest := &RandomForest{
		Config:      config,
		Classes:     classes,
		NumFeatures: numFeatures,
		Trees:       make([]*decisionTree, 0, config.Trees),
	}
	importance := make([]float64, numFeatures)

	for t := 0; t < config.Trees; t++ {
		rng := rand.New(rand.NewSource(config.Seed + int64(t)))

		bootstrap := make([]int, n)
		for i := range bootstrap {
			bootstrap[i] = rng.Intn(n)
		}

		forest.Trees = append(forest.Trees, buildTree(x, y, bootstrap, params, rng, importance))
	}

	var total float64
	for _, v := range importance {
		total += v
	}
	if total > 0 {
		forest.Importance = make([]float64, numFeatures)
		for i, v := range importance {
			forest.Importance[i] = v / total
		}
	}

	return forest, nil
}

// PredictProba returns the mean leaf distribution across all trees,
// aligned with Classes.
func (f *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(features) != f.NumFeatures {
		return nil, fmt.Errorf("got %d features, model expects %d", len(features), f.NumFeatures)
	}

	probs := make([]float64, len(f.Classes))
	for _, tree := range f.Trees {
		for i, p := range tree.predictProba(features) {
			probs[i] += p
		}
	}
	for i := range probs {
		probs[i] /= float64(len(f.Trees))
	}
	return probs, nil
}

// Predict returns the index of the most probable class. Ties resolve to
// the lowest index, which is stable because Classes is sorted.
func (f *RandomForest) Predict(features []float64) (int, error) {
	probs, err := f.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return argmax(probs), nil
}

// Validate checks structural integrity, typically after deserialization.
func (f *RandomForest) Validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	if len(f.Classes) < 2 {
		return fmt.Errorf("forest has %d classes, need at least 2", len(f.Classes))
	}
	if f.NumFeatures <= 0 {
		return fmt.Errorf("forest feature count %d is not positive", f.NumFeatures)
	}
	for i, tree := range f.Trees {
		if tree == nil {
			return fmt.Errorf("tree %d is nil", i)
		}
		if err := tree.validate(f.NumFeatures, len(f.Classes)); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
