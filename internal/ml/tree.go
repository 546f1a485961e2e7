// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package ml implements the classification stack for Vigil: a CART
// decision tree, a random forest ensemble over it, the offline training
// pipeline, model persistence, and the real-time risk scorer.
//
// The forest is hand-rolled on purpose. The model is small (hundreds of
// samples, eight features), must serialize to a portable artifact, and
// must predict deterministically; a dependency-free implementation keeps
// all three properties under our control.
package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// treeParams bound tree growth.
type treeParams struct {
	maxDepth    int
	minSplit    int
	minLeaf     int
	maxFeatures int
	numClasses  int
}

// treeNode is one node of a decision tree. Leaf nodes carry a normalized
// class distribution and have no children.
type treeNode struct {
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
	Counts    []float64 `json:"counts,omitempty"`
}

func (n *treeNode) leaf() bool {
	return n.Left == nil
}

// decisionTree is a single CART tree trained with gini impurity.
type decisionTree struct {
	Root *treeNode `json:"root"`
}

// buildTree grows a tree over the rows selected by indices. importance
// accumulates per-feature impurity decrease, weighted by node size.
func buildTree(x [][]float64, y []int, indices []int, params treeParams, rng *rand.Rand, importance []float64) *decisionTree {
	return &decisionTree{
		Root: buildNode(x, y, indices, 0, params, rng, importance),
	}
}

func buildNode(x [][]float64, y []int, indices []int, depth int, params treeParams, rng *rand.Rand, importance []float64) *treeNode {
	counts := classCounts(y, indices, params.numClasses)

	if depth >= params.maxDepth || len(indices) < params.minSplit || isPure(counts) {
		return leafNode(counts, len(indices))
	}

	split := bestSplit(x, y, indices, params, rng)
	if split == nil {
		return leafNode(counts, len(indices))
	}

	if importance != nil {
		importance[split.feature] += split.gain * float64(len(indices))
	}

	return &treeNode{
		Feature:   split.feature,
		Threshold: split.threshold,
		Left:      buildNode(x, y, split.left, depth+1, params, rng, importance),
		Right:     buildNode(x, y, split.right, depth+1, params, rng, importance),
	}
}

func leafNode(counts []float64, total int) *treeNode {
	normalized := make([]float64, len(counts))
	if total > 0 {
		for i, c := range counts {
			normalized[i] = c / float64(total)
		}
	}
	return &treeNode{Counts: normalized}
}

type splitResult struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// bestSplit searches a random feature subset for the gini-optimal
// threshold. Features are sampled without replacement; candidate
// thresholds are midpoints between adjacent distinct values. Returns nil
// when no split satisfies the minimum leaf size.
func bestSplit(x [][]float64, y []int, indices []int, params treeParams, rng *rand.Rand) *splitResult {
	numFeatures := len(x[0])
	features := sampleFeatures(numFeatures, params.maxFeatures, rng)

	parentGini := gini(classCounts(y, indices, params.numClasses), len(indices))

	var best *splitResult
	for _, feature := range features {
		sorted := make([]int, len(indices))
		copy(sorted, indices)
		sort.Slice(sorted, func(i, j int) bool {
			return x[sorted[i]][feature] < x[sorted[j]][feature]
		})

		leftCounts := make([]float64, params.numClasses)
		rightCounts := classCounts(y, sorted, params.numClasses)

		for i := 0; i < len(sorted)-1; i++ {
			cls := y[sorted[i]]
			leftCounts[cls]++
			rightCounts[cls]--

			// Only split between distinct values.
			if x[sorted[i]][feature] == x[sorted[i+1]][feature] {
				continue
			}

			nLeft := i + 1
			nRight := len(sorted) - nLeft
			if nLeft < params.minLeaf || nRight < params.minLeaf {
				continue
			}

			weighted := (float64(nLeft)*gini(leftCounts, nLeft) +
				float64(nRight)*gini(rightCounts, nRight)) / float64(len(sorted))
			gain := parentGini - weighted
			if best != nil && gain <= best.gain {
				continue
			}

			threshold := (x[sorted[i]][feature] + x[sorted[i+1]][feature]) / 2
			best = &splitResult{
				feature:   feature,
				threshold: threshold,
				gain:      gain,
				left:      append([]int(nil), sorted[:nLeft]...),
				right:     append([]int(nil), sorted[nLeft:]...),
			}
		}
	}

	if best == nil || best.gain <= 0 {
		return nil
	}
	return best
}

// sampleFeatures picks k distinct feature indices via partial
// Fisher-Yates, in ascending order for deterministic tie-breaking.
func sampleFeatures(n, k int, rng *rand.Rand) []int {
	if k >= n {
		features := make([]int, n)
		for i := range features {
			features[i] = i
		}
		return features
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	features := perm[:k]
	sort.Ints(features)
	return features
}

func classCounts(y []int, indices []int, numClasses int) []float64 {
	counts := make([]float64, numClasses)
	for _, idx := range indices {
		counts[y[idx]]++
	}
	return counts
}

func isPure(counts []float64) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func gini(counts []float64, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / float64(total)
		impurity -= p * p
	}
	return impurity
}

// predictProba walks the tree and returns the leaf class distribution.
func (t *decisionTree) predictProba(features []float64) []float64 {
	node := t.Root
	for !node.leaf() {
		if features[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Counts
}

// validate checks structural integrity after deserialization.
func (t *decisionTree) validate(numFeatures, numClasses int) error {
	if t.Root == nil {
		return fmt.Errorf("tree has no root")
	}
	return validateNode(t.Root, numFeatures, numClasses)
}

func validateNode(n *treeNode, numFeatures, numClasses int) error {
	if n.leaf() {
		if len(n.Counts) != numClasses {
			return fmt.Errorf("leaf has %d class counts, want %d", len(n.Counts), numClasses)
		}
		return nil
	}
	if n.Feature < 0 || n.Feature >= numFeatures {
		return fmt.Errorf("node feature index %d out of range [0, %d)", n.Feature, numFeatures)
	}
	if n.Right == nil {
		return fmt.Errorf("node has left child but no right child")
	}
	if math.IsNaN(n.Threshold) {
		return fmt.Errorf("node threshold is NaN")
	}
	if err := validateNode(n.Left, numFeatures, numClasses); err != nil {
		return err
	}
	return validateNode(n.Right, numFeatures, numClasses)
}
