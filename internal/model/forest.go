package model

import (
	"fmt"
	"math"
	"math/rand"
)

// Forest is an isolation forest: an ensemble of randomly split trees where
// the expected path length to isolate a sample measures how anomalous it is.
// Outliers isolate in few splits, so short average paths mean high scores.
type Forest struct {
	trees      []*treeNode
	numTrees   int
	sampleSize int
	maxDepth   int
}

type treeNode struct {
	splitFeature int
	splitValue   float64
	left         *treeNode
	right        *treeNode
	size         int
}

// NewForest configures an untrained forest.
func NewForest(numTrees, sampleSize int) *Forest {
	if numTrees <= 0 {
		numTrees = 100
	}
	if sampleSize <= 1 {
		sampleSize = 256
	}
	return &Forest{
		numTrees:   numTrees,
		sampleSize: sampleSize,
		maxDepth:   int(math.Ceil(math.Log2(float64(sampleSize)))),
	}
}

// Fit builds the ensemble over the given samples. rng drives subsampling and
// split selection; a fixed seed makes training reproducible.
func (f *Forest) Fit(data [][]float64, rng *rand.Rand) error {
	if len(data) == 0 {
		return fmt.Errorf("no training data")
	}

	f.trees = make([]*treeNode, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		sample := subsample(data, f.sampleSize, rng)
		f.trees[i] = buildTree(sample, 0, f.maxDepth, rng)
	}
	return nil
}

// RawScore returns the isolation score in (0, 1]: values near 1 isolate
// quickly (anomalous), values around 0.5 and below look normal.
func (f *Forest) RawScore(sample []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}

	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, sample, 0)
	}
	avg := total / float64(len(f.trees))

	c := averagePathLength(f.sampleSize)
	return math.Pow(2, -avg/c)
}

func buildTree(data [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &treeNode{size: len(data)}
	}

	featureIdx := rng.Intn(len(data[0]))
	minVal, maxVal := featureRange(data, featureIdx)
	if minVal == maxVal {
		return &treeNode{size: len(data)}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, sample := range data {
		if sample[featureIdx] < splitValue {
			left = append(left, sample)
		} else {
			right = append(right, sample)
		}
	}

	return &treeNode{
		splitFeature: featureIdx,
		splitValue:   splitValue,
		size:         len(data),
		left:         buildTree(left, depth+1, maxDepth, rng),
		right:        buildTree(right, depth+1, maxDepth, rng),
	}
}

func pathLength(node *treeNode, sample []float64, depth int) float64 {
	if node.left == nil && node.right == nil {
		return float64(depth) + averagePathLength(node.size)
	}
	if sample[node.splitFeature] < node.splitValue {
		return pathLength(node.left, sample, depth+1)
	}
	return pathLength(node.right, sample, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2.0*h - 2.0*float64(n-1)/float64(n)
}

func subsample(data [][]float64, size int, rng *rand.Rand) [][]float64 {
	if len(data) <= size {
		return data
	}
	sample := make([][]float64, size)
	for i := range sample {
		sample[i] = data[rng.Intn(len(data))]
	}
	return sample
}

func featureRange(data [][]float64, idx int) (float64, float64) {
	minVal, maxVal := data[0][idx], data[0][idx]
	for _, sample := range data {
		if sample[idx] < minVal {
			minVal = sample[idx]
		}
		if sample[idx] > maxVal {
			maxVal = sample[idx]
		}
	}
	return minVal, maxVal
}
