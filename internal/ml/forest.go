package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// RandomForest is a bagged ensemble of decision trees voting by averaged
// class probabilities.
type RandomForest struct {
	NTrees   int
	MaxDepth int
	// MaxFeatures per split; 0 uses the square root of the feature count.
	MaxFeatures int
	Seed        int64
	// Workers bounds how many trees grow concurrently.
	Workers int

	Trees   []*DecisionTree
	classes []string
}

// NewRandomForest returns a forest of n trees.
func NewRandomForest(n, maxDepth int, seed int64, workers int) *RandomForest {
	return &RandomForest{NTrees: n, MaxDepth: maxDepth, Seed: seed, Workers: workers}
}

// Classes returns the class labels in probability order.
func (f *RandomForest) Classes() []string { return f.classes }

// Fit grows every tree on a bootstrap sample of X.
func (f *RandomForest) Fit(X [][]float64, y []string) error {
	if err := checkShape(X, y); err != nil {
		return err
	}
	if f.NTrees <= 0 {
		return fmt.Errorf("ml: forest needs at least one tree, got %d", f.NTrees)
	}
	classes, enc := encodeLabels(y)
	f.classes = classes

	maxFeatures := f.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = max(1, int(math.Sqrt(float64(len(X[0])))))
	}
	workers := f.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("ml: failed to create worker pool: %w", err)
	}
	defer pool.Release()

	f.Trees = make([]*DecisionTree, f.NTrees)
	var wg sync.WaitGroup
	var submitErr error
	for i := 0; i < f.NTrees; i++ {
		seed := f.Seed + int64(i)
		tree := &DecisionTree{
			MaxDepth:        f.MaxDepth,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
			MaxFeatures:     maxFeatures,
			Seed:            seed,
		}
		f.Trees[i] = tree
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			sample := make([]int, len(X))
			for j := range sample {
				sample[j] = rng.Intn(len(X))
			}
			tree.fit(X, enc, classes, sample)
		}); err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}
	wg.Wait()
	if submitErr != nil {
		return fmt.Errorf("ml: failed to schedule tree: %w", submitErr)
	}
	return nil
}

// PredictProba averages the class distributions of all trees.
func (f *RandomForest) PredictProba(x []float64) []float64 {
	out := make([]float64, len(f.classes))
	if len(f.Trees) == 0 {
		return out
	}
	for _, t := range f.Trees {
		for i, p := range t.PredictProba(x) {
			out[i] += p
		}
	}
	for i := range out {
		out[i] /= float64(len(f.Trees))
	}
	return out
}
