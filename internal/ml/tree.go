// Package ml provides the classifiers trained on flow datasets and the
// predictors used to score live traffic.
package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// Classifier is a trained model producing class probabilities.
type Classifier interface {
	Fit(X [][]float64, y []string) error
	PredictProba(x []float64) []float64
	Classes() []string
}

// PredictLabel returns the most probable class and its probability.
func PredictLabel(c Classifier, x []float64) (string, float64) {
	proba := c.PredictProba(x)
	classes := c.Classes()
	if len(classes) == 0 || len(proba) != len(classes) {
		return "", 0
	}
	best := 0
	for i, p := range proba {
		if p > proba[best] {
			best = i
		}
	}
	return classes[best], proba[best]
}

// Node is one node of a decision tree. Leaves have Feature -1.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold,omitempty"`
	Impurity  float64   `json:"impurity"`
	Samples   int       `json:"samples"`
	Value     []float64 `json:"value"`
	Left      *Node     `json:"left,omitempty"`
	Right     *Node     `json:"right,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// Depth returns the number of levels below and including n.
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	if n.IsLeaf() {
		return 1
	}
	return 1 + max(n.Left.Depth(), n.Right.Depth())
}

// proba normalizes the class counts of a node.
func (n *Node) proba() []float64 {
	out := make([]float64, len(n.Value))
	var total float64
	for _, v := range n.Value {
		total += v
	}
	if total == 0 {
		return out
	}
	for i, v := range n.Value {
		out[i] = v / total
	}
	return out
}

// DecisionTree is a CART classifier splitting on gini impurity.
type DecisionTree struct {
	// MaxDepth limits the tree depth; 0 grows until leaves are pure.
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures limits the features tried per split; 0 tries all.
	MaxFeatures int
	Seed        int64

	Root    *Node
	classes []string
	rng     *rand.Rand
}

// NewDecisionTree returns a tree with the usual CART defaults.
func NewDecisionTree(maxDepth int, seed int64) *DecisionTree {
	return &DecisionTree{
		MaxDepth:        maxDepth,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            seed,
	}
}

// Classes returns the class labels in probability order.
func (t *DecisionTree) Classes() []string { return t.classes }

var errEmptyTrainingSet = errors.New("ml: empty training set")

// encodeLabels maps labels to indices into the sorted set of distinct labels.
func encodeLabels(y []string) ([]string, []int) {
	set := make(map[string]struct{}, 8)
	for _, v := range y {
		set[v] = struct{}{}
	}
	classes := make([]string, 0, len(set))
	for v := range set {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	enc := make([]int, len(y))
	for i, v := range y {
		enc[i] = index[v]
	}
	return classes, enc
}

func checkShape(X [][]float64, y []string) error {
	if len(X) == 0 {
		return errEmptyTrainingSet
	}
	if len(X) != len(y) {
		return fmt.Errorf("ml: %d samples but %d labels", len(X), len(y))
	}
	p := len(X[0])
	for i, row := range X {
		if len(row) != p {
			return fmt.Errorf("ml: row %d has %d features, want %d", i, len(row), p)
		}
	}
	return nil
}

// Fit grows the tree on X and y.
func (t *DecisionTree) Fit(X [][]float64, y []string) error {
	if err := checkShape(X, y); err != nil {
		return err
	}
	classes, enc := encodeLabels(y)
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	t.fit(X, enc, classes, idx)
	return nil
}

// fit grows the tree on the rows in idx with labels already encoded
// against classes.
func (t *DecisionTree) fit(X [][]float64, y []int, classes []string, idx []int) {
	t.classes = classes
	if t.MinSamplesSplit < 2 {
		t.MinSamplesSplit = 2
	}
	if t.MinSamplesLeaf < 1 {
		t.MinSamplesLeaf = 1
	}
	t.rng = rand.New(rand.NewSource(t.Seed))
	t.Root = t.build(X, y, idx, 1)
	t.rng = nil
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func (t *DecisionTree) build(X [][]float64, y []int, idx []int, depth int) *Node {
	k := len(t.classes)
	counts := make([]float64, k)
	for _, i := range idx {
		counts[y[i]]++
	}
	n := len(idx)
	node := &Node{
		Feature:  -1,
		Samples:  n,
		Value:    counts,
		Impurity: gini(counts, float64(n)),
	}

	if node.Impurity == 0 ||
		(t.MaxDepth > 0 && depth > t.MaxDepth) ||
		n < t.MinSamplesSplit ||
		n < 2*t.MinSamplesLeaf {
		return node
	}

	feature, threshold, ok := t.bestSplit(X, y, idx, counts)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	node.Feature = feature
	node.Threshold = threshold
	node.Left = t.build(X, y, left, depth+1)
	node.Right = t.build(X, y, right, depth+1)
	return node
}

// candidateFeatures returns the features examined at one split.
func (t *DecisionTree) candidateFeatures(p int) []int {
	if t.MaxFeatures <= 0 || t.MaxFeatures >= p {
		out := make([]int, p)
		for i := range out {
			out[i] = i
		}
		return out
	}
	perm := t.rng.Perm(p)[:t.MaxFeatures]
	sort.Ints(perm)
	return perm
}

// bestSplit scans every candidate feature for the threshold minimizing the
// weighted gini impurity of the two children.
func (t *DecisionTree) bestSplit(X [][]float64, y []int, idx []int, total []float64) (int, float64, bool) {
	n := len(idx)
	k := len(total)
	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := 0.0

	sorted := make([]int, n)
	left := make([]float64, k)
	right := make([]float64, k)

	for _, f := range t.candidateFeatures(len(X[idx[0]])) {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return X[sorted[a]][f] < X[sorted[b]][f] })

		for c := range left {
			left[c] = 0
			right[c] = total[c]
		}
		for pos := 0; pos < n-1; pos++ {
			cls := y[sorted[pos]]
			left[cls]++
			right[cls]--

			cur, next := X[sorted[pos]][f], X[sorted[pos+1]][f]
			if cur == next {
				continue
			}
			nl, nr := pos+1, n-pos-1
			if nl < t.MinSamplesLeaf || nr < t.MinSamplesLeaf {
				continue
			}
			imp := (float64(nl)*gini(left, float64(nl)) + float64(nr)*gini(right, float64(nr))) / float64(n)
			if bestFeature < 0 || imp < bestImpurity {
				bestFeature = f
				bestImpurity = imp
				bestThreshold = cur + (next-cur)/2
				if bestThreshold >= next {
					bestThreshold = cur
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// PredictProba returns the class distribution of the leaf reached by x.
func (t *DecisionTree) PredictProba(x []float64) []float64 {
	n := t.leaf(x)
	if n == nil {
		return make([]float64, len(t.classes))
	}
	return n.proba()
}

func (t *DecisionTree) leaf(x []float64) *Node {
	n := t.Root
	for n != nil && !n.IsLeaf() {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n
}

// Predict returns the most probable class for x.
func (t *DecisionTree) Predict(x []float64) string {
	label, _ := PredictLabel(t, x)
	return label
}
