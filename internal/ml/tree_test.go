package ml

import (
	"math"
	"strings"
	"testing"
)

// separable returns samples where the label is DDoS iff the first feature
// exceeds 10; the second feature is noise.
func separable(n int) ([][]float64, []string) {
	var X [][]float64
	var y []string
	for i := 0; i < n; i++ {
		v := float64(i % 20)
		X = append(X, []float64{v, float64((i * 7) % 5)})
		if v > 10 {
			y = append(y, "DDoS")
		} else {
			y = append(y, "BENIGN")
		}
	}
	return X, y
}

func TestDecisionTreeLearnsThreshold(t *testing.T) {
	X, y := separable(100)
	tree := NewDecisionTree(0, 42)
	if err := tree.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if got := strings.Join(tree.Classes(), ","); got != "BENIGN,DDoS" {
		t.Errorf("Classes() = %s", got)
	}
	if tree.Root.Feature != 0 || tree.Root.Threshold != 10.5 {
		t.Errorf("root split = feature %d <= %v, want 0 <= 10.5", tree.Root.Feature, tree.Root.Threshold)
	}
	if d := tree.Root.Depth(); d != 2 {
		t.Errorf("Depth() = %d, want 2", d)
	}
	if got := tree.Predict([]float64{15, 0}); got != "DDoS" {
		t.Errorf("Predict(15) = %s", got)
	}
	if got := tree.Predict([]float64{3, 0}); got != "BENIGN" {
		t.Errorf("Predict(3) = %s", got)
	}
	proba := tree.PredictProba([]float64{15, 0})
	if proba[0] != 0 || proba[1] != 1 {
		t.Errorf("PredictProba() = %v", proba)
	}
}

func TestDecisionTreeMaxDepth(t *testing.T) {
	// XOR needs two levels; a stump cannot be pure.
	X := [][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {0, 0}, {1, 1}}
	y := []string{"a", "b", "b", "a", "a", "a"}

	stump := NewDecisionTree(1, 1)
	if err := stump.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if d := stump.Root.Depth(); d != 2 {
		t.Errorf("stump depth = %d, want 2", d)
	}

	full := NewDecisionTree(0, 1)
	if err := full.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	preds := predictAll(full, X)
	if Accuracy(y, preds) != 1 {
		t.Errorf("unlimited tree should fit XOR, got %v", preds)
	}
}

func TestDecisionTreeInputErrors(t *testing.T) {
	tree := NewDecisionTree(0, 0)
	if err := tree.Fit(nil, nil); err == nil {
		t.Error("expected error for empty input")
	}
	if err := tree.Fit([][]float64{{1}}, []string{"a", "b"}); err == nil {
		t.Error("expected error for label mismatch")
	}
	if err := tree.Fit([][]float64{{1}, {1, 2}}, []string{"a", "b"}); err == nil {
		t.Error("expected error for ragged rows")
	}
}

func TestRandomForest(t *testing.T) {
	X, y := separable(200)
	f := NewRandomForest(15, 0, 7, 4)
	if err := f.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if len(f.Trees) != 15 {
		t.Fatalf("trees = %d", len(f.Trees))
	}
	if acc := Accuracy(y, predictAll(f, X)); acc < 0.95 {
		t.Errorf("training accuracy = %v", acc)
	}
	var sum float64
	for _, p := range f.PredictProba(X[0]) {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %v", sum)
	}

	again := NewRandomForest(15, 0, 7, 1)
	if err := again.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	for i := range f.Trees {
		if f.Trees[i].Root.Threshold != again.Trees[i].Root.Threshold {
			t.Fatalf("tree %d differs between runs with the same seed", i)
		}
	}
}

func TestExportText(t *testing.T) {
	X, y := separable(100)
	tree := NewDecisionTree(0, 42)
	if err := tree.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	want := "|--- bytes <= 10.50\n" +
		"|   |--- class: BENIGN\n" +
		"|--- bytes >  10.50\n" +
		"|   |--- class: DDoS\n"
	if got := ExportText(tree, []string{"bytes", "noise"}, 0); got != want {
		t.Errorf("ExportText() =\n%s\nwant\n%s", got, want)
	}
}

func TestExportTextTruncates(t *testing.T) {
	leaf := func(c int) *Node {
		v := []float64{0, 0}
		v[c] = 1
		return &Node{Feature: -1, Value: v}
	}
	tree := &DecisionTree{
		classes: []string{"a", "b"},
		Root: &Node{Feature: 0, Threshold: 1, Value: []float64{1, 1},
			Left: leaf(0),
			Right: &Node{Feature: 0, Threshold: 2, Value: []float64{0, 1},
				Left:  leaf(1),
				Right: &Node{Feature: 0, Threshold: 3, Value: []float64{0, 1}, Left: leaf(0), Right: leaf(1)},
			},
		},
	}
	got := ExportText(tree, []string{"x"}, 1)
	if !strings.Contains(got, "|   |   |--- truncated branch of depth 2\n") {
		t.Errorf("expected truncation marker:\n%s", got)
	}
	if !strings.Contains(got, "|   |   |--- class: b\n") {
		t.Errorf("expected leaf below the depth limit:\n%s", got)
	}
}
