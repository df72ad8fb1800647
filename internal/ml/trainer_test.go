package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
)

func flowFrame(n, offset int) *dataset.Frame {
	f := &dataset.Frame{Columns: []string{"bytes", "noise", "Label"}}
	for i := 0; i < n; i++ {
		v := (i + offset) % 20
		label := "BENIGN"
		if v > 10 {
			label = "DDoS"
		}
		f.Rows = append(f.Rows, []string{strconv.Itoa(v), strconv.Itoa((i * 7) % 5), label})
	}
	return f
}

func TestTrainerDecisionTree(t *testing.T) {
	dir := t.TempDir()
	tr := NewTrainer(dir, 42, 0, 10, 2)

	// The validation split has its columns in another order and lacks noise.
	val := flowFrame(20, 3).Select([]string{"Label", "bytes"}, "")
	res, err := tr.Train(context.Background(), flowFrame(100, 0), val, flowFrame(20, 5), nil, "")
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if res.Message != "Model Trained" || res.ModelType != KindDecisionTree {
		t.Errorf("Train() = %+v", res)
	}
	if res.ValidationAccuracy != 1 || res.TestAccuracy != 1 || res.F1 != 1 {
		t.Errorf("accuracy = %v / %v, f1 = %v", res.ValidationAccuracy, res.TestAccuracy, res.F1)
	}
	if !strings.HasPrefix(res.TreeStructure, "|--- bytes <= 10.50") {
		t.Errorf("tree structure:\n%s", res.TreeStructure)
	}
	if strings.Join(res.Features, ",") != "bytes,noise" {
		t.Errorf("features = %v", res.Features)
	}
	if _, err := os.Stat(filepath.Join(dir, "decision_tree.json")); err != nil {
		t.Errorf("model not saved: %v", err)
	}
	if res.ModelFile != "decision_tree.json" || len(res.ModelHash) != 64 {
		t.Errorf("model file = %s hash = %s", res.ModelFile, res.ModelHash)
	}
}

func TestTrainerRandomForest(t *testing.T) {
	tr := NewTrainer(t.TempDir(), 42, 0, 5, 2)
	res, err := tr.Train(context.Background(), flowFrame(100, 0), flowFrame(20, 1), flowFrame(20, 2), nil, "random_forest")
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if !strings.HasPrefix(res.TreeStructure, "Tree 1 of 5\n") {
		t.Errorf("tree structure:\n%s", res.TreeStructure)
	}
	m := readModel(t, tr.ModelPath(KindRandomForest))
	if len(m.Trees) != 5 || m.Scores == nil {
		t.Errorf("stored forest = %d trees, scores %v", len(m.Trees), m.Scores)
	}
}

func TestTrainerErrors(t *testing.T) {
	tr := NewTrainer(t.TempDir(), 42, 0, 5, 1)
	ctx := context.Background()

	_, err := tr.Train(ctx, flowFrame(10, 0), flowFrame(5, 0), flowFrame(5, 0), nil, "svm")
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("unknown model error = %v", err)
	}

	bad := flowFrame(10, 0)
	bad.Rows[3][0] = "tcp"
	_, err = tr.Train(ctx, bad, flowFrame(5, 0), flowFrame(5, 0), nil, KindDecisionTree)
	if !dataset.IsValidation(err) {
		t.Errorf("non-numeric data error = %v, want validation error", err)
	}
}

// scaleFrame rewrites the feature columns of f through s, keeping Label.
func scaleFrame(t *testing.T, f *dataset.Frame, features []string, s dataset.Scaler) *dataset.Frame {
	t.Helper()
	X, err := f.Matrix(features)
	if err != nil {
		t.Fatal(err)
	}
	labels := f.Strings(f.Index("Label"))
	out := &dataset.Frame{Columns: append(append([]string(nil), features...), "Label")}
	for i, row := range s.Transform(X) {
		cells := make([]string, 0, len(row)+1)
		for _, v := range row {
			cells = append(cells, dataset.FormatFloat(v))
		}
		out.Rows = append(out.Rows, append(cells, labels[i]))
	}
	return out
}

func TestTrainerNormalizedModelScoresRawTraffic(t *testing.T) {
	features := []string{"bytes", "noise"}
	X, err := flowFrame(100, 0).Matrix(features)
	if err != nil {
		t.Fatal(err)
	}
	scaler := &dataset.MinMaxScaler{}
	scaler.Fit(X)
	scaling := dataset.Scaling{dataset.NewScalerState(dataset.NormMinMax, features, scaler)}

	tr := NewTrainer(t.TempDir(), 42, 0, 5, 1)
	_, err = tr.Train(context.Background(),
		scaleFrame(t, flowFrame(100, 0), features, scaler),
		scaleFrame(t, flowFrame(20, 3), features, scaler),
		scaleFrame(t, flowFrame(20, 5), features, scaler),
		scaling, KindDecisionTree)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	m := readModel(t, tr.ModelPath(KindDecisionTree))
	if len(m.Scaling) != 1 || m.Scaling[0].Kind != dataset.NormMinMax {
		t.Fatalf("stored scaling = %+v", m.Scaling)
	}
	p, err := NewModelPredictor(m)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for _, tt := range []struct {
		bytes float64
		want  string
	}{
		{3, "BENIGN"},
		{9, "BENIGN"},
		{12, "DDoS"},
		{19, "DDoS"},
	} {
		got, _, err := p.Predict(ctx, map[string]float64{"bytes": tt.bytes, "noise": 2})
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Predict(bytes=%v) = %s, want %s", tt.bytes, got, tt.want)
		}
	}

	// The same trees without their scaling read raw values as outliers.
	m.Scaling = nil
	bare, err := NewModelPredictor(m)
	if err != nil {
		t.Fatal(err)
	}
	if got, _, _ := bare.Predict(ctx, map[string]float64{"bytes": 3, "noise": 2}); got != "DDoS" {
		t.Errorf("unscaled Predict(bytes=3) = %s, want the thresholds to misfire", got)
	}
}

func TestTrainerRejectsBrokenScaling(t *testing.T) {
	tr := NewTrainer(t.TempDir(), 42, 0, 5, 1)
	broken := dataset.Scaling{{Kind: dataset.NormMinMax, Features: []string{"bytes"}}}
	_, err := tr.Train(context.Background(), flowFrame(10, 0), flowFrame(5, 0), flowFrame(5, 0), broken, KindDecisionTree)
	if err == nil {
		t.Error("expected an error for scaling without parameters")
	}
}
