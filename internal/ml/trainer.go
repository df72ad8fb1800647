package ml

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
)

// ErrUnknownModel is returned for an unsupported model kind.
var ErrUnknownModel = &dataset.ValidationError{Msg: "Invalid model type"}

// Trainer fits classifiers on the workspace splits and stores them.
type Trainer struct {
	ModelDir    string
	Seed        int64
	MaxDepth    int
	ForestTrees int
	Workers     int

	log *logging.Logger
}

// NewTrainer returns a trainer saving models under modelDir.
func NewTrainer(modelDir string, seed int64, maxDepth, forestTrees, workers int) *Trainer {
	return &Trainer{
		ModelDir:    modelDir,
		Seed:        seed,
		MaxDepth:    maxDepth,
		ForestTrees: forestTrees,
		Workers:     workers,
		log:         logging.TrainLogger(),
	}
}

// TrainResult is the outcome of one training run.
type TrainResult struct {
	Message            string  `json:"message"`
	ModelType          string  `json:"model_type"`
	TreeStructure      string  `json:"tree_structure"`
	ValidationAccuracy float64 `json:"validation_accuracy"`
	TestAccuracy       float64 `json:"test_accuracy"`
	// Scores are measured on the test split.
	Scores
	Features  []string `json:"features"`
	Classes   []string `json:"classes"`
	ModelFile string   `json:"model_file"`
	ModelHash string   `json:"model_hash"`
}

// ModelPath returns where a model kind is stored.
func (t *Trainer) ModelPath(kind string) string {
	return filepath.Join(t.ModelDir, kind+".json")
}

func (t *Trainer) newClassifier(kind string) (Classifier, error) {
	switch kind {
	case "", KindDecisionTree:
		return NewDecisionTree(t.MaxDepth, t.Seed), nil
	case KindRandomForest:
		return NewRandomForest(t.ForestTrees, t.MaxDepth, t.Seed, t.Workers), nil
	}
	return nil, ErrUnknownModel
}

// xy splits a frame into features and labels. The label is the last column.
func xy(f *dataset.Frame, features []string, label string) ([][]float64, []string, error) {
	X, err := f.Matrix(features)
	if err != nil {
		return nil, nil, &dataset.ValidationError{Msg: fmt.Sprintf("Dataset is not ready for training: %v", err)}
	}
	return X, f.Strings(f.Index(label)), nil
}

// Train fits a classifier of the given kind on train, scores it on
// validation and test and saves it. scaling is the normalization already
// applied to the splits; it is stored with the model so predictions on raw
// traffic are scaled the same way.
func (t *Trainer) Train(ctx context.Context, train, validation, test *dataset.Frame, scaling dataset.Scaling, kind string) (res *TrainResult, err error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = KindDecisionTree
	}
	clf, err := t.newClassifier(kind)
	if err != nil {
		return nil, err
	}
	if _, err := scaling.Compile(); err != nil {
		return nil, err
	}
	if train.NumCols() < 2 || train.NumRows() == 0 {
		return nil, &dataset.ValidationError{Msg: "Train dataset has no samples to learn from"}
	}

	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.TrainingRuns.WithLabelValues(kind, result).Inc()
		metrics.TrainingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	label := train.Columns[train.NumCols()-1]
	features := train.Columns[:train.NumCols()-1]

	// Align the evaluation splits to the train schema.
	validation = validation.Select(train.Columns, "0")
	test = test.Select(train.Columns, "0")

	Xtr, ytr, err := xy(train, features, label)
	if err != nil {
		return nil, err
	}
	Xval, yval, err := xy(validation, features, label)
	if err != nil {
		return nil, err
	}
	Xte, yte, err := xy(test, features, label)
	if err != nil {
		return nil, err
	}

	if err := clf.Fit(Xtr, ytr); err != nil {
		return nil, fmt.Errorf("ml: training failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	valPred := predictAll(clf, Xval)
	testPred := predictAll(clf, Xte)
	scores := Evaluate(yte, testPred)

	m, err := NewModelFile(features, clf)
	if err != nil {
		return nil, err
	}
	m.Scores = &scores
	m.Scaling = scaling
	path := t.ModelPath(kind)
	hash, err := SaveModel(path, m)
	if err != nil {
		return nil, err
	}

	res = &TrainResult{
		Message:            "Model Trained",
		ModelType:          kind,
		TreeStructure:      treeText(clf, features),
		ValidationAccuracy: Accuracy(yval, valPred),
		TestAccuracy:       scores.Accuracy,
		Scores:             scores,
		Features:           features,
		Classes:            clf.Classes(),
		ModelFile:          filepath.Base(path),
		ModelHash:          hash,
	}
	t.log.Info("model trained",
		"kind", kind,
		"features", len(features),
		"samples", len(Xtr),
		"scalers", len(scaling),
		"validation_accuracy", res.ValidationAccuracy,
		"test_accuracy", res.TestAccuracy,
		logging.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func predictAll(clf Classifier, X [][]float64) []string {
	out := make([]string, len(X))
	for i, x := range X {
		out[i], _ = PredictLabel(clf, x)
	}
	return out
}

func treeText(clf Classifier, features []string) string {
	switch c := clf.(type) {
	case *DecisionTree:
		return ExportText(c, features, DefaultExportDepth)
	case *RandomForest:
		if len(c.Trees) == 0 {
			return ""
		}
		return fmt.Sprintf("Tree 1 of %d\n%s", len(c.Trees), ExportText(c.Trees[0], features, DefaultExportDepth))
	}
	return ""
}
