package ml

import (
	"context"
	"fmt"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
)

// Predictor scores one packet's feature map.
type Predictor interface {
	// Predict returns the predicted label and its probability.
	Predict(ctx context.Context, features map[string]float64) (string, float64, error)
	Features() []string
	Classes() []string
	Kind() string
	Close() error
}

// vectorize orders a feature map by the model's feature names. Features the
// packet does not carry are zero.
func vectorize(names []string, features map[string]float64) []float64 {
	x := make([]float64, len(names))
	for i, name := range names {
		x[i] = features[name]
	}
	return x
}

// ModelPredictor serves a native tree or forest model.
type ModelPredictor struct {
	kind     string
	features []string
	clf      Classifier
	scaler   *dataset.FeatureScaler
}

// NewModelPredictor wraps a decoded model file. Raw feature values are
// passed through the model's recorded scaling before the trees see them.
func NewModelPredictor(m *ModelFile) (*ModelPredictor, error) {
	clf, err := m.Classifier()
	if err != nil {
		return nil, err
	}
	scaler, err := m.Scaling.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return &ModelPredictor{kind: m.Kind, features: m.Features, clf: clf, scaler: scaler}, nil
}

// Predict implements Predictor.
func (p *ModelPredictor) Predict(ctx context.Context, features map[string]float64) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	start := time.Now()
	label, conf := PredictLabel(p.clf, vectorize(p.features, p.scaler.Apply(features)))
	metrics.InferenceLatency.WithLabelValues(p.kind).Observe(time.Since(start).Seconds())
	if label == "" {
		return "", 0, fmt.Errorf("ml: model produced no prediction")
	}
	return label, conf, nil
}

func (p *ModelPredictor) Features() []string { return p.features }
func (p *ModelPredictor) Classes() []string  { return p.clf.Classes() }
func (p *ModelPredictor) Kind() string       { return p.kind }
func (p *ModelPredictor) Close() error       { return nil }
