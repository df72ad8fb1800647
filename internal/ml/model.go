package ml

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
	"github.com/zeebo/blake3"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
)

// Model file identification.
const (
	ModelFormat  = "ids-model"
	ModelVersion = 1
)

// Model kinds.
const (
	KindDecisionTree = "decision_tree"
	KindRandomForest = "random_forest"
	KindONNX         = "onnx"
)

// ErrInvalidModel marks a model document that cannot be used.
var ErrInvalidModel = errors.New("ml: invalid model file")

// ModelFile is the on-disk representation of a trained classifier.
type ModelFile struct {
	Format    string    `json:"format"`
	Version   int       `json:"version"`
	Kind      string    `json:"kind"`
	Features  []string  `json:"features"`
	Classes   []string  `json:"classes"`
	Tree      *Node     `json:"tree,omitempty"`
	Trees     []*Node   `json:"trees,omitempty"`
	TrainedAt time.Time `json:"trained_at"`
	Scores    *Scores   `json:"scores,omitempty"`
	// Scaling maps raw feature values into the space the trees were
	// fitted in. Empty when the training data was not normalized.
	Scaling dataset.Scaling `json:"scaling,omitempty"`
}

// NewModelFile captures a fitted classifier.
func NewModelFile(features []string, clf Classifier) (*ModelFile, error) {
	m := &ModelFile{
		Format:    ModelFormat,
		Version:   ModelVersion,
		Features:  append([]string(nil), features...),
		Classes:   append([]string(nil), clf.Classes()...),
		TrainedAt: time.Now().UTC(),
	}
	switch c := clf.(type) {
	case *DecisionTree:
		m.Kind = KindDecisionTree
		m.Tree = c.Root
	case *RandomForest:
		m.Kind = KindRandomForest
		for _, t := range c.Trees {
			m.Trees = append(m.Trees, t.Root)
		}
	default:
		return nil, fmt.Errorf("ml: cannot serialize %T", clf)
	}
	return m, nil
}

// Classifier rebuilds the fitted classifier.
func (m *ModelFile) Classifier() (Classifier, error) {
	switch m.Kind {
	case KindDecisionTree:
		return &DecisionTree{Root: m.Tree, classes: m.Classes}, nil
	case KindRandomForest:
		f := &RandomForest{NTrees: len(m.Trees), classes: m.Classes}
		for _, root := range m.Trees {
			f.Trees = append(f.Trees, &DecisionTree{Root: root, classes: m.Classes})
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidModel, m.Kind)
}

func (m *ModelFile) validate() error {
	if len(m.Features) == 0 {
		return fmt.Errorf("%w: no features", ErrInvalidModel)
	}
	if len(m.Classes) == 0 {
		return fmt.Errorf("%w: no classes", ErrInvalidModel)
	}
	var roots []*Node
	switch m.Kind {
	case KindDecisionTree:
		roots = []*Node{m.Tree}
	case KindRandomForest:
		roots = m.Trees
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidModel, m.Kind)
	}
	if len(roots) == 0 {
		return fmt.Errorf("%w: no trees", ErrInvalidModel)
	}
	if _, err := m.Scaling.Compile(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	for _, root := range roots {
		if err := m.validateNode(root); err != nil {
			return err
		}
	}
	return nil
}

func (m *ModelFile) validateNode(n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: missing node", ErrInvalidModel)
	}
	if len(n.Value) != len(m.Classes) {
		return fmt.Errorf("%w: node has %d class counts, want %d", ErrInvalidModel, len(n.Value), len(m.Classes))
	}
	if n.IsLeaf() {
		return nil
	}
	if n.Feature >= len(m.Features) {
		return fmt.Errorf("%w: split on feature %d of %d", ErrInvalidModel, n.Feature, len(m.Features))
	}
	if err := m.validateNode(n.Left); err != nil {
		return err
	}
	return m.validateNode(n.Right)
}

// DecodeModel parses and validates a model document.
func DecodeModel(data []byte) (*ModelFile, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not a JSON document", ErrInvalidModel)
	}
	if format := gjson.GetBytes(data, "format").String(); format != ModelFormat {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidModel, format)
	}
	if v := gjson.GetBytes(data, "version").Int(); v < 1 || v > ModelVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidModel, v)
	}
	var m ModelFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveModel writes the model document and returns its BLAKE3 digest.
func SaveModel(path string, m *ModelFile) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ml: failed to encode model: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("ml: failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes returns the hex BLAKE3-256 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
