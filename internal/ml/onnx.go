package ml

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
)

// ONNXConfig holds configuration for an ONNX Runtime predictor.
type ONNXConfig struct {
	// SharedLibraryPath is the path to the ONNX Runtime shared library
	SharedLibraryPath string
	// ModelPath is the path to the .onnx model file
	ModelPath string
	// InputName and OutputName select the tensors. Empty names are
	// discovered from the model; the output prefers "probabilities".
	InputName  string
	OutputName string
	// Features names the input vector columns, in order
	Features []string
	// Classes names the probability output columns; defaults to indices
	Classes []string
	// NumThreads sets the intra-op threads of each session
	NumThreads int
	// PoolSize is the number of sessions available for concurrent inference
	PoolSize int
	// Scaling is applied to raw feature values before inference, for
	// models exported from normalized training data
	Scaling dataset.Scaling
}

var envMu sync.Mutex

// ensureEnvironment initializes the process-wide ONNX Runtime environment once.
func ensureEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ONNXPredictor scores packets with an exported classifier through ONNX
// Runtime. The model must take a float tensor [1, features] and produce
// a float probability tensor [1, classes].
type ONNXPredictor struct {
	config *ONNXConfig
	scaler *dataset.FeatureScaler

	mu          sync.RWMutex
	closed      bool
	sessionPool chan *onnxSession
}

// onnxSession wraps an ONNX Runtime session with its tensors
type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXPredictor loads the model and fills the session pool.
func NewONNXPredictor(cfg ONNXConfig) (*ONNXPredictor, error) {
	if len(cfg.Features) == 0 {
		return nil, errors.New("ml: ONNX models need the list of input features")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	scaler, err := cfg.Scaling.Compile()
	if err != nil {
		return nil, err
	}
	if err := ensureEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}
	if err := resolveTensors(&cfg); err != nil {
		return nil, err
	}

	p := &ONNXPredictor{
		config:      &cfg,
		scaler:      scaler,
		sessionPool: make(chan *onnxSession, cfg.PoolSize),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		s, err := p.createSession()
		if err != nil {
			p.cleanup()
			return nil, fmt.Errorf("failed to create session %d: %w", i, err)
		}
		p.sessionPool <- s
	}
	return p, nil
}

// resolveTensors fills in tensor names and class labels from the model's
// declared inputs and outputs.
func resolveTensors(cfg *ONNXConfig) error {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to inspect ONNX model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return errors.New("ml: ONNX model declares no inputs or outputs")
	}

	if cfg.InputName == "" {
		cfg.InputName = inputs[0].Name
	}
	for _, in := range inputs {
		if in.Name != cfg.InputName {
			continue
		}
		if d := in.Dimensions; len(d) == 2 && d[1] > 0 && int(d[1]) != len(cfg.Features) {
			return fmt.Errorf("ml: model expects %d features, %d given", d[1], len(cfg.Features))
		}
	}

	if cfg.OutputName == "" {
		cfg.OutputName = outputs[len(outputs)-1].Name
		for _, out := range outputs {
			if out.Name == "probabilities" {
				cfg.OutputName = out.Name
			}
		}
	}
	if len(cfg.Classes) == 0 {
		for _, out := range outputs {
			if out.Name != cfg.OutputName {
				continue
			}
			if d := out.Dimensions; len(d) == 2 && d[1] > 0 {
				for i := int64(0); i < d[1]; i++ {
					cfg.Classes = append(cfg.Classes, strconv.FormatInt(i, 10))
				}
			}
		}
	}
	if len(cfg.Classes) == 0 {
		return errors.New("ml: cannot infer classes from the ONNX model; provide them")
	}
	return nil
}

// createSession creates a new ONNX session with tensors
func (p *ONNXPredictor) createSession() (*onnxSession, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(p.config.Features))))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(p.config.Classes))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if p.config.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(p.config.NumThreads); err != nil {
			input.Destroy()
			output.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(
		p.config.ModelPath,
		[]string{p.config.InputName},
		[]string{p.config.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &onnxSession{session: session, input: input, output: output}, nil
}

// Predict implements Predictor.
func (p *ONNXPredictor) Predict(ctx context.Context, features map[string]float64) (string, float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", 0, errors.New("ml: predictor closed")
	}

	// Get a session from the pool
	var s *onnxSession
	select {
	case s = <-p.sessionPool:
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
	defer func() {
		p.sessionPool <- s
	}()

	start := time.Now()
	data := s.input.GetData()
	for i, v := range vectorize(p.config.Features, p.scaler.Apply(features)) {
		data[i] = float32(v)
	}
	if err := s.session.Run(); err != nil {
		return "", 0, fmt.Errorf("inference failed: %w", err)
	}
	probs := s.output.GetData()
	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}
	metrics.InferenceLatency.WithLabelValues(KindONNX).Observe(time.Since(start).Seconds())

	if best >= len(p.config.Classes) {
		return strconv.Itoa(best), float64(probs[best]), nil
	}
	return p.config.Classes[best], float64(probs[best]), nil
}

func (p *ONNXPredictor) Features() []string { return p.config.Features }
func (p *ONNXPredictor) Classes() []string  { return p.config.Classes }
func (p *ONNXPredictor) Kind() string       { return KindONNX }

// Close releases all sessions. The runtime environment stays initialized
// for later models.
func (p *ONNXPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.cleanup()
	return nil
}

// cleanup releases session pool resources
func (p *ONNXPredictor) cleanup() {
	close(p.sessionPool)
	for s := range p.sessionPool {
		s.session.Destroy()
		s.input.Destroy()
		s.output.Destroy()
	}
}
