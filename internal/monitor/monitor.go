// Package monitor runs live traffic classification: it captures packets,
// tracks flows, predicts a label for every IP packet with the loaded model
// and keeps recent results for the dashboards, the capture CSV and the
// alert stream.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/alert"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/capture"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/config"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/events"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/flow"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/ml"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// Capture modes.
const (
	ModePredict = "predict"
	ModeRecord  = "record"
)

// Labels assigned when no verdict is available.
const (
	LabelNoModel         = "No model"
	LabelPredictionError = "Prediction error"
)

var (
	ErrCaptureRunning   = &dataset.ValidationError{Msg: "Capture already running"}
	ErrNoCaptureRunning = &dataset.ValidationError{Msg: "No capture running"}
	ErrNoModelLoaded    = &dataset.ValidationError{Msg: "No model loaded"}
	ErrNoFileSelected   = &dataset.ValidationError{Msg: "No selected file"}
	ErrInvalidModelType = &dataset.ValidationError{Msg: "Invalid file type. Please upload a .json or .onnx model file"}
	ErrInvalidMode      = &dataset.ValidationError{Msg: "Invalid capture mode"}
	ErrReplayDisabled   = &dataset.ValidationError{Msg: "Capture file replay is disabled"}
	ErrInvalidReplay    = &dataset.ValidationError{Msg: "Invalid capture file name"}
	ErrReplayNotFound   = &dataset.ValidationError{Msg: "Capture file not found"}
)

// LoadError is a model that could not be decoded or opened. Advice tells
// the user what a valid upload looks like.
type LoadError struct {
	Msg    string
	Advice string
}

func (e *LoadError) Error() string { return e.Msg }

// Advice for the model formats LoadModel accepts.
const (
	adviceNative = "Ensure the file is a model exported by the trainer (a JSON document with format \"ids-model\")."
	adviceONNX   = "Ensure the file is a valid ONNX model whose input takes the listed features, and that the ONNX Runtime library is installed."
)

// Config sizes the monitor and supplies capture defaults.
type Config struct {
	PacketHistory     int
	PredictionHistory int
	GraphPoints       int

	FlowTimeout time.Duration
	MaxFlows    int
	AlertLabels []string

	BatchSize     int
	BatchInterval time.Duration

	CSVPath         string
	ModelDir        string
	ONNXLibraryPath string
	// ReplayDir confines capture file replays; empty disables them.
	ReplayDir string

	Interface   string
	SnapLen     int
	Promiscuous bool
	BPFFilter   string
}

// FromConfig derives the monitor configuration from the service config.
func FromConfig(c *config.Config) Config {
	return Config{
		PacketHistory:     c.Monitor.PacketHistory,
		PredictionHistory: c.Monitor.PredictionHistory,
		GraphPoints:       c.Monitor.GraphPoints,
		FlowTimeout:       c.Monitor.FlowTimeout,
		MaxFlows:          c.Monitor.MaxFlows,
		AlertLabels:       c.Monitor.AlertLabels,
		BatchSize:         c.Monitor.BatchSize,
		BatchInterval:     c.Monitor.BatchInterval,
		CSVPath:           c.Paths.CaptureCSV,
		ModelDir:          c.Paths.ModelDir,
		ONNXLibraryPath:   c.Paths.ONNXLibraryPath,
		ReplayDir:         c.Paths.ReplayDir,
		Interface:         c.Capture.Interface,
		SnapLen:           c.Capture.SnapLen,
		Promiscuous:       c.Capture.Promiscuous,
		BPFFilter:         c.Capture.BPFFilter,
	}
}

// ModelMeta carries the feature and class names of an ONNX upload and the
// scaling its inputs expect.
type ModelMeta struct {
	Features []string
	Classes  []string
	Scaling  dataset.Scaling
}

// CaptureOptions selects the capture source for StartCapture.
type CaptureOptions struct {
	Interface string
	PcapFile  string
	BPFFilter string
	Mode      string
}

// LoadResult is returned by LoadModel.
type LoadResult struct {
	Status    string   `json:"status"`
	ModelType string   `json:"model_type"`
	Features  []string `json:"features"`
	Classes   []string `json:"classes"`
	ModelHash string   `json:"model_hash"`
}

// StartResult is returned by StartCapture.
type StartResult struct {
	Status     string `json:"status"`
	OutputFile string `json:"output_file"`
	Message    string `json:"message"`
	Interface  string `json:"interface"`
	Mode       string `json:"mode"`
}

// StopResult is returned by StopCapture.
type StopResult struct {
	Status     string `json:"status"`
	OutputFile string `json:"output_file"`
	Count      int    `json:"count"`
	Message    string `json:"message"`
}

// PredictionsResult is the recent prediction view with its graph.
type PredictionsResult struct {
	Predictions []*models.PacketRecord `json:"predictions"`
	Count       int                    `json:"count"`
	Graph       *string                `json:"graph"`
}

// PacketsResult is the recent packet view.
type PacketsResult struct {
	Packets []*models.PacketRecord `json:"packets"`
	Count   int                    `json:"count"`
}

// Status summarises the monitor state.
type Status struct {
	Capturing   bool                 `json:"capturing"`
	Interface   string               `json:"interface,omitempty"`
	Mode        string               `json:"mode,omitempty"`
	ModelLoaded bool                 `json:"model_loaded"`
	ModelType   string               `json:"model_type,omitempty"`
	Capture     *models.CaptureStats `json:"capture,omitempty"`
	Flows       flow.Stats           `json:"flows"`
}

// Monitor owns the capture session and the loaded predictor.
type Monitor struct {
	config Config
	log    *logging.Logger

	mu        sync.RWMutex
	predictor ml.Predictor
	engine    *capture.Session
	capturing bool
	live      bool
	source    string
	mode      string

	packets     *Ring[*models.PacketRecord]
	predictions *Ring[*models.PacketRecord]
	graph       *Ring[GraphPoint]

	flows       *flow.Tracker
	csv         *CSVSink
	alerts      alert.Sink
	batcher     *events.Batcher
	broadcaster *events.Broadcaster

	stopSweep chan struct{}
	closeOnce sync.Once
}

// New creates a monitor. A nil sink disables alert publishing.
func New(cfg Config, sink alert.Sink) *Monitor {
	if cfg.PacketHistory <= 0 {
		cfg.PacketHistory = 1000
	}
	if cfg.PredictionHistory <= 0 {
		cfg.PredictionHistory = 100
	}
	if cfg.GraphPoints <= 0 {
		cfg.GraphPoints = 50
	}
	if cfg.CSVPath == "" {
		cfg.CSVPath = "network_traffic_features.csv"
	}
	if sink == nil {
		sink = alert.NopSink{}
	}

	m := &Monitor{
		config:      cfg,
		log:         logging.MonitorLogger(),
		packets:     NewRing[*models.PacketRecord](cfg.PacketHistory),
		predictions: NewRing[*models.PacketRecord](cfg.PredictionHistory),
		graph:       NewRing[GraphPoint](cfg.GraphPoints),
		flows:       flow.NewTracker(flow.Config{Timeout: cfg.FlowTimeout, MaxFlows: cfg.MaxFlows}),
		csv:         NewCSVSink(cfg.CSVPath),
		alerts:      sink,
		broadcaster: events.NewBroadcaster(32),
		stopSweep:   make(chan struct{}),
	}
	m.batcher = events.NewBatcher(events.BatcherConfig{
		MaxBatchSize:  cfg.BatchSize,
		FlushInterval: cfg.BatchInterval,
		OnFlush:       m.publishBatch,
	})
	m.batcher.Start()

	timeout := cfg.FlowTimeout
	if timeout <= 0 {
		timeout = flow.DefaultConfig().Timeout
	}
	go m.sweepLoop(max(timeout/2, time.Second))
	return m
}

// sweepLoop expires idle flows of live captures. Replays are left alone:
// their packet clocks are unrelated to the wall clock.
func (m *Monitor) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case now := <-t.C:
			m.sweepFlows(now)
		}
	}
}

func (m *Monitor) sweepFlows(now time.Time) int {
	m.mu.RLock()
	live := m.capturing && m.live
	m.mu.RUnlock()
	if !live {
		return 0
	}
	n := m.flows.Sweep(now)
	if n > 0 {
		m.log.Debug("idle flows expired", logging.Count("flows", int64(n)))
	}
	return n
}

// LoadModel installs the model in data as the active predictor. name is
// the uploaded file name; its extension selects the format.
func (m *Monitor) LoadModel(ctx context.Context, name string, data []byte, meta ModelMeta) (*LoadResult, error) {
	if name == "" {
		return nil, ErrNoFileSelected
	}

	var (
		p   ml.Predictor
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		p, err = m.loadNative(data)
	case ".onnx":
		p, err = m.loadONNX(data, meta)
	default:
		m.log.Warn("rejected model upload", "file", name)
		return nil, ErrInvalidModelType
	}
	if err != nil {
		return nil, err
	}

	zero := make(map[string]float64, len(p.Features()))
	for _, f := range p.Features() {
		zero[f] = 0
	}
	label, conf, err := p.Predict(ctx, zero)
	if err != nil {
		p.Close()
		return nil, &dataset.ValidationError{Msg: fmt.Sprintf("Model test failed: %v", err)}
	}
	m.log.Info("model test prediction", "label", label, "confidence", conf)

	m.mu.Lock()
	old := m.predictor
	m.predictor = p
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	m.log.Info("model loaded", "file", name, "kind", p.Kind(), "features", len(p.Features()))
	return &LoadResult{
		Status:    "Model loaded successfully",
		ModelType: p.Kind(),
		Features:  p.Features(),
		Classes:   p.Classes(),
		ModelHash: ml.HashBytes(data),
	}, nil
}

func (m *Monitor) loadNative(data []byte) (ml.Predictor, error) {
	mf, err := ml.DecodeModel(data)
	if err != nil {
		return nil, &LoadError{Msg: fmt.Sprintf("Error loading model: %v", err), Advice: adviceNative}
	}
	p, err := ml.NewModelPredictor(mf)
	if err != nil {
		return nil, &LoadError{Msg: fmt.Sprintf("Error loading model: %v", err), Advice: adviceNative}
	}
	return p, nil
}

func (m *Monitor) loadONNX(data []byte, meta ModelMeta) (ml.Predictor, error) {
	if len(meta.Features) == 0 {
		return nil, &dataset.ValidationError{Msg: "ONNX models require the features field"}
	}
	dir := m.config.ModelDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "monitor-"+uuid.NewString()+".onnx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("monitor: store onnx model: %w", err)
	}
	p, err := ml.NewONNXPredictor(ml.ONNXConfig{
		SharedLibraryPath: m.config.ONNXLibraryPath,
		ModelPath:         path,
		Features:          meta.Features,
		Classes:           meta.Classes,
		Scaling:           meta.Scaling,
		PoolSize:          2,
	})
	if err != nil {
		os.Remove(path)
		return nil, &LoadError{Msg: fmt.Sprintf("Error loading model: %v", err), Advice: adviceONNX}
	}
	return p, nil
}

// ModelLoaded reports whether a predictor is installed.
func (m *Monitor) ModelLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.predictor != nil
}

// StartCapture starts a capture session. The session outlives ctx; it
// ends with StopCapture or when a replayed file is exhausted.
func (m *Monitor) StartCapture(ctx context.Context, opts CaptureOptions) (*StartResult, error) {
	mode := strings.ToLower(opts.Mode)
	if mode == "" {
		mode = ModePredict
	}
	if mode != ModePredict && mode != ModeRecord {
		return nil, ErrInvalidMode
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// engine stays set until the previous session is torn down.
	if m.capturing || m.engine != nil {
		return nil, ErrCaptureRunning
	}
	if mode == ModePredict && m.predictor == nil {
		return nil, ErrNoModelLoaded
	}

	cfg, err := m.captureConfig(opts)
	if err != nil {
		return nil, err
	}
	engine, err := capture.New(cfg)
	if err != nil {
		return nil, &dataset.ValidationError{Msg: err.Error()}
	}

	m.packets.Clear()
	m.predictions.Clear()
	m.graph.Clear()
	m.flows.Reset()
	if err := m.csv.Reset(); err != nil {
		return nil, err
	}

	engine.SetHandler(m.handlePacket)
	if err := engine.Start(context.WithoutCancel(ctx)); err != nil {
		if cfg.Mode == capture.ModePCAP {
			m.log.Warn("replay failed", "file", opts.PcapFile, logging.Err(err))
			return nil, &dataset.ValidationError{Msg: "Cannot replay capture file " + opts.PcapFile}
		}
		return nil, fmt.Errorf("monitor: start capture: %w", err)
	}

	m.engine = engine
	m.capturing = true
	m.live = cfg.Mode == capture.ModeLive
	m.mode = mode
	m.source = cfg.Interface
	if cfg.Mode == capture.ModePCAP {
		m.source = opts.PcapFile
	}
	go m.watch(engine)

	m.log.Info("capture started", "source", m.source, "mode", mode, "filter", cfg.BPFFilter)
	return &StartResult{
		Status:     "Capture started",
		OutputFile: m.csv.Path(),
		Message:    "Capturing network traffic to " + filepath.Base(m.config.CSVPath),
		Interface:  m.source,
		Mode:       mode,
	}, nil
}

func (m *Monitor) captureConfig(opts CaptureOptions) (*capture.Config, error) {
	filter := opts.BPFFilter
	if filter == "" {
		filter = m.config.BPFFilter
	}

	if opts.PcapFile != "" {
		path, err := m.replayPath(opts.PcapFile)
		if err != nil {
			return nil, err
		}
		return &capture.Config{
			Mode:      capture.ModePCAP,
			PcapFile:  path,
			SnapLen:   m.config.SnapLen,
			BPFFilter: filter,
		}, nil
	}

	iface := opts.Interface
	if iface == "" {
		iface = m.config.Interface
	}
	if iface == "" {
		selected, err := capture.SelectInterface()
		if err != nil {
			return nil, &dataset.ValidationError{Msg: "No suitable network interface found"}
		}
		iface = selected
	}
	cfg := capture.DefaultConfig(iface)
	if m.config.SnapLen > 0 {
		cfg.SnapLen = m.config.SnapLen
	}
	cfg.Promiscuous = m.config.Promiscuous
	cfg.BPFFilter = filter
	return cfg, nil
}

// replayPath resolves a client-supplied capture file name inside
// ReplayDir. Absolute names, ".." and symlinks leading out of the
// directory are rejected.
func (m *Monitor) replayPath(name string) (string, error) {
	if m.config.ReplayDir == "" {
		return "", ErrReplayDisabled
	}
	name = filepath.FromSlash(name)
	if !filepath.IsLocal(name) {
		return "", ErrInvalidReplay
	}
	root, err := filepath.EvalSymlinks(m.config.ReplayDir)
	if err != nil {
		m.log.Warn("replay directory unavailable", "dir", m.config.ReplayDir, logging.Err(err))
		return "", ErrReplayDisabled
	}
	path, err := filepath.EvalSymlinks(filepath.Join(root, name))
	if err != nil {
		return "", ErrReplayNotFound
	}
	if rel, err := filepath.Rel(root, path); err != nil || !filepath.IsLocal(rel) {
		return "", ErrInvalidReplay
	}
	if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
		return "", ErrReplayNotFound
	}
	return path, nil
}

// watch tears the session down when the engine finishes on its own.
func (m *Monitor) watch(engine *capture.Session) {
	<-engine.Done()

	m.mu.Lock()
	finished := m.engine == engine && m.capturing
	source := m.source
	if finished {
		m.capturing = false
	}
	m.mu.Unlock()

	if finished {
		m.finish(engine)
		m.log.Info("capture finished", "source", source, logging.Count("packets", int64(m.packets.Len())))
	}
}

// finish flushes the session outputs once the engine has stopped, then
// releases the engine so a new session may start.
func (m *Monitor) finish(engine *capture.Session) {
	m.batcher.SetStats(engine.Stats())
	m.batcher.Flush()
	if err := m.csv.Flush(); err != nil {
		m.log.Error("csv flush failed", logging.Err(err))
	}

	m.mu.Lock()
	if m.engine == engine {
		m.engine = nil
	}
	m.mu.Unlock()
}

// StopCapture ends the running capture session. Until it returns, a new
// StartCapture fails with ErrCaptureRunning.
func (m *Monitor) StopCapture() (*StopResult, error) {
	m.mu.Lock()
	if !m.capturing {
		m.mu.Unlock()
		return nil, ErrNoCaptureRunning
	}
	engine := m.engine
	m.capturing = false
	m.mu.Unlock()

	if err := engine.Stop(); err != nil {
		m.log.Warn("capture stop", logging.Err(err))
	}
	count := m.predictions.Len()
	m.finish(engine)

	m.log.Info("capture stopped", logging.Count("packets", int64(count)))
	return &StopResult{
		Status:     "Capture stopped",
		OutputFile: m.csv.Path(),
		Count:      count,
		Message:    fmt.Sprintf("Capture stopped. %d packets analyzed", count),
	}, nil
}

// IsCapturing reports whether a capture session is active.
func (m *Monitor) IsCapturing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capturing
}

// handlePacket is the capture callback.
func (m *Monitor) handlePacket(_ []byte, info *models.PacketInfo) {
	if !info.IsIP() {
		return
	}
	features, _, _ := m.flows.Observe(info)

	rec := &models.PacketRecord{
		ID:            uuid.NewString(),
		Timestamp:     info.Timestamp(),
		SourceIP:      info.SrcIP.String(),
		DestinationIP: info.DstIP.String(),
		PacketLength:  int(info.Length),
		Protocol:      int(info.Protocol),
		SrcPort:       int(info.SrcPort),
		DstPort:       int(info.DstPort),
		HasTCP:        info.HasTCP,
		FlowFeatures:  features,
	}
	if info.HasTCP {
		rec.WindowSize = int(info.Window)
		rec.Flags = models.FlagString(info.TCPFlags)
	}

	rec.Prediction, rec.Confidence = m.predict(rec)
	metrics.Predictions.WithLabelValues(rec.Prediction).Inc()

	m.packets.Push(rec)
	m.predictions.Push(rec)
	m.graph.Push(GraphPoint{
		Time:       rec.Timestamp,
		Length:     rec.PacketLength,
		Prediction: rec.Prediction,
		Confidence: rec.Confidence,
	})

	if err := m.csv.Write(rec); err != nil {
		m.log.Error("csv write failed", logging.Err(err))
	}
	m.batcher.AddPacket(rec)

	if alert.IsMalicious(rec.Prediction, m.config.AlertLabels) {
		a := &models.Alert{
			ID:            rec.ID,
			Timestamp:     rec.Timestamp,
			SourceIP:      rec.SourceIP,
			DestinationIP: rec.DestinationIP,
			SrcPort:       rec.SrcPort,
			DstPort:       rec.DstPort,
			Protocol:      models.ProtocolName(info.Protocol),
			Prediction:    rec.Prediction,
			Confidence:    rec.Confidence,
		}
		m.alerts.Publish(a)
		m.batcher.AddAlert(a)
	}
}

// predict classifies rec. The read lock keeps the predictor open while
// LoadModel swaps it.
func (m *Monitor) predict(rec *models.PacketRecord) (string, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.mode != ModePredict || m.predictor == nil {
		return LabelNoModel, 0
	}
	label, conf, err := m.predictor.Predict(context.Background(), rec.Features())
	if err != nil {
		m.log.Error("prediction failed", logging.Err(err))
		return LabelPredictionError, 0
	}
	return label, conf
}

// Predictions returns the recent predictions and the traffic graph.
func (m *Monitor) Predictions() *PredictionsResult {
	preds := m.predictions.Snapshot()
	res := &PredictionsResult{Predictions: preds, Count: len(preds)}

	points := m.graph.Snapshot()
	if len(points) > 0 {
		img, err := RenderGraph(points)
		if err != nil {
			m.log.Error("graph render failed", logging.Err(err))
		} else {
			res.Graph = &img
		}
	}
	return res
}

// Packets returns the recent packet records.
func (m *Monitor) Packets() *PacketsResult {
	pkts := m.packets.Snapshot()
	return &PacketsResult{Packets: pkts, Count: len(pkts)}
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &Status{
		Capturing:   m.capturing,
		ModelLoaded: m.predictor != nil,
		Flows:       m.flows.Stats(),
	}
	if m.predictor != nil {
		st.ModelType = m.predictor.Kind()
	}
	if m.capturing {
		st.Interface = m.source
		st.Mode = m.mode
		st.Capture = m.engine.Stats()
	}
	return st
}

// CSVPath flushes pending rows and returns the capture CSV path. ok is
// false when no file exists yet.
func (m *Monitor) CSVPath() (path string, ok bool) {
	if err := m.csv.Flush(); err != nil {
		m.log.Warn("csv flush failed", logging.Err(err))
	}
	return m.csv.Path(), m.csv.Exists()
}

// Subscribe streams batches of packet records and alerts.
func (m *Monitor) Subscribe() (*events.Subscription, func()) {
	return m.broadcaster.Subscribe()
}

func (m *Monitor) publishBatch(b *events.Batch) {
	m.broadcaster.Publish(b)
}

// Close stops any capture and releases the predictor and sinks.
func (m *Monitor) Close() error {
	if m.IsCapturing() {
		if _, err := m.StopCapture(); err != nil && !errors.Is(err, ErrNoCaptureRunning) {
			m.log.Warn("stop capture on close", logging.Err(err))
		}
	}
	m.closeOnce.Do(func() { close(m.stopSweep) })
	m.batcher.Stop()
	m.broadcaster.Close()

	m.mu.Lock()
	p := m.predictor
	m.predictor = nil
	m.mu.Unlock()

	var errs []error
	if p != nil {
		errs = append(errs, p.Close())
	}
	errs = append(errs, m.csv.Close())
	m.alerts.Close()
	return errors.Join(errs...)
}
