package monitor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/alert"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/capture"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/capture/capturetest"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/dataset"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/ml"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (s *recordingSink) Publish(a *models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) Close() {}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// sizeModel returns a native model labelling packets longer than 500
// bytes as DDoS.
func sizeModel(t *testing.T) []byte {
	t.Helper()
	var X [][]float64
	var y []string
	for _, n := range []float64{40, 60, 80, 120, 300, 700, 900, 1100, 1300, 1500} {
		X = append(X, []float64{n})
		if n > 500 {
			y = append(y, "DDoS")
		} else {
			y = append(y, "BENIGN")
		}
	}
	tree := ml.NewDecisionTree(0, 1)
	if err := tree.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	mf, err := ml.NewModelFile([]string{"packet_length"}, tree)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(mf)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// trafficFile writes a replay fixture into the monitor's replay directory
// and returns its name relative to it.
func trafficFile(t *testing.T, m *Monitor) string {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := []capturetest.Frame{
		capturetest.TCPFrame(t, base, capturetest.TCP{
			Src: "10.0.0.1", Dst: "10.0.0.2", SrcPort: 40000, DstPort: 80, Window: 8192, SYN: true,
		}),
		capturetest.TCPFrame(t, base.Add(time.Millisecond), capturetest.TCP{
			Src: "10.0.0.2", Dst: "10.0.0.1", SrcPort: 80, DstPort: 40000, Window: 4096, SYN: true, ACK: true,
		}),
		capturetest.ARPFrame(t, base.Add(2*time.Millisecond)),
		capturetest.TCPFrame(t, base.Add(3*time.Millisecond), capturetest.TCP{
			Src: "10.0.0.1", Dst: "10.0.0.2", SrcPort: 40000, DstPort: 80, Window: 8192, ACK: true, Payload: 1000,
		}),
		capturetest.UDPFrame(t, base.Add(4*time.Millisecond), capturetest.UDP{
			Src: "10.0.0.9", Dst: "10.0.0.2", SrcPort: 5000, DstPort: 53, Payload: 1200,
		}),
	}
	capturetest.WriteFile(t, filepath.Join(m.config.ReplayDir, "traffic.pcap"), frames)
	return "traffic.pcap"
}

func newTestMonitor(t *testing.T, sink *recordingSink) *Monitor {
	t.Helper()
	dir := t.TempDir()
	var s alert.Sink
	if sink != nil {
		s = sink
	}
	replay := filepath.Join(dir, "captures")
	if err := os.MkdirAll(replay, 0o755); err != nil {
		t.Fatal(err)
	}
	m := New(Config{
		CSVPath:       filepath.Join(dir, "capture.csv"),
		ModelDir:      dir,
		ReplayDir:     replay,
		BatchInterval: 10 * time.Millisecond,
	}, s)
	t.Cleanup(func() { m.Close() })
	return m
}

func (m *Monitor) tearingDown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine != nil
}

func waitIdle(t *testing.T, m *Monitor) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.IsCapturing() || m.tearingDown() {
		if time.Now().After(deadline) {
			t.Fatal("replay did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRing(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Snapshot()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("Snapshot() = %v", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d", r.Len())
	}
	r.Clear()
	if r.Len() != 0 || len(r.Snapshot()) != 0 {
		t.Error("Clear() left items behind")
	}
	r.Push(9)
	if got := r.Snapshot(); len(got) != 1 || got[0] != 9 {
		t.Errorf("after Clear Snapshot() = %v", got)
	}
}

func TestLoadModelValidation(t *testing.T) {
	m := newTestMonitor(t, nil)
	ctx := context.Background()

	if _, err := m.LoadModel(ctx, "", nil, ModelMeta{}); !errors.Is(err, ErrNoFileSelected) {
		t.Errorf("empty name error = %v", err)
	}
	if _, err := m.LoadModel(ctx, "model.pkl", []byte("x"), ModelMeta{}); !errors.Is(err, ErrInvalidModelType) {
		t.Errorf("pkl error = %v", err)
	}
	var le *LoadError
	if _, err := m.LoadModel(ctx, "model.json", []byte("{}"), ModelMeta{}); !errors.As(err, &le) || le.Advice == "" {
		t.Errorf("bad json error = %v", err)
	}
	if _, err := m.LoadModel(ctx, "model.onnx", []byte("x"), ModelMeta{}); !dataset.IsValidation(err) {
		t.Errorf("onnx without features error = %v", err)
	}
	if m.ModelLoaded() {
		t.Error("no model should be loaded after failures")
	}

	res, err := m.LoadModel(ctx, "Model.JSON", sizeModel(t), ModelMeta{})
	if err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if res.Status != "Model loaded successfully" || res.ModelType != ml.KindDecisionTree {
		t.Errorf("LoadModel() = %+v", res)
	}
	if len(res.Features) != 1 || len(res.Classes) != 2 || len(res.ModelHash) != 64 {
		t.Errorf("LoadModel() = %+v", res)
	}
}

func TestStartCaptureRequiresModel(t *testing.T) {
	m := newTestMonitor(t, nil)
	_, err := m.StartCapture(context.Background(), CaptureOptions{PcapFile: trafficFile(t, m)})
	if !errors.Is(err, ErrNoModelLoaded) {
		t.Errorf("StartCapture() error = %v, want ErrNoModelLoaded", err)
	}
	if _, err := m.StartCapture(context.Background(), CaptureOptions{Mode: "sniff"}); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("invalid mode error = %v", err)
	}
	if _, err := m.StopCapture(); !errors.Is(err, ErrNoCaptureRunning) {
		t.Errorf("StopCapture() error = %v", err)
	}
}

func TestReplayPredictsAndRecords(t *testing.T) {
	sink := &recordingSink{}
	m := newTestMonitor(t, sink)
	ctx := context.Background()

	if _, err := m.LoadModel(ctx, "model.json", sizeModel(t), ModelMeta{}); err != nil {
		t.Fatal(err)
	}
	sub, cancel := m.Subscribe()
	defer cancel()

	res, err := m.StartCapture(ctx, CaptureOptions{PcapFile: trafficFile(t, m)})
	if err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if res.Status != "Capture started" || res.Mode != ModePredict || res.Message != "Capturing network traffic to capture.csv" {
		t.Errorf("StartCapture() = %+v", res)
	}
	waitIdle(t, m)

	preds := m.Predictions()
	if preds.Count != 4 {
		t.Fatalf("Predictions().Count = %d, want 4 IP packets", preds.Count)
	}
	want := []string{"BENIGN", "BENIGN", "DDoS", "DDoS"}
	for i, rec := range preds.Predictions {
		if rec.Prediction != want[i] {
			t.Errorf("prediction %d = %s, want %s", i, rec.Prediction, want[i])
		}
		if rec.Confidence != 1 {
			t.Errorf("confidence %d = %v", i, rec.Confidence)
		}
	}

	first := preds.Predictions[0]
	if first.SourceIP != "10.0.0.1" || first.WindowSize != 8192 || first.Flags != "S" || first.InitWinBytesForward != 8192 {
		t.Errorf("first record = %+v", first)
	}
	if second := preds.Predictions[1]; second.InitWinBytesBackward != 4096 || second.InitWinBytesForward != 8192 {
		t.Errorf("second record flow features = %+v", second.FlowFeatures)
	}
	if udp := preds.Predictions[3]; udp.WindowSize != 0 || udp.Flags != "" || udp.DstPort != 53 {
		t.Errorf("udp record = %+v", udp)
	}

	if preds.Graph == nil {
		t.Fatal("graph missing")
	}
	png, err := base64.StdEncoding.DecodeString(*preds.Graph)
	if err != nil || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Errorf("graph is not a base64 PNG (err %v)", err)
	}

	if pk := m.Packets(); pk.Count != 4 {
		t.Errorf("Packets().Count = %d", pk.Count)
	}
	if n := sink.count(); n != 2 {
		t.Errorf("alerts = %d, want 2", n)
	} else if sink.alerts[0].Protocol != "TCP" || sink.alerts[1].Protocol != "UDP" {
		t.Errorf("alert protocols = %s, %s", sink.alerts[0].Protocol, sink.alerts[1].Protocol)
	}

	path, ok := m.CSVPath()
	if !ok {
		t.Fatal("capture CSV missing")
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 || rows[0][0] != "timestamp" || rows[3][len(rows[3])-2] != "DDoS" {
		t.Errorf("csv rows = %v", rows)
	}

	select {
	case batch := <-sub.C:
		if len(batch.Packets) == 0 {
			t.Error("streamed batch has no packets")
		}
	case <-time.After(2 * time.Second):
		t.Error("no batch streamed")
	}

	if _, err := m.StopCapture(); !errors.Is(err, ErrNoCaptureRunning) {
		t.Errorf("StopCapture() after replay error = %v", err)
	}
}

func TestRecordModeWithoutModel(t *testing.T) {
	m := newTestMonitor(t, nil)
	if _, err := m.StartCapture(context.Background(), CaptureOptions{PcapFile: trafficFile(t, m), Mode: ModeRecord}); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	waitIdle(t, m)

	for _, rec := range m.Packets().Packets {
		if rec.Prediction != LabelNoModel || rec.Confidence != 0 {
			t.Errorf("record = %s/%v, want %q/0", rec.Prediction, rec.Confidence, LabelNoModel)
		}
	}
	if st := m.Status(); st.Capturing || st.ModelLoaded || st.Flows.FlowsCreated != 2 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestPredictionsWithoutTraffic(t *testing.T) {
	m := newTestMonitor(t, nil)
	res := m.Predictions()
	if res.Graph != nil || res.Count != 0 {
		t.Errorf("Predictions() = %+v", res)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"graph":null`)) {
		t.Errorf("json = %s", data)
	}
}

func TestReplayPathConfinement(t *testing.T) {
	m := newTestMonitor(t, nil)
	name := trafficFile(t, m)

	outside := filepath.Join(t.TempDir(), "secret.pcap")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(m.config.ReplayDir, "link.pcap")
	symlinked := os.Symlink(outside, link) == nil

	tests := []struct {
		name string
		want error
	}{
		{"../capture.csv", ErrInvalidReplay},
		{outside, ErrInvalidReplay},
		{"sub/../../secret.pcap", ErrInvalidReplay},
		{"missing.pcap", ErrReplayNotFound},
		{".", ErrReplayNotFound},
	}
	if symlinked {
		tests = append(tests, struct {
			name string
			want error
		}{"link.pcap", ErrInvalidReplay})
	}
	for _, tt := range tests {
		if _, err := m.replayPath(tt.name); !errors.Is(err, tt.want) {
			t.Errorf("replayPath(%q) error = %v, want %v", tt.name, err, tt.want)
		}
	}

	path, err := m.replayPath(name)
	if err != nil {
		t.Fatalf("replayPath(%q) error = %v", name, err)
	}
	if filepath.Base(path) != name {
		t.Errorf("replayPath(%q) = %s", name, path)
	}

	_, err = m.StartCapture(context.Background(), CaptureOptions{PcapFile: "../capture.csv", Mode: ModeRecord})
	if !errors.Is(err, ErrInvalidReplay) || m.IsCapturing() {
		t.Errorf("StartCapture(traversal) error = %v", err)
	}

	m.config.ReplayDir = ""
	if _, err := m.replayPath(name); !errors.Is(err, ErrReplayDisabled) {
		t.Errorf("replayPath without a replay dir error = %v", err)
	}
}

func TestStartRefusedDuringTeardown(t *testing.T) {
	m := newTestMonitor(t, nil)
	old, err := capture.New(&capture.Config{Mode: capture.ModePCAP, PcapFile: "old.pcap"})
	if err != nil {
		t.Fatal(err)
	}

	// A stopped session whose outputs are still being flushed.
	m.mu.Lock()
	m.engine = old
	m.mu.Unlock()

	_, err = m.StartCapture(context.Background(), CaptureOptions{PcapFile: trafficFile(t, m), Mode: ModeRecord})
	if !errors.Is(err, ErrCaptureRunning) {
		t.Fatalf("StartCapture() during teardown error = %v", err)
	}
	if _, err := m.StopCapture(); !errors.Is(err, ErrNoCaptureRunning) {
		t.Errorf("StopCapture() during teardown error = %v", err)
	}

	m.finish(old)
	if _, err := m.StartCapture(context.Background(), CaptureOptions{PcapFile: trafficFile(t, m), Mode: ModeRecord}); err != nil {
		t.Fatalf("StartCapture() after teardown error = %v", err)
	}
	waitIdle(t, m)
}

func TestConcurrentStartStop(t *testing.T) {
	m := newTestMonitor(t, nil)
	name := trafficFile(t, m)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := m.StartCapture(ctx, CaptureOptions{PcapFile: name, Mode: ModeRecord})
				if err != nil && !errors.Is(err, ErrCaptureRunning) {
					errs <- err
					return
				}
				if _, err := m.StopCapture(); err != nil && !errors.Is(err, ErrNoCaptureRunning) {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	waitIdle(t, m)
	if st := m.Status(); st.Capturing || st.Capture != nil {
		t.Errorf("Status() after start/stop storm = %+v", st)
	}
	if _, err := m.StartCapture(ctx, CaptureOptions{PcapFile: name, Mode: ModeRecord}); err != nil {
		t.Errorf("StartCapture() after storm error = %v", err)
	}
	waitIdle(t, m)
}

func TestGraphKeepsThresholdInView(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	small := []GraphPoint{
		{Time: base, Length: 60, Prediction: "BENIGN", Confidence: 1},
		{Time: base.Add(time.Second), Length: 90, Prediction: "DDoS", Confidence: 0.5},
	}
	p, err := buildGraph(small)
	if err != nil {
		t.Fatal(err)
	}
	if p.Y.Max < jumboThreshold {
		t.Errorf("Y.Max = %v, threshold line at %d is off the plot", p.Y.Max, jumboThreshold)
	}

	large := append(small, GraphPoint{Time: base.Add(2 * time.Second), Length: 9000, Prediction: "DDoS", Confidence: 1})
	if p, err = buildGraph(large); err != nil {
		t.Fatal(err)
	}
	if p.Y.Max < 9000 {
		t.Errorf("Y.Max = %v, largest packet clipped", p.Y.Max)
	}
}

func TestSweepOnlyExpiresLiveFlows(t *testing.T) {
	m := newTestMonitor(t, nil)
	seen := time.Now()
	m.flows.Observe(&models.PacketInfo{
		TimestampNano: seen.UnixNano(),
		Length:        60,
		SrcIP:         net.ParseIP("10.0.0.1"),
		DstIP:         net.ParseIP("10.0.0.2"),
		SrcPort:       40000,
		DstPort:       80,
		Protocol:      6,
	})
	later := seen.Add(time.Hour)

	if n := m.sweepFlows(later); n != 0 || m.flows.Len() != 1 {
		t.Fatalf("idle monitor swept %d flows", n)
	}

	m.mu.Lock()
	m.capturing, m.live = true, false
	m.mu.Unlock()
	if n := m.sweepFlows(later); n != 0 {
		t.Errorf("replay flows swept: %d", n)
	}

	m.mu.Lock()
	m.live = true
	m.mu.Unlock()
	if n := m.sweepFlows(later); n != 1 || m.flows.Len() != 0 {
		t.Errorf("sweepFlows() = %d, Len() = %d", n, m.flows.Len())
	}

	m.mu.Lock()
	m.capturing, m.live = false, false
	m.mu.Unlock()
}
