package capture

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/capture/capturetest"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("eth0")

	if cfg.Interface != "eth0" {
		t.Errorf("expected interface eth0, got %s", cfg.Interface)
	}
	if cfg.Mode != ModeLive {
		t.Errorf("expected live mode, got %s", cfg.Mode)
	}
	if cfg.SnapLen != 65535 {
		t.Errorf("expected snaplen 65535, got %d", cfg.SnapLen)
	}
	if !cfg.Promiscuous {
		t.Error("expected promiscuous mode to be enabled")
	}
}

func TestNewSession(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error with nil config")
	}
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error with empty interface")
	}
	if _, err := New(&Config{Mode: ModePCAP}); err == nil {
		t.Error("expected error without a pcap file")
	}

	engine, err := New(&Config{Mode: ModePCAP, PcapFile: "x.pcap"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.cfg.SnapLen != 65535 {
		t.Errorf("snaplen default not applied: %d", engine.cfg.SnapLen)
	}
	if isRunning(engine) {
		t.Error("engine should not be running before Start")
	}
	if err := engine.Stop(); err == nil {
		t.Error("expected error stopping an idle engine")
	}
}

func fixture(t *testing.T) string {
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
			Src: "10.0.0.1", Dst: "10.0.0.2", SrcPort: 40000, DstPort: 80, Window: 8192, ACK: true, PSH: true, Payload: 100,
		}),
		capturetest.UDPFrame(t, base.Add(4*time.Millisecond), capturetest.UDP{
			Src: "10.0.0.3", Dst: "8.8.8.8", SrcPort: 5353, DstPort: 53, Payload: 20,
		}),
	}
	path := filepath.Join(t.TempDir(), "fixture.pcap")
	capturetest.WriteFile(t, path, frames)
	return path
}

func replay(t *testing.T, cfg *Config) ([]*models.PacketInfo, *Session) {
	t.Helper()
	engine, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []*models.PacketInfo
	engine.SetHandler(func(data []byte, info *models.PacketInfo) {
		mu.Lock()
		got = append(got, info)
		mu.Unlock()
	})

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-engine.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	return got, engine
}

func TestPCAPReplay(t *testing.T) {
	got, engine := replay(t, &Config{Mode: ModePCAP, PcapFile: fixture(t)})
	if len(got) != 5 {
		t.Fatalf("got %d packets, want 5", len(got))
	}

	syn := got[0]
	if syn.SrcIP.String() != "10.0.0.1" || syn.DstPort != 80 || syn.Protocol != 6 {
		t.Errorf("syn = %+v", syn)
	}
	if !syn.HasTCP || syn.Window != 8192 || syn.TCPFlags != models.FlagSYN {
		t.Errorf("syn tcp fields = has %v window %d flags %x", syn.HasTCP, syn.Window, syn.TCPFlags)
	}
	if want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC); !syn.Timestamp().Equal(want) {
		t.Errorf("timestamp = %v", syn.Timestamp())
	}
	if models.FlagString(got[1].TCPFlags) != "SA" {
		t.Errorf("synack flags = %s", models.FlagString(got[1].TCPFlags))
	}
	if got[2].IsIP() {
		t.Error("ARP frame should not carry IP addresses")
	}
	if got[3].PayloadLength != 100 {
		t.Errorf("payload length = %d", got[3].PayloadLength)
	}
	udp := got[4]
	if udp.HasTCP || udp.Protocol != 17 || udp.DstPort != 53 || udp.PayloadLength != 20 {
		t.Errorf("udp = %+v", udp)
	}

	stats := engine.Stats()
	if stats.PacketsReceived != 5 || stats.BytesReceived == 0 {
		t.Errorf("stats = %+v", stats)
	}
	if isRunning(engine) {
		// The watcher goroutine clears the flag right after Done closes.
		time.Sleep(50 * time.Millisecond)
		if isRunning(engine) {
			t.Error("engine still running after end of file")
		}
	}
}

func TestPCAPReplayBPFFilter(t *testing.T) {
	got, _ := replay(t, &Config{Mode: ModePCAP, PcapFile: fixture(t), BPFFilter: "udp"})
	if len(got) != 1 || got[0].DstPort != 53 {
		t.Fatalf("filtered replay = %d packets", len(got))
	}
}

func TestPCAPReplayErrors(t *testing.T) {
	engine, err := New(&Config{Mode: ModePCAP, PcapFile: filepath.Join(t.TempDir(), "missing.pcap")})
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Start(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}

	engine, _ = New(&Config{Mode: ModePCAP, PcapFile: fixture(t), BPFFilter: "not a filter ((("})
	if err := engine.Start(context.Background()); err == nil {
		t.Error("expected error for invalid BPF filter")
	}
}

func TestStopWaitsForReadLoop(t *testing.T) {
	engine, err := New(&Config{Mode: ModePCAP, PcapFile: fixture(t)})
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := engine.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-engine.Done():
	default:
		t.Error("Done() should be closed once Stop returns")
	}
	if isRunning(engine) {
		t.Error("engine still running after Stop")
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("restart after Stop error = %v", err)
	}
	engine.Stop()
}

func isRunning(s *Session) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func TestPickInterface(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []InterfaceInfo
		want   string
	}{
		{
			name: "prefers wired",
			ifaces: []InterfaceInfo{
				{Name: "lo", Up: true, Loopback: true},
				{Name: "docker0", Up: true},
				{Name: "wlan0", Up: true},
				{Name: "eth0", Up: true},
			},
			want: "eth0",
		},
		{
			name: "skips down interfaces",
			ifaces: []InterfaceInfo{
				{Name: "eth0"},
				{Name: "wlp2s0", Up: true},
			},
			want: "wlp2s0",
		},
		{
			name: "windows names",
			ifaces: []InterfaceInfo{
				{Name: "vEthernet (WSL)", Up: true},
				{Name: "Wi-Fi", Up: true},
			},
			want: "vEthernet (WSL)",
		},
		{
			name: "first candidate otherwise",
			ifaces: []InterfaceInfo{
				{Name: "lo", Up: true, Loopback: true},
				{Name: "bond0", Up: true},
				{Name: "br0", Up: true},
			},
			want: "bond0",
		},
		{
			name:   "loopback only",
			ifaces: []InterfaceInfo{{Name: "lo", Up: true, Loopback: true}},
			want:   "lo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickInterface(tt.ifaces)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("pickInterface() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := pickInterface(nil); err != ErrNoInterface {
		t.Errorf("pickInterface(nil) error = %v", err)
	}
}

func TestModeString(t *testing.T) {
	if ModeLive.String() != "live" || ModePCAP.String() != "pcap" {
		t.Error("unexpected mode names")
	}
}
