package flow

import (
	"math"
	"net"
	"testing"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func pkt(src, dst string, sport, dport uint16, length int, at time.Duration) *models.PacketInfo {
	return &models.PacketInfo{
		TimestampNano: epoch.Add(at).UnixNano(),
		Length:        uint32(length),
		SrcIP:         net.ParseIP(src),
		DstIP:         net.ParseIP(dst),
		SrcPort:       sport,
		DstPort:       dport,
		Protocol:      6,
	}
}

func tcp(p *models.PacketInfo, window uint16, payload int) *models.PacketInfo {
	p.HasTCP = true
	p.Window = window
	p.PayloadLength = payload
	return p
}

func TestTrackerBidirectionalFeatures(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	f, fwd, ok := tr.Observe(tcp(pkt("10.0.0.1", "10.0.0.2", 40000, 80, 60, 0), 8192, 0))
	if !ok || !fwd {
		t.Fatalf("first packet: ok=%v forward=%v", ok, fwd)
	}
	if f.InitWinBytesForward != 8192 || f.InitWinBytesBackward != -1 {
		t.Errorf("init windows = %v / %v", f.InitWinBytesForward, f.InitWinBytesBackward)
	}

	f, fwd, _ = tr.Observe(tcp(pkt("10.0.0.2", "10.0.0.1", 80, 40000, 100, 2*time.Millisecond), 4096, 40))
	if fwd {
		t.Error("reply should be backward")
	}
	if f.InitWinBytesBackward != 4096 {
		t.Errorf("backward window = %v", f.InitWinBytesBackward)
	}

	tr.Observe(tcp(pkt("10.0.0.1", "10.0.0.2", 40000, 80, 80, 5*time.Millisecond), 1, 20))
	f, _, _ = tr.Observe(tcp(pkt("10.0.0.2", "10.0.0.1", 80, 40000, 200, 9*time.Millisecond), 1, 140))

	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
	if f.InitWinBytesForward != 8192 || f.InitWinBytesBackward != 4096 {
		t.Errorf("initial windows changed: %v / %v", f.InitWinBytesForward, f.InitWinBytesBackward)
	}
	if f.FwdIATTotal != 5000 || f.FwdIATMax != 5000 {
		t.Errorf("fwd iat = %v / %v", f.FwdIATTotal, f.FwdIATMax)
	}
	if f.BwdIATTotal != 7000 || f.BwdIATMax != 7000 {
		t.Errorf("bwd iat = %v / %v", f.BwdIATTotal, f.BwdIATMax)
	}
	if f.BwdPacketLengthMean != 150 || f.BwdPacketLengthMax != 200 || f.MaxPacketLength != 200 {
		t.Errorf("bwd lengths = mean %v max %v overall %v", f.BwdPacketLengthMean, f.BwdPacketLengthMax, f.MaxPacketLength)
	}
	if want := math.Sqrt(5000); math.Abs(f.BwdPacketLengthStd-want) > 1e-9 {
		t.Errorf("bwd std = %v, want %v", f.BwdPacketLengthStd, want)
	}
	if f.AvgBwdSegmentSize != 90 {
		t.Errorf("avg bwd segment = %v", f.AvgBwdSegmentSize)
	}
}

func TestTrackerSeparatesFlows(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Observe(pkt("10.0.0.1", "10.0.0.2", 1000, 80, 60, 0))
	tr.Observe(pkt("10.0.0.1", "10.0.0.2", 1001, 80, 60, 0))
	udp := pkt("10.0.0.1", "10.0.0.2", 1000, 80, 60, 0)
	udp.Protocol = 17
	f, _, _ := tr.Observe(udp)
	if tr.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tr.Len())
	}
	if f.InitWinBytesForward != -1 {
		t.Errorf("udp init window = %v, want -1", f.InitWinBytesForward)
	}
	if _, _, ok := tr.Observe(&models.PacketInfo{Length: 42}); ok {
		t.Error("non-IP packet should not be tracked")
	}
}

func TestTrackerTimeout(t *testing.T) {
	tr := NewTracker(Config{Timeout: time.Second, MaxFlows: 10})
	tr.Observe(pkt("10.0.0.1", "10.0.0.2", 1000, 80, 60, 0))
	tr.Observe(pkt("10.0.0.3", "10.0.0.4", 1000, 80, 60, 500*time.Millisecond))

	// The same tuple after the timeout starts a fresh flow in the new direction.
	f, fwd, _ := tr.Observe(pkt("10.0.0.2", "10.0.0.1", 80, 1000, 60, 3*time.Second))
	if !fwd || f.FwdIATTotal != 0 {
		t.Errorf("expired flow reused: forward=%v iat=%v", fwd, f.FwdIATTotal)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after expiry", tr.Len())
	}
	if st := tr.Stats(); st.FlowsExpired != 2 || st.FlowsCreated != 3 {
		t.Errorf("Stats() = %+v", st)
	}

	if n := tr.Sweep(epoch.Add(time.Minute)); n != 1 || tr.Len() != 0 {
		t.Errorf("Sweep() = %d, Len() = %d", n, tr.Len())
	}
}

func TestTrackerMaxFlows(t *testing.T) {
	tr := NewTracker(Config{Timeout: time.Hour, MaxFlows: 2})
	a := pkt("10.0.0.1", "10.0.0.2", 1, 80, 60, 0)
	tr.Observe(a)
	tr.Observe(pkt("10.0.0.1", "10.0.0.2", 2, 80, 60, time.Millisecond))
	// Touch the first flow so the second becomes least recently seen.
	tr.Observe(pkt("10.0.0.1", "10.0.0.2", 1, 80, 60, 2*time.Millisecond))
	tr.Observe(pkt("10.0.0.1", "10.0.0.2", 3, 80, 60, 3*time.Millisecond))

	if tr.Len() != 2 || tr.Stats().FlowsEvicted != 1 {
		t.Fatalf("Len() = %d, stats %+v", tr.Len(), tr.Stats())
	}
	key, _ := newKeyFor(a)
	if fl, ok := tr.lookup(key); !ok {
		t.Error("recently used flow was evicted")
	} else if fwd, _ := fl.Packets(); fwd != 2 {
		t.Errorf("forward packets = %d", fwd)
	}

	tr.Reset()
	if tr.Len() != 0 {
		t.Error("Reset() left flows behind")
	}
}

func newKeyFor(p *models.PacketInfo) (Key, bool) {
	src, _ := netipFrom(p.SrcIP)
	dst, _ := netipFrom(p.DstIP)
	return newKey(src, dst, p.SrcPort, p.DstPort, p.Protocol)
}
