// Package flow tracks bidirectional flows and computes the per-flow
// statistics attached to every monitored packet.
//
// A flow is keyed by its normalized 5-tuple. The forward direction is the
// direction of the first packet seen. Lengths are wire lengths in bytes,
// inter-arrival times are in microseconds and initial window sizes are -1
// until a TCP segment in that direction has been seen.
package flow

import (
	"container/list"
	"math"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// Config holds flow table limits.
type Config struct {
	// Timeout evicts flows with no packets for this duration.
	// Default: 2 minutes
	Timeout time.Duration

	// MaxFlows caps the table size; the least recently seen flow is
	// evicted when it is full.
	// Default: 100000
	MaxFlows int
}

// DefaultConfig returns the default flow table limits.
func DefaultConfig() Config {
	return Config{
		Timeout:  2 * time.Minute,
		MaxFlows: 100000,
	}
}

// Key identifies a flow independent of direction.
type Key struct {
	A, B         netip.Addr
	PortA, PortB uint16
	Proto        uint8
}

// newKey orders addresses and ports so both directions share a key.
func newKey(src, dst netip.Addr, sport, dport uint16, proto uint8) (Key, bool) {
	if c := src.Compare(dst); c < 0 || (c == 0 && sport <= dport) {
		return Key{A: src, B: dst, PortA: sport, PortB: dport, Proto: proto}, true
	}
	return Key{A: dst, B: src, PortA: dport, PortB: sport, Proto: proto}, false
}

// dirStats accumulates one direction of a flow.
type dirStats struct {
	packets    uint64
	lenSum     float64
	lenMax     float64
	payloadSum float64
	// Welford accumulators for the length standard deviation.
	mean, m2 float64

	lastNano int64
	iatTotal float64
	iatMax   float64
	initWin  float64
}

func (d *dirStats) add(length, payload int, tsNano int64) {
	l := float64(length)
	d.packets++
	d.lenSum += l
	d.payloadSum += float64(payload)
	if l > d.lenMax {
		d.lenMax = l
	}
	delta := l - d.mean
	d.mean += delta / float64(d.packets)
	d.m2 += delta * (l - d.mean)

	if d.packets > 1 {
		iat := float64(tsNano-d.lastNano) / float64(time.Microsecond)
		if iat < 0 {
			iat = 0
		}
		d.iatTotal += iat
		if iat > d.iatMax {
			d.iatMax = iat
		}
	}
	d.lastNano = tsNano
}

func (d *dirStats) lenMean() float64 {
	if d.packets == 0 {
		return 0
	}
	return d.lenSum / float64(d.packets)
}

func (d *dirStats) payloadMean() float64 {
	if d.packets == 0 {
		return 0
	}
	return d.payloadSum / float64(d.packets)
}

// lenStd is the sample standard deviation of packet lengths.
func (d *dirStats) lenStd() float64 {
	if d.packets < 2 {
		return 0
	}
	v := d.m2 / float64(d.packets-1)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Flow is the state of one tracked flow.
type Flow struct {
	Key           Key
	forwardIsA    bool
	StartTimeNano int64
	LastSeenNano  int64

	fwd, bwd dirStats
	elem     *list.Element
}

// Packets returns the forward and backward packet counts.
func (f *Flow) Packets() (fwd, bwd uint64) {
	return f.fwd.packets, f.bwd.packets
}

// Features renders the current flow statistics.
func (f *Flow) Features() models.FlowFeatures {
	return models.FlowFeatures{
		AvgBwdSegmentSize:    f.bwd.payloadMean(),
		BwdPacketLengthMean:  f.bwd.lenMean(),
		InitWinBytesForward:  f.fwd.initWin,
		FwdIATMax:            f.fwd.iatMax,
		FwdIATTotal:          f.fwd.iatTotal,
		MaxPacketLength:      max(f.fwd.lenMax, f.bwd.lenMax),
		BwdPacketLengthMax:   f.bwd.lenMax,
		BwdPacketLengthStd:   f.bwd.lenStd(),
		BwdIATMax:            f.bwd.iatMax,
		InitWinBytesBackward: f.bwd.initWin,
		BwdIATTotal:          f.bwd.iatTotal,
	}
}

// Stats holds flow table counters.
type Stats struct {
	FlowsCreated uint64 `json:"flows_created"`
	FlowsExpired uint64 `json:"flows_expired"`
	FlowsEvicted uint64 `json:"flows_evicted"`
	ActiveFlows  int    `json:"active_flows"`
}

// Tracker maintains the flow table.
type Tracker struct {
	config Config

	mu    sync.Mutex
	flows map[Key]*Flow
	// lru orders flows from least to most recently seen.
	lru *list.List

	created atomic.Uint64
	expired atomic.Uint64
	evicted atomic.Uint64
}

// NewTracker creates a flow tracker. Zero limits take the defaults.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFlows <= 0 {
		cfg.MaxFlows = def.MaxFlows
	}
	return &Tracker{
		config: cfg,
		flows:  make(map[Key]*Flow),
		lru:    list.New(),
	}
}

// Observe folds a packet into its flow and returns the updated flow
// features. ok is false for packets without an IP layer.
func (t *Tracker) Observe(info *models.PacketInfo) (features models.FlowFeatures, forward bool, ok bool) {
	src, okSrc := netipFrom(info.SrcIP)
	dst, okDst := netipFrom(info.DstIP)
	if !okSrc || !okDst {
		return models.FlowFeatures{}, false, false
	}
	key, isA := newKey(src, dst, info.SrcPort, info.DstPort, info.Protocol)
	ts := info.TimestampNano

	t.mu.Lock()
	defer t.mu.Unlock()

	t.expireLocked(ts)

	fl, exists := t.flows[key]
	if exists && ts-fl.LastSeenNano > int64(t.config.Timeout) {
		t.removeLocked(fl)
		t.expired.Add(1)
		exists = false
	}
	if !exists {
		if len(t.flows) >= t.config.MaxFlows {
			if front := t.lru.Front(); front != nil {
				t.removeLocked(front.Value.(*Flow))
				t.evicted.Add(1)
			}
		}
		fl = &Flow{
			Key:           key,
			forwardIsA:    isA,
			StartTimeNano: ts,
			fwd:           dirStats{initWin: -1},
			bwd:           dirStats{initWin: -1},
		}
		fl.elem = t.lru.PushBack(fl)
		t.flows[key] = fl
		t.created.Add(1)
		metrics.ActiveFlows.Set(float64(len(t.flows)))
	} else {
		t.lru.MoveToBack(fl.elem)
	}
	if ts > fl.LastSeenNano {
		fl.LastSeenNano = ts
	}

	forward = isA == fl.forwardIsA
	dir := &fl.bwd
	if forward {
		dir = &fl.fwd
	}
	dir.add(int(info.Length), info.PayloadLength, ts)
	if info.HasTCP && dir.initWin < 0 {
		dir.initWin = float64(info.Window)
	}

	return fl.Features(), forward, true
}

// expireLocked drops flows idle for longer than the timeout relative to
// now, walking the LRU from the oldest end.
func (t *Tracker) expireLocked(nowNano int64) int {
	n := 0
	for e := t.lru.Front(); e != nil; {
		fl := e.Value.(*Flow)
		if nowNano-fl.LastSeenNano <= int64(t.config.Timeout) {
			break
		}
		next := e.Next()
		t.removeLocked(fl)
		t.expired.Add(1)
		n++
		e = next
	}
	return n
}

// Sweep expires idle flows relative to now and returns how many were
// removed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expireLocked(now.UnixNano())
}

func (t *Tracker) removeLocked(fl *Flow) {
	t.lru.Remove(fl.elem)
	delete(t.flows, fl.Key)
	metrics.ActiveFlows.Set(float64(len(t.flows)))
}

// lookup returns a snapshot of the flow for key.
func (t *Tracker) lookup(key Key) (Flow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fl, ok := t.flows[key]
	if !ok {
		return Flow{}, false
	}
	snap := *fl
	snap.elem = nil
	return snap, true
}

// Len returns the number of tracked flows.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// Reset clears the flow table.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flows = make(map[Key]*Flow)
	t.lru.Init()
	metrics.ActiveFlows.Set(0)
}

// Stats returns flow table counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		FlowsCreated: t.created.Load(),
		FlowsExpired: t.expired.Load(),
		FlowsEvicted: t.evicted.Load(),
		ActiveFlows:  t.Len(),
	}
}

func netipFrom(ip []byte) (netip.Addr, bool) {
	a, ok := netip.AddrFromSlice(ip)
	return a.Unmap(), ok
}
