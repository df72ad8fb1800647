package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/gopacket/gopacket/pcap"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// statsInterval is how often kernel drop counters are polled.
const statsInterval = 5 * time.Second

// LiveEngine captures packets from a network interface through libpcap.
type LiveEngine struct {
	engineBase

	handle *pcap.Handle
}

// NewLiveEngine creates a live capture engine for cfg.Interface.
func NewLiveEngine(cfg *Config) (*LiveEngine, error) {
	if cfg == nil {
		return nil, errors.New("capture: config cannot be nil")
	}
	if cfg.Interface == "" {
		return nil, errors.New("capture: interface is required for live capture")
	}
	return &LiveEngine{engineBase: newEngineBase(cfg)}, nil
}

// Start opens the interface and begins capturing.
func (e *LiveEngine) Start(ctx context.Context) error {
	timeout := e.config.ReadTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	handle, err := pcap.OpenLive(e.config.Interface, int32(e.config.SnapLen), e.config.Promiscuous, timeout)
	if err != nil {
		return fmt.Errorf("capture: failed to open interface %s: %w", e.config.Interface, err)
	}
	if e.config.BPFFilter != "" {
		if err := handle.SetBPFFilter(e.config.BPFFilter); err != nil {
			handle.Close()
			return fmt.Errorf("capture: failed to set BPF filter: %w", err)
		}
	}

	ctx, err = e.begin(ctx)
	if err != nil {
		handle.Close()
		return err
	}
	e.handle = handle

	logging.CaptureLogger().Info("live capture started",
		"interface", e.config.Interface,
		"promiscuous", e.config.Promiscuous,
		"snaplen", e.config.SnapLen,
		"filter", e.config.BPFFilter)

	go e.readLoop(ctx)
	return nil
}

// Stop halts capture and waits for the read loop to exit.
func (e *LiveEngine) Stop() error {
	return e.halt()
}

// Stats returns current capture statistics.
func (e *LiveEngine) Stats() *models.CaptureStats {
	return e.stats(e.config.Interface)
}

func (e *LiveEngine) readLoop(ctx context.Context) {
	defer func() {
		e.pollDrops()
		e.handle.Close()
		atomic.StoreInt32(&e.running, 0)
		close(e.done)
		logging.CaptureLogger().Info("live capture stopped",
			"interface", e.config.Interface,
			logging.Count("packets", int64(e.packets.Load())),
			logging.Count("dropped", int64(e.dropped.Load())))
	}()

	dec := newPacketDecoder(e.handle.LinkType(), e.config.Interface)
	lastPoll := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(lastPoll) >= statsInterval {
			e.pollDrops()
			lastPoll = time.Now()
		}

		data, ci, err := e.handle.ReadPacketData()
		switch {
		case err == nil:
			e.deliver(dec, data, ci)
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
			return
		default:
			logging.CaptureLogger().Warn("packet read failed", "interface", e.config.Interface, logging.Err(err))
			return
		}
	}
}

// pollDrops folds the kernel drop counters into the engine statistics.
func (e *LiveEngine) pollDrops() {
	st, err := e.handle.Stats()
	if err != nil {
		return
	}
	dropped := uint64(st.PacketsDropped + st.PacketsIfDropped)
	if prev := e.dropped.Swap(dropped); dropped > prev {
		metrics.PacketsDropped.Add(float64(dropped - prev))
	}
}

var _ Source = (*LiveEngine)(nil)
