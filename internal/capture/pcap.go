package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// pcapngMagic is the section header block type that opens a PCAPNG file.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// packetReader is the subset of the pcapgo readers the file engine uses.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// engineBase holds the state shared by the live and file engines.
type engineBase struct {
	config  *Config
	handler Handler
	mu      sync.RWMutex

	running int32
	cancel  context.CancelFunc
	done    chan struct{}

	packets     atomic.Uint64
	bytes       atomic.Uint64
	dropped     atomic.Uint64
	parseErrors atomic.Uint64
	startTime   time.Time
}

func newEngineBase(cfg *Config) engineBase {
	return engineBase{config: cfg, done: make(chan struct{})}
}

// SetHandler sets the packet handler callback.
func (b *engineBase) SetHandler(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// Done returns a channel that is closed when the read loop exits.
func (b *engineBase) Done() <-chan struct{} {
	return b.done
}

func (b *engineBase) begin(ctx context.Context) (context.Context, error) {
	if !atomic.CompareAndSwapInt32(&b.running, 0, 1) {
		return nil, errors.New("capture: engine already running")
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.startTime = time.Now()
	return ctx, nil
}

// halt cancels the read loop and waits for it to exit.
func (b *engineBase) halt() error {
	if b.cancel == nil {
		return errors.New("capture: engine not running")
	}
	b.cancel()
	<-b.done
	return nil
}

// deliver decodes a frame and hands it to the handler.
func (b *engineBase) deliver(dec *packetDecoder, data []byte, ci gopacket.CaptureInfo) {
	if len(data) == 0 {
		return
	}
	b.packets.Add(1)
	b.bytes.Add(uint64(len(data)))
	metrics.PacketsReceived.Inc()
	metrics.BytesReceived.Add(float64(len(data)))

	info, ok := dec.decode(data, ci)
	if !ok {
		b.parseErrors.Add(1)
		metrics.ParseErrors.Inc()
	}

	b.mu.RLock()
	handler := b.handler
	b.mu.RUnlock()

	if handler != nil {
		handler(data, info)
	}
}

func (b *engineBase) stats(source string) *models.CaptureStats {
	return &models.CaptureStats{
		PacketsReceived: b.packets.Load(),
		PacketsDropped:  b.dropped.Load(),
		BytesReceived:   b.bytes.Load(),
		ParseErrors:     b.parseErrors.Load(),
		StartTime:       b.startTime,
		LastUpdate:      time.Now(),
		Interface:       source,
		PromiscuousMode: b.config.Promiscuous,
		CaptureFilter:   b.config.BPFFilter,
	}
}

// PCAPEngine replays packets from a PCAP or PCAPNG file.
type PCAPEngine struct {
	engineBase

	file   *os.File
	reader packetReader
	filter *pcap.BPF
}

// NewPCAPEngine creates a new capture file reader.
func NewPCAPEngine(cfg *Config) (*PCAPEngine, error) {
	if cfg == nil {
		return nil, errors.New("capture: config cannot be nil")
	}
	if cfg.PcapFile == "" {
		return nil, errors.New("capture: PCAP file path is required")
	}
	return &PCAPEngine{engineBase: newEngineBase(cfg)}, nil
}

// Start opens the file and begins replaying packets.
func (e *PCAPEngine) Start(ctx context.Context) error {
	f, err := os.Open(e.config.PcapFile)
	if err != nil {
		return fmt.Errorf("capture: failed to open PCAP file: %w", err)
	}
	reader, err := openPacketReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("capture: failed to read PCAP file %s: %w", e.config.PcapFile, err)
	}

	if e.config.BPFFilter != "" {
		snap := e.config.SnapLen
		if snap <= 0 {
			snap = 65535
		}
		bpf, err := pcap.NewBPF(reader.LinkType(), snap, e.config.BPFFilter)
		if err != nil {
			f.Close()
			return fmt.Errorf("capture: failed to compile BPF filter: %w", err)
		}
		e.filter = bpf
	}

	ctx, err = e.begin(ctx)
	if err != nil {
		f.Close()
		return err
	}
	e.file = f
	e.reader = reader

	logging.CaptureLogger().Info("replaying capture file",
		"file", e.config.PcapFile,
		"link_type", reader.LinkType().String(),
		"filter", e.config.BPFFilter)

	go e.readLoop(ctx)
	return nil
}

// openPacketReader picks the classic or next-generation reader based on
// the file magic.
func openPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Stop halts replay and waits for the read loop to exit.
func (e *PCAPEngine) Stop() error {
	return e.halt()
}

// Stats returns current reading statistics.
func (e *PCAPEngine) Stats() *models.CaptureStats {
	return e.stats(e.config.PcapFile)
}

func (e *PCAPEngine) readLoop(ctx context.Context) {
	defer func() {
		e.file.Close()
		atomic.StoreInt32(&e.running, 0)
		close(e.done)
	}()

	log := logging.CaptureLogger()
	dec := newPacketDecoder(e.reader.LinkType(), e.config.PcapFile)

	for {
		if ctx.Err() != nil {
			return
		}
		data, ci, err := e.reader.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warn("capture file read failed", logging.Err(err))
			}
			log.Info("capture file finished", logging.Count("packets", int64(e.packets.Load())))
			return
		}
		if e.filter != nil && !e.filter.Matches(ci, data) {
			continue
		}
		e.deliver(dec, data, ci)
	}
}

var _ Source = (*PCAPEngine)(nil)
