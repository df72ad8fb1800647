// Package capture feeds decoded packets to the traffic monitor, either
// live from an interface through libpcap or replayed from a capture file.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// Mode says where packets come from.
type Mode int

const (
	ModeLive Mode = iota
	ModePCAP
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModePCAP:
		return "pcap"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

const defaultSnapLen = 65535

var (
	ErrNotRunning     = errors.New("capture: session not running")
	ErrAlreadyRunning = errors.New("capture: session already running")
)

// Config describes one capture session. PcapFile is read only in
// ModePCAP; Interface, Promiscuous and ReadTimeout only in ModeLive.
type Config struct {
	Interface   string
	Mode        Mode
	PcapFile    string
	SnapLen     int
	Promiscuous bool
	BPFFilter   string

	// ReadTimeout bounds a blocking live read so cancellation is noticed.
	ReadTimeout time.Duration
}

// DefaultConfig is a promiscuous live capture on iface.
func DefaultConfig(iface string) *Config {
	return &Config{
		Interface:   iface,
		Mode:        ModeLive,
		SnapLen:     defaultSnapLen,
		Promiscuous: true,
		ReadTimeout: 500 * time.Millisecond,
	}
}

func (c *Config) validate() error {
	switch {
	case c.Mode == ModeLive && c.Interface == "":
		return errors.New("capture: live mode needs an interface")
	case c.Mode == ModePCAP && c.PcapFile == "":
		return errors.New("capture: pcap mode needs a file")
	case c.Mode != ModeLive && c.Mode != ModePCAP:
		return fmt.Errorf("capture: unknown mode %d", c.Mode)
	}
	return nil
}

// Handler receives every decoded packet. data is only valid for the
// duration of the call.
type Handler func(data []byte, info *models.PacketInfo)

// Source is a packet producer; LiveEngine and PCAPEngine implement it.
type Source interface {
	Start(ctx context.Context) error
	// Stop cancels the read loop and waits for it to return.
	Stop() error
	Stats() *models.CaptureStats
	SetHandler(h Handler)
	// Done is closed once the read loop has exited.
	Done() <-chan struct{}
}

// Session runs one Source at a time and forwards its packets to the
// registered Handler.
type Session struct {
	mu      sync.RWMutex
	cfg     *Config
	handler Handler

	src     Source
	cancel  context.CancelFunc
	running bool
	started time.Time
}

// New validates cfg and fills in a default snap length.
func New(cfg *Config) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("capture: nil config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = defaultSnapLen
	}
	return &Session{cfg: cfg}, nil
}

func (s *Session) open() (Source, error) {
	if s.cfg.Mode == ModePCAP {
		return NewPCAPEngine(s.cfg)
	}
	return NewLiveEngine(s.cfg)
}

// Start opens the source and begins delivering packets. The session
// keeps running until ctx is cancelled, Stop is called or a capture file
// reaches its end.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	src, err := s.open()
	if err != nil {
		return err
	}
	src.SetHandler(s.dispatch)

	runCtx, cancel := context.WithCancel(ctx)
	if err := src.Start(runCtx); err != nil {
		cancel()
		return err
	}
	s.src, s.cancel = src, cancel
	s.running = true
	s.started = time.Now()
	metrics.CaptureActive.Set(1)

	go s.reap(src)
	return nil
}

// reap clears the running flag when src ends by itself.
func (s *Session) reap(src Source) {
	<-src.Done()
	s.mu.Lock()
	if s.src == src && s.running {
		s.running = false
		metrics.CaptureActive.Set(0)
	}
	s.mu.Unlock()
}

// Stop returns once the handler will not be called again.
func (s *Session) Stop() error {
	s.mu.Lock()
	src, cancel := s.src, s.cancel
	s.running = false
	s.mu.Unlock()
	if src == nil {
		return ErrNotRunning
	}

	cancel()
	err := src.Stop()
	metrics.CaptureActive.Set(0)
	return err
}

// Stats reports counters of the current or last source with rates
// computed over its lifetime.
func (s *Session) Stats() *models.CaptureStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	if s.src == nil {
		return &models.CaptureStats{
			Interface:       s.origin(),
			PromiscuousMode: s.cfg.Promiscuous,
			CaptureFilter:   s.cfg.BPFFilter,
			LastUpdate:      now,
		}
	}

	st := s.src.Stats()
	st.LastUpdate = now
	if secs := now.Sub(st.StartTime).Seconds(); secs > 0 {
		st.PacketsPerSecond = float64(st.PacketsReceived) / secs
		st.BytesPerSecond = float64(st.BytesReceived) / secs
		metrics.CaptureUptime.Set(secs)
	}
	return st
}

func (s *Session) origin() string {
	if s.cfg.Mode == ModePCAP {
		return s.cfg.PcapFile
	}
	return s.cfg.Interface
}

func (s *Session) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Session) dispatch(data []byte, info *models.PacketInfo) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h != nil {
		h(data, info)
	}
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the source's read loop exits. Before Start it is
// already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.src == nil {
		return closedCh
	}
	return s.src.Done()
}
