// Package profiling captures runtime profiles of the running service, to
// files on disk and over the pprof HTTP handlers.
package profiling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
)

// Config holds profiler configuration.
type Config struct {
	// Dir receives profile files.
	Dir string

	// Name prefixes every profile file.
	// Default: "idsd"
	Name string

	// CPU records a CPU profile from Start to Stop.
	CPU bool

	// Interval takes heap and goroutine snapshots periodically. Zero
	// disables periodic snapshots.
	Interval time.Duration
}

// Profiler writes CPU, heap and goroutine profiles to Config.Dir.
type Profiler struct {
	config  Config
	running int32
	mu      sync.Mutex
	cpuFile *os.File
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	seq     int
}

// New creates the profile directory and returns a profiler.
func New(cfg Config) (*Profiler, error) {
	if cfg.Dir == "" {
		return nil, errors.New("profiling: output directory is required")
	}
	if cfg.Name == "" {
		cfg.Name = "idsd"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("profiling: failed to create output directory: %w", err)
	}
	return &Profiler{config: cfg}, nil
}

// Start begins CPU profiling and periodic snapshots.
func (p *Profiler) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return errors.New("profiling: profiler already running")
	}

	if p.config.CPU {
		if err := p.startCPUProfile(); err != nil {
			atomic.StoreInt32(&p.running, 0)
			return err
		}
	}

	ctx, p.cancel = context.WithCancel(ctx)
	if p.config.Interval > 0 {
		p.wg.Add(1)
		go p.snapshotLoop(ctx)
	}

	logging.Info("profiling started", "dir", p.config.Dir, "cpu", p.config.CPU,
		logging.Duration("interval", p.config.Interval))
	return nil
}

// Stop ends CPU profiling and writes a final snapshot.
func (p *Profiler) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return errors.New("profiling: profiler not running")
	}
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	if p.cpuFile != nil {
		rpprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
	}
	p.mu.Unlock()

	return p.TakeSnapshot("final")
}

// TakeSnapshot writes heap and goroutine profiles tagged with name.
func (p *Profiler) TakeSnapshot(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := fmt.Sprintf("%s-%s-%s", p.config.Name, name, time.Now().Format("20060102-150405"))

	// Up-to-date heap statistics.
	runtime.GC()
	for _, profile := range []string{"heap", "goroutine"} {
		path := filepath.Join(p.config.Dir, base+"-"+profile+".pprof")
		if err := writeProfile(profile, path); err != nil {
			return fmt.Errorf("profiling: failed to write %s profile: %w", profile, err)
		}
	}
	return nil
}

func (p *Profiler) startCPUProfile() error {
	path := filepath.Join(p.config.Dir,
		fmt.Sprintf("%s-cpu-%s.pprof", p.config.Name, time.Now().Format("20060102-150405")))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("profiling: failed to create CPU profile file: %w", err)
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("profiling: failed to start CPU profile: %w", err)
	}

	p.mu.Lock()
	p.cpuFile = f
	p.mu.Unlock()
	return nil
}

func (p *Profiler) snapshotLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			p.seq++
			name := fmt.Sprintf("periodic-%d", p.seq)
			p.mu.Unlock()
			if err := p.TakeSnapshot(name); err != nil {
				logging.Warn("profile snapshot failed", logging.Err(err))
			}
		}
	}
}

func writeProfile(name, path string) error {
	profile := rpprof.Lookup(name)
	if profile == nil {
		return fmt.Errorf("profile %s not found", name)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return profile.WriteTo(f, 0)
}

// Handler serves the pprof endpoints under /debug/pprof/.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
