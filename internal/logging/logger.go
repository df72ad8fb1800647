// Package logging configures the process-wide slog logger and hands out
// per-component children for the dataset, training, capture and API code.
package logging

import (
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level aliases slog.Level so callers need not import slog for levels.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is a slog.Logger whose level can be changed after Init.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config selects level, sink and encoding. A nil Output means stderr;
// any Format other than "json" gives the text handler.
type Config struct {
	Level     Level
	Output    io.Writer
	Format    string
	AddSource bool
}

// ParseLevel maps a config string to a Level. Unknown strings yield info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu   sync.Mutex
	root *Logger
)

// Init replaces the root logger and installs it as slog's default.
// Init(nil) restores info-level text output on stderr.
func Init(cfg *Config) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}

	lv := new(slog.LevelVar)
	lv.Set(c.Level)
	opts := &slog.HandlerOptions{Level: lv, AddSource: c.AddSource}

	var h slog.Handler = slog.NewTextHandler(c.Output, opts)
	if c.Format == "json" {
		h = slog.NewJSONHandler(c.Output, opts)
	}
	l := &Logger{Logger: slog.New(h), level: lv}

	mu.Lock()
	root = l
	mu.Unlock()
	slog.SetDefault(l.Logger)
}

// Default returns the root logger, creating it on first use.
func Default() *Logger {
	mu.Lock()
	l := root
	mu.Unlock()
	if l == nil {
		Init(nil)
		mu.Lock()
		l = root
		mu.Unlock()
	}
	return l
}

// SetLevel changes the threshold for this logger and every child
// derived from the same root.
func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

// GetLevel reports the current threshold.
func (l *Logger) GetLevel() Level { return l.level.Level() }

// WithComponent tags every record with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), level: l.level}
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

func DatasetLogger() *Logger { return Default().WithComponent("dataset") }
func TrainLogger() *Logger   { return Default().WithComponent("train") }
func CaptureLogger() *Logger { return Default().WithComponent("capture") }
func MonitorLogger() *Logger { return Default().WithComponent("monitor") }
func APILogger() *Logger     { return Default().WithComponent("api") }
func AlertLogger() *Logger   { return Default().WithComponent("alert") }

// Err renders err under the "error" key. A nil error gives an empty
// attr, which slog drops.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

func Duration(name string, d time.Duration) slog.Attr { return slog.Duration(name, d) }

func Count(name string, n int64) slog.Attr { return slog.Int64(name, n) }

// LogRuntimeInfo records goroutine and heap figures once at startup.
func LogRuntimeInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	Info("runtime info",
		"goroutines", runtime.NumGoroutine(),
		"heap_alloc_mb", m.HeapAlloc>>20,
		"gc_cycles", m.NumGC,
		"go_version", runtime.Version(),
		"cpus", runtime.NumCPU(),
	)
}
