package monitor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// CSVSink appends packet records to the capture CSV.
type CSVSink struct {
	path string

	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	rows int
}

// NewCSVSink returns a sink writing to path. The file is created on the
// first Reset.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

// Path returns the absolute path of the CSV file.
func (s *CSVSink) Path() string {
	if abs, err := filepath.Abs(s.path); err == nil {
		return abs
	}
	return s.path
}

// Reset truncates the file and writes the header row.
func (s *CSVSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("monitor: create csv dir: %w", err)
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("monitor: create csv: %w", err)
	}
	s.f = f
	s.w = csv.NewWriter(f)
	s.rows = 0
	if err := s.w.Write(models.CSVHeader); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// Write appends one record. It is a no-op before Reset.
func (s *CSVSink) Write(rec *models.PacketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	if err := s.w.Write(rec.CSVRow()); err != nil {
		return err
	}
	s.rows++
	return nil
}

// Flush writes buffered rows to disk.
func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	s.w.Flush()
	return s.w.Error()
}

// Rows returns the number of records written since the last Reset.
func (s *CSVSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Exists reports whether the CSV file is present on disk.
func (s *CSVSink) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *CSVSink) closeLocked() error {
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := errors.Join(s.w.Error(), s.f.Close())
	s.f, s.w = nil, nil
	return err
}
