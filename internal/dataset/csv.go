package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ReadCSV parses a CSV table with a header row. Header names are trimmed
// because several public IDS datasets ship them with leading spaces.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset: empty CSV")
		}
		return nil, fmt.Errorf("dataset: failed to read CSV header: %w", err)
	}
	cols := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if seen[name] {
			return nil, fmt.Errorf("dataset: duplicate column %q", name)
		}
		seen[name] = true
		cols[i] = name
	}

	f := &Frame{Columns: cols}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: failed to read CSV: %w", err)
		}
		f.Rows = append(f.Rows, rec)
	}
	return f, nil
}

// ReadCSVFile loads a CSV file.
func ReadCSVFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCSV(file)
}

// WriteCSV writes the frame with a header row.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(f.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCSVFile atomically replaces path with the frame contents.
func WriteCSVFile(path string, f *Frame) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.csv")
	if err != nil {
		return fmt.Errorf("dataset: failed to create temp file: %w", err)
	}
	bw := bufio.NewWriter(tmp)
	if err := WriteCSV(bw, f); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("dataset: failed to write %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SniffCSV rejects content that is not plain text. Detection only looks at
// the leading bytes.
func SniffCSV(head []byte) error {
	if len(bytes.TrimSpace(head)) == 0 {
		return invalid("Uploaded file is empty")
	}
	mt := mimetype.Detect(head)
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/csv") || m.Is("text/plain") {
			return nil
		}
	}
	return invalid("Uploaded file is not a CSV file (detected %s)", mt.String())
}
