// Package gazelog keeps the per-frame gaze observations of the current
// session in a CSV file.
package gazelog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
)

var header = []string{"Looking Direction", "X", "Y"}

// Log appends gaze rows to one CSV file. It has a single writer: the fusion
// loop of the active session.
type Log struct {
	mu   sync.Mutex
	path string
}

// New returns a log bound to path. Nothing is touched until Reset or Append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the CSV location.
func (l *Log) Path() string {
	return l.path
}

// Reset truncates the file and writes the header.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("create gaze log: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write gaze log header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush gaze log header: %w", err)
	}
	return f.Close()
}

// Append writes one observation.
func (l *Log) Append(obs vision.GazeObservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open gaze log: %w", err)
	}
	w := csv.NewWriter(f)
	record := []string{
		string(obs.Direction),
		strconv.FormatFloat(obs.X, 'f', -1, 64),
		strconv.FormatFloat(obs.Y, 'f', -1, 64),
	}
	if err := w.Write(record); err != nil {
		_ = f.Close()
		return fmt.Errorf("write gaze row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush gaze row: %w", err)
	}
	return f.Close()
}

// ReadAll returns every observation after the header. Rows with unparsable
// coordinates are skipped. A missing file reads as empty.
func (l *Log) ReadAll() ([]vision.GazeObservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open gaze log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []vision.GazeObservation
	first := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read gaze log: %w", err)
		}
		if first {
			first = false
			if len(record) > 0 && record[0] == header[0] {
				continue
			}
		}
		if len(record) < 3 {
			continue
		}
		x, errX := strconv.ParseFloat(record[1], 64)
		y, errY := strconv.ParseFloat(record[2], 64)
		if errX != nil || errY != nil || !finite(x) || !finite(y) {
			continue
		}
		out = append(out, vision.GazeObservation{Direction: vision.Direction(record[0]), X: x, Y: y})
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
