// Package jsonl implements the JSONL half of C11: hour-rotated,
// stable-serialized append-only signal files under
// ready/signal/<SYMBOL>/signals-YYYYMMDD-HH.jsonl, grounded on the
// original's core_algo.py JsonlSink.
package jsonl

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alphacore/corerisk/internal/stablejson"
)

// Sink is a per-symbol hour-rotating JSONL writer. Multiple Sinks (one per
// symbol) may run concurrently; each guards its own file with a mutex (spec
// §4.11: "per-writer mutex; multiple writers across symbols allowed").
type Sink struct {
	baseDir     string
	fsyncEveryN int

	mu           sync.Mutex
	symbol       string
	currentHour  string
	file         *os.File
	writer       *bufio.Writer
	writesSince  int
}

// NewSink constructs a Sink rooted at <baseDir>/ready/signal/<symbol>/.
func NewSink(baseDir, symbol string, fsyncEveryN int) *Sink {
	if fsyncEveryN <= 0 {
		fsyncEveryN = 50
	}
	return &Sink{baseDir: baseDir, symbol: symbol, fsyncEveryN: fsyncEveryN}
}

// Write appends one stable-serialized (sorted keys, no whitespace) JSON line
// for record, rotating the file on UTC hour boundaries and fsync-ing the
// just-closed hour's file on rotation, plus every fsyncEveryN writes.
func (s *Sink) Write(tsMs int64, record map[string]interface{}) error {
	line, err := stablejson.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal signal record: %w", err)
	}

	hour := time.UnixMilli(tsMs).UTC().Format("20060102-15")

	s.mu.Lock()
	defer s.mu.Unlock()

	if hour != s.currentHour {
		if err := s.rotateLocked(hour); err != nil {
			return err
		}
	}

	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write signal line: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush signal line: %w", err)
	}
	s.writesSince++
	if s.writesSince >= s.fsyncEveryN {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("fsync signal file: %w", err)
		}
		s.writesSince = 0
	}
	return nil
}

func (s *Sink) rotateLocked(hour string) error {
	if s.file != nil {
		if err := s.writer.Flush(); err != nil {
			return fmt.Errorf("flush previous hour file: %w", err)
		}
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("fsync previous hour file: %w", err)
		}
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("close previous hour file: %w", err)
		}
	}

	dir := filepath.Join(s.baseDir, "ready", "signal", s.symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create signal dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("signals-%s.jsonl", hour))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open signal file %s: %w", path, err)
	}

	s.file = f
	s.writer = bufio.NewWriter(f)
	s.currentHour = hour
	s.writesSince = 0
	return nil
}

// Close flushes and fsyncs the last active file, per spec §4.11's
// graceful-close requirement (the original's close() does not fsync; this
// implementation follows spec.md, which is authoritative where they differ).
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush on close: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("fsync on close: %w", err)
	}
	return s.file.Close()
}
