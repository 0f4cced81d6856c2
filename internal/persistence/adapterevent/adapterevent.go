// Package adapterevent implements the supplemented "adapter-event" sink
// (SPEC_FULL §3.1): a batch-keyed append log recording each persistence
// attempt's outcome — the original's adapters did not surface retry/attempt
// counts to a durable sink, but its AdapterAckTracker internally tracked
// this per-batch state, which this sink externalizes for operability.
package adapterevent

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alphacore/corerisk/internal/stablejson"
)

// Event is one persistence-attempt outcome, keyed by (run_id, ts_ms, symbol)
// per SPEC_FULL §3.1.
type Event struct {
	RunID    string `json:"run_id"`
	TsMs     int64  `json:"ts_ms"`
	Symbol   string `json:"symbol"`
	Sink     string `json:"sink"`
	Attempt  int    `json:"attempt"`
	Attempts int    `json:"attempts"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Sink is an append-only JSONL log of adapter-event records, fsynced every
// write since event volume is orders of magnitude lower than signal volume.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// NewSink opens (creating if absent) <outputDir>/adapter_events.jsonl.
func NewSink(outputDir string) (*Sink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, "adapter_events.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open adapter event log %s: %w", path, err)
	}
	return &Sink{file: f, w: bufio.NewWriter(f)}, nil
}

// Record appends one adapter-event line and fsyncs immediately.
func (s *Sink) Record(e Event) error {
	line, err := stablejson.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal adapter event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write adapter event: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush adapter event: %w", err)
	}
	return s.file.Sync()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
