// Package persistence composes the C11 signal sinks (JSONL, SQLite, and the
// supplemented adapter-event log) behind one Writer, selected by
// config.PersistenceConfig.Sink ("jsonl" | "sqlite" | "dual" | "adapter"),
// grounded on the original's SignalWriter dual-sink dispatch in
// core_algo.py. DegradeSQLite switches the writer to JSONL-only; neither the
// writer nor the SQLite sink calls it on its own, and failed SQLite batches
// are handled inside the sink (retry, then failed_batches.jsonl).
package persistence

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/alphacore/corerisk/internal/config"
	corelog "github.com/alphacore/corerisk/internal/log"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/persistence/adapterevent"
	"github.com/alphacore/corerisk/internal/persistence/jsonl"
	"github.com/alphacore/corerisk/internal/persistence/sqlite"
)

// Record is the sink-agnostic view of one signal passed to Writer.Write.
type Record struct {
	TsMs   int64
	Symbol string
	JSON   map[string]interface{} // full SignalV2 record for JSONL
	Row    sqlite.Row             // structured row for SQLite
}

// Writer fans a Record out to the configured sinks.
type Writer struct {
	mode string

	log zerolog.Logger

	jsonlMu sync.Mutex
	jsonl   map[string]*jsonl.Sink
	baseDir string
	fsyncN  int

	sqliteSink *sqlite.Sink
	adapter    *adapterevent.Sink
	runID      string

	sqliteDegraded atomic.Bool
}

// NewWriter builds a Writer from the effective persistence configuration.
// SQLite/adapter sinks are constructed here, and only when the configured
// mode requires them; JSONL sinks are created per symbol on first write.
func NewWriter(cfg config.PersistenceConfig, runID string, metricsReg *metrics.Registry) (*Writer, error) {
	w := &Writer{
		mode:    cfg.Sink,
		log:     corelog.Component("signal_writer"),
		jsonl:   make(map[string]*jsonl.Sink),
		baseDir: cfg.OutputDir,
		fsyncN:  cfg.JSONL.FsyncEveryN,
		runID:   runID,
	}

	switch cfg.Sink {
	case "sqlite", "dual", "adapter":
		sink, err := sqlite.NewSink(cfg.OutputDir, cfg.SQLite.BatchN, cfg.SQLite.FlushMs, metricsReg)
		if err != nil {
			return nil, fmt.Errorf("init sqlite sink: %w", err)
		}
		w.sqliteSink = sink
	}

	if cfg.Sink == "adapter" {
		ae, err := adapterevent.NewSink(cfg.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("init adapter event sink: %w", err)
		}
		w.adapter = ae
	}

	return w, nil
}

func (w *Writer) jsonlSinkFor(symbol string) *jsonl.Sink {
	w.jsonlMu.Lock()
	defer w.jsonlMu.Unlock()
	s, ok := w.jsonl[symbol]
	if !ok {
		s = jsonl.NewSink(w.baseDir, symbol, w.fsyncN)
		w.jsonl[symbol] = s
	}
	return s
}

// Write dispatches a record to every sink implied by the configured mode
// (spec §4.11: jsonl/sqlite/dual are three distinct modes, not jsonl-always).
// JSONL is written for "jsonl" and "dual" (and "adapter", which carries both
// per NewWriter's sink construction); SQLite is written for "sqlite" and
// "dual" unless DegradeSQLite has been called, in which case writes fall
// back to JSONL-only regardless of mode (spec §7).
func (w *Writer) Write(r Record) error {
	var jsonlErr error
	writeJSONL := w.mode == "jsonl" || w.mode == "dual" || w.mode == "adapter" || w.sqliteDegraded.Load()
	if writeJSONL {
		jsonlErr = w.jsonlSinkFor(r.Symbol).Write(r.TsMs, r.JSON)
		if jsonlErr != nil {
			w.log.Error().Err(jsonlErr).Str("symbol", r.Symbol).Msg("jsonl write failed")
		}
	}

	writeSQLite := w.mode == "sqlite" || w.mode == "dual" || w.mode == "adapter"
	if !writeSQLite || w.sqliteSink == nil || w.sqliteDegraded.Load() {
		w.recordAdapterEvent(r, "sqlite", jsonlErr == nil, "skipped: degraded or disabled")
		return jsonlErr
	}

	w.sqliteSink.Enqueue(r.Row)
	w.recordAdapterEvent(r, "sqlite", true, "")

	return jsonlErr
}

// DegradeSQLite marks the SQLite sink unusable, switching future writes to
// JSONL-only for the remainder of the process lifetime (spec §7).
func (w *Writer) DegradeSQLite(reason string) {
	if w.sqliteDegraded.CompareAndSwap(false, true) {
		w.log.Error().Str("reason", reason).Msg("degrading to jsonl-only persistence")
	}
}

func (w *Writer) recordAdapterEvent(r Record, sink string, success bool, errMsg string) {
	if w.adapter == nil {
		return
	}
	if err := w.adapter.Record(adapterevent.Event{
		RunID:    w.runID,
		TsMs:     r.TsMs,
		Symbol:   r.Symbol,
		Sink:     sink,
		Attempt:  1,
		Attempts: 1,
		Success:  success,
		Error:    errMsg,
	}); err != nil {
		w.log.Error().Err(err).Msg("adapter event record failed")
	}
}

// Close closes every open sink, collecting (not short-circuiting on) errors.
func (w *Writer) Close() error {
	var firstErr error
	w.jsonlMu.Lock()
	for _, s := range w.jsonl {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.jsonlMu.Unlock()

	if w.sqliteSink != nil {
		if err := w.sqliteSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.adapter != nil {
		if err := w.adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
