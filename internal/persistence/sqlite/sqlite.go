// Package sqlite implements the SQLite half of C11: a WAL-mode, batched,
// retry-then-compensate signal sink, grounded on the original's core_algo.py
// SqliteSink but adapted to spec.md's authoritative schema — db file
// signals_v2.db, PRIMARY KEY(symbol, ts_ms, signal_id) WITHOUT ROWID —
// which differs from the original's signals.db / (run_id, ts_ms, symbol).
// A sony/gobreaker circuit breaker wraps the flush path: after three
// consecutive failed flushes it stops attempting writes for 30s and each
// batch goes straight to failed_batches.jsonl. The sink does not switch the
// persistence Writer to JSONL-only.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	_ "modernc.org/sqlite"

	corelog "github.com/alphacore/corerisk/internal/log"
	"github.com/alphacore/corerisk/internal/metrics"
)

// Row is one signals_v2 row (spec §4.11 / §6.3).
type Row struct {
	TsMs           int64
	Symbol         string
	SignalID       string
	SchemaVersion  string
	Score          float64
	SideHint       string
	ZOfi           *float64
	ZCvd           *float64
	DivType        string
	Regime         string
	Gating         int
	Confirm        bool
	CooldownMs     int64
	ExpiryMs       int64
	DecisionCode   string
	DecisionReason string
	ConfigHash     string
	RunID          string
	MetaJSON       string
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS signals (
	ts_ms INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	score REAL NOT NULL,
	side_hint TEXT NOT NULL,
	z_ofi REAL,
	z_cvd REAL,
	div_type TEXT,
	regime TEXT NOT NULL,
	gating INTEGER NOT NULL,
	confirm INTEGER NOT NULL,
	cooldown_ms INTEGER NOT NULL,
	expiry_ms INTEGER NOT NULL,
	decision_code TEXT NOT NULL,
	decision_reason TEXT,
	config_hash TEXT NOT NULL,
	run_id TEXT NOT NULL,
	meta_json TEXT,
	PRIMARY KEY(symbol, ts_ms, signal_id)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, ts_ms);
`

// Sink is the batched, WAL-mode SQLite signal writer.
type Sink struct {
	db           *sql.DB
	batchN       int
	flushMs      int
	dbPath       string
	failedPath   string
	metrics      *metrics.Registry
	log          zerolog.Logger
	breaker      *gobreaker.CircuitBreaker

	mu      sync.Mutex
	pending []Row
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSink opens (creating if absent) <outputDir>/signals_v2.db in WAL mode,
// migrates any legacy schema, and starts the deadline-based flush loop.
func NewSink(outputDir string, batchN, flushMs int, metricsReg *metrics.Registry) (*Sink, error) {
	if batchN <= 0 {
		batchN = 500
	}
	if flushMs <= 0 {
		flushMs = 500
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	dbPath := filepath.Join(outputDir, "signals_v2.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=temp_store(MEMORY)&_pragma=cache_size(-20000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // one persistent connection, spec §4.11

	if err := migrateLegacySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate legacy schema: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Sink{
		db:         db,
		batchN:     batchN,
		flushMs:    flushMs,
		dbPath:     dbPath,
		failedPath: filepath.Join(outputDir, "failed_batches.jsonl"),
		metrics:    metricsReg,
		log:        corelog.Component("sqlite_sink"),
		done:       make(chan struct{}),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sqlite_flush",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	s.wg.Add(1)
	go s.flushLoop()

	return s, nil
}

// migrateLegacySchema inspects an existing "signals" table and, if it lacks
// run_id or carries the old (ts_ms,symbol) / AUTOINCREMENT primary key,
// rebuilds it under the v2 schema inside one transaction opened with
// database/sql's default (deferred) BEGIN, not BEGIN IMMEDIATE, rolling back
// on any error. Adapted from the original's migration pattern
// (core_algo.py SqliteSink._migrate_schema_if_needed) to spec's
// (symbol,ts_ms,signal_id) WITHOUT ROWID primary key.
func migrateLegacySchema(db *sql.DB) error {
	var tableSQL string
	row := db.QueryRow(`SELECT sql FROM sqlite_master WHERE type='table' AND name='signals'`)
	if err := row.Scan(&tableSQL); err != nil {
		if err == sql.ErrNoRows {
			return nil // fresh database, nothing to migrate
		}
		return fmt.Errorf("inspect signals table: %w", err)
	}

	needsMigration := !contains(tableSQL, "run_id") ||
		!contains(tableSQL, "signal_id") ||
		contains(tableSQL, "AUTOINCREMENT")
	if !needsMigration {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaDDL); err != nil {
		return fmt.Errorf("create signals_new: %w", err)
	}
	// The CREATE above targets "signals" directly if it doesn't exist; for a
	// genuine rename-migration we create a staging table explicitly.
	if _, err := tx.Exec(`ALTER TABLE signals RENAME TO signals_old`); err != nil {
		return fmt.Errorf("rename legacy table: %w", err)
	}
	if _, err := tx.Exec(schemaDDL); err != nil {
		return fmt.Errorf("create new signals table: %w", err)
	}
	_, err = tx.Exec(`
		INSERT OR IGNORE INTO signals
		(ts_ms, symbol, signal_id, schema_version, score, side_hint, z_ofi, z_cvd,
		 div_type, regime, gating, confirm, cooldown_ms, expiry_ms, decision_code,
		 decision_reason, config_hash, run_id, meta_json)
		SELECT ts_ms, symbol,
		       COALESCE(signal_id, run_id || '-' || symbol || '-' || ts_ms || '-0'),
		       COALESCE(schema_version, 'signal/v2'), score, side_hint, z_ofi, z_cvd,
		       div_type, regime, gating, confirm, cooldown_ms, expiry_ms, decision_code,
		       decision_reason, config_hash, COALESCE(run_id, ''), meta_json
		FROM signals_old
	`)
	if err != nil {
		return fmt.Errorf("copy legacy rows: %w", err)
	}
	if _, err := tx.Exec(`DROP TABLE signals_old`); err != nil {
		return fmt.Errorf("drop legacy table: %w", err)
	}
	return tx.Commit()
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Enqueue queues a row for batched writing. When the queue reaches batchN
// rows it flushes synchronously on the caller's goroutine, including any
// retry backoff; otherwise the background loop flushes on its deadline.
func (s *Sink) Enqueue(r Row) {
	s.mu.Lock()
	s.pending = append(s.pending, r)
	shouldFlush := len(s.pending) >= s.batchN
	s.mu.Unlock()
	if shouldFlush {
		s.flush()
	}
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.flushMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

// flush drains the pending batch with up to 3 retries (100ms * attempt
// backoff); on exhaustion the batch is dumped to failed_batches.jsonl and the
// dropped-row metric increments (spec §4.11, §7).
func (s *Sink) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.writeBatchWithRetry(batch)
	})
	if err != nil {
		s.log.Error().Err(err).Int("rows", len(batch)).Msg("sqlite batch write failed, compensating")
		s.compensate(batch)
	}
}

func (s *Sink) writeBatchWithRetry(batch []Row) error {
	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(100*attempt) * time.Millisecond)
		}
		if err := s.writeBatch(batch); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (s *Sink) writeBatch(batch []Row) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO signals
		(ts_ms, symbol, signal_id, schema_version, score, side_hint, z_ofi, z_cvd,
		 div_type, regime, gating, confirm, cooldown_ms, expiry_ms, decision_code,
		 decision_reason, config_hash, run_id, meta_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		confirmInt := 0
		if r.Confirm {
			confirmInt = 1
		}
		if _, err := stmt.Exec(r.TsMs, r.Symbol, r.SignalID, r.SchemaVersion, r.Score, r.SideHint,
			r.ZOfi, r.ZCvd, r.DivType, r.Regime, r.Gating, confirmInt, r.CooldownMs, r.ExpiryMs,
			r.DecisionCode, r.DecisionReason, r.ConfigHash, r.RunID, r.MetaJSON); err != nil {
			return fmt.Errorf("insert row %s/%d: %w", r.Symbol, r.TsMs, err)
		}
	}
	return tx.Commit()
}

// compensate dumps each row as one JSON line to failed_batches.jsonl and
// increments the dropped-row metric; it never propagates to the caller.
func (s *Sink) compensate(batch []Row) {
	f, err := os.OpenFile(s.failedPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Error().Err(err).Msg("cannot open failed_batches.jsonl")
		return
	}
	defer f.Close()
	for _, r := range batch {
		line, err := json.Marshal(r)
		if err != nil {
			continue
		}
		f.Write(append(line, '\n'))
		if s.metrics != nil {
			s.metrics.IncDropped()
		}
	}
}

// Close flushes pending rows, checkpoints the WAL, and closes the
// connection (spec §4.11: "flush pending -> PRAGMA wal_checkpoint(PASSIVE)
// -> close").
func (s *Sink) Close() error {
	close(s.done)
	s.wg.Wait()
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
		s.log.Error().Err(err).Msg("wal checkpoint failed")
	}
	return s.db.Close()
}

// Health mirrors the original's get_health() for operational visibility.
type Health struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Health returns the sink's operational health snapshot.
func (s *Sink) Health() Health {
	return Health{Kind: "sqlite", Path: s.dbPath}
}
