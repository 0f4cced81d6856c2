package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/alphacore/corerisk/internal/metrics"
)

func TestNewSink_CreatesSchemaAndHealth(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, 500, 500, metrics.NewRegistry(100))
	require.NoError(t, err)
	defer s.Close()

	h := s.Health()
	assert.Equal(t, "sqlite", h.Kind)
	assert.Equal(t, filepath.Join(dir, "signals_v2.db"), h.Path)
}

func TestEnqueue_FlushesAtBatchThresholdAndPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, 1, 60000, metrics.NewRegistry(100))
	require.NoError(t, err)

	z := 1.5
	s.Enqueue(Row{
		TsMs: 1000, Symbol: "BTCUSDT", SignalID: "run1-BTCUSDT-1000-0",
		SchemaVersion: "signal/v2", Score: 2.0, SideHint: "buy",
		ZOfi: &z, ZCvd: &z, Regime: "trend", Gating: 0, Confirm: true,
		CooldownMs: 30000, ExpiryMs: 60000, DecisionCode: "OK",
		ConfigHash: "abc123def456", RunID: "run1", MetaJSON: "{}",
	})

	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", filepath.Join(dir, "signals_v2.db"))
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM signals WHERE signal_id = ?`, "run1-BTCUSDT-1000-0").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEnqueue_DuplicatePrimaryKeyIsIgnoredNotErrored(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, 2, 60000, metrics.NewRegistry(100))
	require.NoError(t, err)

	row := Row{
		TsMs: 1000, Symbol: "BTCUSDT", SignalID: "run1-BTCUSDT-1000-0",
		SchemaVersion: "signal/v2", Score: 2.0, SideHint: "buy",
		Regime: "trend", Gating: 0, Confirm: true,
		CooldownMs: 30000, ExpiryMs: 60000, DecisionCode: "OK",
		ConfigHash: "abc123def456", RunID: "run1", MetaJSON: "{}",
	}
	s.Enqueue(row)
	s.Enqueue(row) // duplicate (symbol, ts_ms, signal_id) -> INSERT OR IGNORE

	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", filepath.Join(dir, "signals_v2.db"))
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestFlushLoop_FlushesOnTickerWithoutReachingBatchN(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(dir, 500, 50, metrics.NewRegistry(100))
	require.NoError(t, err)
	defer s.Close()

	s.Enqueue(Row{
		TsMs: 1000, Symbol: "ETHUSDT", SignalID: "run1-ETHUSDT-1000-0",
		SchemaVersion: "signal/v2", Score: 1.0, SideHint: "buy",
		Regime: "trend", Gating: 0, Confirm: true,
		CooldownMs: 0, ExpiryMs: 60000, DecisionCode: "OK",
		ConfigHash: "abc123def456", RunID: "run1", MetaJSON: "{}",
	})

	time.Sleep(200 * time.Millisecond)

	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	assert.Equal(t, 0, pending)
}
