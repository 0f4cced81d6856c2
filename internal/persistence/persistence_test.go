package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/persistence/sqlite"
)

func TestNewWriter_JSONLModeOnlyBuildsJSONLSink(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceConfig{Sink: "jsonl", OutputDir: dir, JSONL: config.JSONLConfig{FsyncEveryN: 1}}
	w, err := NewWriter(cfg, "run1", metrics.NewRegistry(100))
	require.NoError(t, err)
	defer w.Close()

	assert.Nil(t, w.sqliteSink)
	assert.Nil(t, w.adapter)
}

func TestWrite_JSONLModeWritesFileAndSkipsSqlite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceConfig{Sink: "jsonl", OutputDir: dir, JSONL: config.JSONLConfig{FsyncEveryN: 1}}
	w, err := NewWriter(cfg, "run1", metrics.NewRegistry(100))
	require.NoError(t, err)

	err = w.Write(Record{
		TsMs: 1000, Symbol: "BTCUSDT",
		JSON: map[string]interface{}{"score": 2.0},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(filepath.Join(dir, "ready", "signal", "BTCUSDT"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNewWriter_DualModeBuildsBothSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceConfig{
		Sink: "dual", OutputDir: dir,
		JSONL:  config.JSONLConfig{FsyncEveryN: 1},
		SQLite: config.SQLiteConfig{BatchN: 1, FlushMs: 500},
	}
	w, err := NewWriter(cfg, "run1", metrics.NewRegistry(100))
	require.NoError(t, err)
	defer w.Close()

	assert.NotNil(t, w.sqliteSink)
}

func TestWrite_DegradedSqliteSkipsSqliteButStillWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceConfig{
		Sink: "dual", OutputDir: dir,
		JSONL:  config.JSONLConfig{FsyncEveryN: 1},
		SQLite: config.SQLiteConfig{BatchN: 1, FlushMs: 500},
	}
	w, err := NewWriter(cfg, "run1", metrics.NewRegistry(100))
	require.NoError(t, err)

	w.DegradeSQLite("simulated failure")

	err = w.Write(Record{
		TsMs: 1000, Symbol: "BTCUSDT",
		JSON: map[string]interface{}{"score": 2.0},
		Row:  sqlite.Row{TsMs: 1000, Symbol: "BTCUSDT", SignalID: "x"},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(filepath.Join(dir, "ready", "signal", "BTCUSDT"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWrite_SqliteOnlyModeSkipsJSONLFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceConfig{
		Sink: "sqlite", OutputDir: dir,
		JSONL:  config.JSONLConfig{FsyncEveryN: 1},
		SQLite: config.SQLiteConfig{BatchN: 1, FlushMs: 500},
	}
	w, err := NewWriter(cfg, "run1", metrics.NewRegistry(100))
	require.NoError(t, err)

	err = w.Write(Record{
		TsMs: 1000, Symbol: "BTCUSDT",
		JSON: map[string]interface{}{"score": 2.0},
		Row:  sqlite.Row{TsMs: 1000, Symbol: "BTCUSDT", SignalID: "x"},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, statErr := os.Stat(filepath.Join(dir, "ready", "signal", "BTCUSDT"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWrite_SqliteOnlyModeFallsBackToJSONLWhenDegraded(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceConfig{
		Sink: "sqlite", OutputDir: dir,
		JSONL:  config.JSONLConfig{FsyncEveryN: 1},
		SQLite: config.SQLiteConfig{BatchN: 1, FlushMs: 500},
	}
	w, err := NewWriter(cfg, "run1", metrics.NewRegistry(100))
	require.NoError(t, err)

	w.DegradeSQLite("simulated failure")

	err = w.Write(Record{
		TsMs: 1000, Symbol: "BTCUSDT",
		JSON: map[string]interface{}{"score": 2.0},
		Row:  sqlite.Row{TsMs: 1000, Symbol: "BTCUSDT", SignalID: "x"},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(filepath.Join(dir, "ready", "signal", "BTCUSDT"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDegradeSQLite_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceConfig{Sink: "jsonl", OutputDir: dir, JSONL: config.JSONLConfig{FsyncEveryN: 1}}
	w, err := NewWriter(cfg, "run1", metrics.NewRegistry(100))
	require.NoError(t, err)
	defer w.Close()

	assert.NotPanics(t, func() {
		w.DegradeSQLite("first")
		w.DegradeSQLite("second")
	})
	assert.True(t, w.sqliteDegraded.Load())
}
