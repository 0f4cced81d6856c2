package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "v1", cfg.RulesVer)
	assert.Equal(t, int64(60000), cfg.Decision.ExpiryMs)
}

func TestLoad_YamlOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules_ver: v2\ndecision:\n  expiry_ms: 90000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", cfg.RulesVer)
	assert.Equal(t, int64(90000), cfg.Decision.ExpiryMs)
	// unspecified fields keep the documented default
	assert.Equal(t, int64(30000), cfg.Decision.CooldownMs)
}

func TestLoad_EnvOverridesTakePrecedenceOverYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("decision:\n  expiry_ms: 90000\n"), 0o644))

	t.Setenv("CORE_EXPIRY_MS", "45000")
	t.Setenv("RUN_ID", "env-run")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(45000), cfg.Decision.ExpiryMs)
	assert.Equal(t, "env-run", cfg.RunID)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestDefault_MatchesDocumentedThresholds(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8.0, cfg.Risk.Guards.SpreadBpsMax)
	assert.Equal(t, 20000.0, cfg.Risk.Position.MaxNotionalUSD)
	assert.Equal(t, "dual", cfg.Persistence.Sink)
	assert.Equal(t, 100, cfg.HTTP.RateLimitPerMinute)
}

func TestDefault_CoreAlgoPerRegimeThresholdsMatchOriginal(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.6, cfg.CoreAlgo.Base.Buy)
	assert.Equal(t, 0.5, cfg.CoreAlgo.Active.Buy)
	assert.Equal(t, 0.7, cfg.CoreAlgo.Quiet.Buy)
	assert.Equal(t, 0.10, cfg.CoreAlgo.ConsistencyMinPerRegime["active"])
	assert.Equal(t, 0.15, cfg.CoreAlgo.ConsistencyMinPerRegime["quiet"])
}
