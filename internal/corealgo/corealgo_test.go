package corealgo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/decision"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/persistence"
	"github.com/alphacore/corerisk/internal/regime"
)

func newTestPipeline(t *testing.T) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.RunID = "test-run"
	cfg.Persistence.OutputDir = dir
	cfg.Persistence.Sink = "jsonl"

	metricsReg := metrics.NewRegistry(100)
	writer, err := persistence.NewWriter(cfg.Persistence, cfg.RunID, metricsReg)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	eng := decision.NewEngine(cfg.Decision)
	regimeCls := regime.New(cfg.Regime)

	return NewPipeline(cfg, DefaultTuning(), eng, regimeCls, writer, metricsReg, "abc123def456"), dir
}

func fp(v float64) *float64 { return &v }

func TestPipeline_Dedup(t *testing.T) {
	p, _ := newTestPipeline(t)
	row := FeatureRow{TsMs: 1000, Symbol: "btcusdt", ZOfi: fp(2.0), ZCvd: fp(2.0)}

	emitted, err := p.Process(row)
	require.NoError(t, err)
	assert.True(t, emitted)

	row.TsMs = 1100 // within default 250ms dedupe window
	emitted, err = p.Process(row)
	require.NoError(t, err)
	assert.False(t, emitted)
}

func TestPipeline_DedupWindowExpires(t *testing.T) {
	p, _ := newTestPipeline(t)
	row := FeatureRow{TsMs: 1000, Symbol: "BTCUSDT", ZOfi: fp(2.0), ZCvd: fp(2.0)}
	emitted, err := p.Process(row)
	require.NoError(t, err)
	assert.True(t, emitted)

	row.TsMs = 2000
	emitted, err = p.Process(row)
	require.NoError(t, err)
	assert.True(t, emitted)
}

func TestPipeline_WeakSignalSuppressesConfirm(t *testing.T) {
	p, dir := newTestPipeline(t)
	row := FeatureRow{TsMs: 1000, Symbol: "ETHUSDT", ZOfi: fp(0.05), ZCvd: fp(0.05)}
	emitted, err := p.Process(row)
	require.NoError(t, err)
	assert.True(t, emitted)

	symDir := filepath.Join(dir, "ready", "signal", "ETHUSDT")
	entries, err := os.ReadDir(symDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(symDir, entries[0].Name()))
	require.NoError(t, err)
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, false, rec["confirm"])
}

func TestPipeline_ExchangeSymbolUppercased(t *testing.T) {
	p, dir := newTestPipeline(t)
	row := FeatureRow{TsMs: 1000, Symbol: "solusdt", ZOfi: fp(2.0), ZCvd: fp(2.0)}
	_, err := p.Process(row)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "ready", "signal", "SOLUSDT"))
	assert.NoError(t, statErr)
}

func TestPipeline_RecordExitIsNoopWhenCooldownDisabled(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.RecordExit("BTCUSDT", 1000) // tuning.CooldownAfterExitSec defaults to 0
	assert.NotPanics(t, func() { p.RecordExit("BTCUSDT", 2000) })
}

func TestResolveScore_ClipsExtremeValues(t *testing.T) {
	p, _ := newTestPipeline(t)
	row := FeatureRow{ZOfi: fp(100), ZCvd: fp(100)}
	score := p.resolveScore(row)
	assert.LessOrEqual(t, score, 5.0)
	assert.GreaterOrEqual(t, score, -5.0)
}

func TestConsistency_OppositeSignsIsZero(t *testing.T) {
	p, _ := newTestPipeline(t)
	c := rawConsistency(fp(1.0), fp(-1.0))
	assert.Equal(t, 0.0, c)
	_ = p
}

func TestConsistency_SameSignRatio(t *testing.T) {
	c := rawConsistency(fp(2.0), fp(1.0))
	assert.InDelta(t, 0.5, c, 1e-9)
}

func TestConfirmV2_StrongTierTideratesSoftReasons(t *testing.T) {
	p, _ := newTestPipeline(t)
	confirm := p.confirmV2(1, "strong", false, 2.0, 0.05, p.tuning.ConsistencyMin)
	assert.True(t, confirm)
}

func TestConfirmV2_NormalTierRequiresClean(t *testing.T) {
	p, _ := newTestPipeline(t)
	confirm := p.confirmV2(1, "normal", false, 0.5, 0.05, p.tuning.ConsistencyMin)
	assert.False(t, confirm)
}

func TestConfirmV2_WeakTierNeverConfirms(t *testing.T) {
	p, _ := newTestPipeline(t)
	confirm := p.confirmV2(1, "weak", false, 0.1, 0.9, p.tuning.ConsistencyMin)
	assert.False(t, confirm)
}

func TestConfirmV2_HardGateBlocksEvenStrongTier(t *testing.T) {
	p, _ := newTestPipeline(t)
	confirm := p.confirmV2(1, "strong", true, 2.0, 0.9, p.tuning.ConsistencyMin)
	assert.False(t, confirm)
}

func TestDirectionStreak_RequiresConsecutiveSameDirection(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.tuning.MinConsecutiveSameDir = 2

	s1 := p.updateStreak("BTCUSDT", 1)
	assert.Equal(t, 1, s1)
	s2 := p.updateStreak("BTCUSDT", 1)
	assert.Equal(t, 2, s2)
	s3 := p.updateStreak("BTCUSDT", -1)
	assert.Equal(t, 1, s3)
}

func TestThresholdsForMode_ActiveOverridesBase(t *testing.T) {
	p, _ := newTestPipeline(t)
	th := p.thresholdsForMode(regime.ModeActive)
	assert.Equal(t, p.regimeThresholds.Active.Buy, th.Buy)
}

func TestThresholdsForMode_NormalFallsBackToBase(t *testing.T) {
	p, _ := newTestPipeline(t)
	th := p.thresholdsForMode(regime.ModeNormal)
	assert.Equal(t, p.regimeThresholds.Base, th)
}

func TestConsistencyMinForMode_PerRegimeOverridesFlatDefault(t *testing.T) {
	p, _ := newTestPipeline(t)
	assert.Equal(t, 0.10, p.consistencyMinForMode(regime.ModeActive))
	assert.Equal(t, 0.15, p.consistencyMinForMode(regime.ModeQuiet))
	assert.Equal(t, p.tuning.ConsistencyMin, p.consistencyMinForMode(regime.ModeNormal))
}

func TestSoftGuardReasons_StrongTierRecordsSoftFlagsWithoutBlocking(t *testing.T) {
	p, _ := newTestPipeline(t)
	reasons := p.softGuardReasons(1, "strong", false, []string{"weak_signal"})
	assert.Equal(t, []string{"weak_signal"}, reasons)
}

func TestSoftGuardReasons_HardGateRecordsAllReasonsForDiagnostics(t *testing.T) {
	p, _ := newTestPipeline(t)
	reasons := p.softGuardReasons(1, "normal", true, []string{"warmup", "low_consistency"})
	assert.Equal(t, []string{"warmup", "low_consistency"}, reasons)
}

func TestSoftGuardReasons_WeakTierIsAlwaysEmpty(t *testing.T) {
	p, _ := newTestPipeline(t)
	reasons := p.softGuardReasons(1, "weak", false, []string{"weak_signal"})
	assert.Empty(t, reasons)
}
