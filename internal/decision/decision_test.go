package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphacore/corerisk/internal/config"
)

func testCfg() config.DecisionConfig {
	return config.DecisionConfig{
		ExpiryMs:   60000,
		CooldownMs: 30000,
		AllowQuiet: false,
		Gating: config.GatingConfig{
			OfiZ:                1.5,
			CvdZ:                1.2,
			EnableDivergenceAlt: true,
		},
		Regime: config.RegimeThresholds{ZTrend: 1.2, ZRevert: 1.0},
		Threshold: config.EntryThresholds{Trend: 1.8, Revert: 2.2, Quiet: 2.8},
	}
}

func f(v float64) *float64 { return &v }

func TestDecide_HappyPathOK(t *testing.T) {
	eng := NewEngine(testCfg())
	r := eng.Decide(1000, "BTCUSDT", 2.0, f(2.0), f(2.0), "", 1000)
	require.Equal(t, CodeOK, r.DecisionCode)
	assert.True(t, r.Confirm)
	assert.Equal(t, RegimeTrend, r.Regime)
	assert.Equal(t, SideBuy, r.SideHint)
}

func TestDecide_FailGating(t *testing.T) {
	eng := NewEngine(testCfg())
	r := eng.Decide(1000, "BTCUSDT", 2.0, f(0.5), f(0.5), "", 1000)
	assert.Equal(t, CodeFailGating, r.DecisionCode)
	assert.False(t, r.Confirm)
}

func TestDecide_CooldownAfterConfirm(t *testing.T) {
	eng := NewEngine(testCfg())
	first := eng.Decide(1000, "BTCUSDT", 2.0, f(2.0), f(2.0), "", 1000)
	require.Equal(t, CodeOK, first.DecisionCode)

	second := eng.Decide(1100, "BTCUSDT", 2.0, f(2.0), f(2.0), "", 1100)
	assert.Equal(t, CodeCooldown, second.DecisionCode)
	assert.Greater(t, second.CooldownMs, int64(0))
}

func TestDecide_ExpireViaReplayNow(t *testing.T) {
	eng := NewEngine(testCfg())
	r := eng.Decide(1000, "BTCUSDT", 2.0, f(2.0), f(2.0), "", 1000+70000)
	assert.Equal(t, CodeExpire, r.DecisionCode)
}

func TestDecide_ReplayModeSuppressesExpiry(t *testing.T) {
	eng := NewEngine(testCfg())
	r := eng.Decide(1000, "BTCUSDT", 2.0, f(2.0), f(2.0), "", 1000)
	assert.NotEqual(t, CodeExpire, r.DecisionCode)
}

func TestDecide_LowScore(t *testing.T) {
	eng := NewEngine(testCfg())
	r := eng.Decide(1000, "BTCUSDT", 1.0, f(2.0), f(2.0), "", 1000)
	assert.Equal(t, CodeLowScore, r.DecisionCode)
}

func TestDecide_DivergenceAltGatingPath(t *testing.T) {
	eng := NewEngine(testCfg())
	r := eng.Decide(1000, "BTCUSDT", 3.0, f(0.1), f(0.1), "bull", 1000)
	assert.NotEqual(t, CodeFailGating, r.DecisionCode)
}

func TestDecide_QuietRegimeBlockedByDefault(t *testing.T) {
	eng := NewEngine(testCfg())
	r := eng.Decide(1000, "BTCUSDT", 3.0, f(0.3), f(0.1), "bull", 1000)
	assert.Equal(t, CodeBadRegime, r.DecisionCode)
	assert.Equal(t, RegimeQuiet, r.Regime)
}

func TestDecide_UnknownRegimeWhenZScoresMissing(t *testing.T) {
	eng := NewEngine(testCfg())
	r := eng.Decide(1000, "BTCUSDT", 3.0, nil, nil, "bull", 1000)
	assert.Equal(t, RegimeUnknown, r.Regime)
}

func TestDecide_CooldownIsPerSide(t *testing.T) {
	eng := NewEngine(testCfg())
	buy := eng.Decide(1000, "BTCUSDT", 2.0, f(2.0), f(2.0), "", 1000)
	require.Equal(t, CodeOK, buy.DecisionCode)

	sell := eng.Decide(1100, "BTCUSDT", -2.0, f(-2.0), f(-2.0), "", 1100)
	assert.Equal(t, CodeOK, sell.DecisionCode)
}
