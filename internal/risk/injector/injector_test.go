package injector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/risk/schema"
)

func TestInjector_CurrentIsNeverNil(t *testing.T) {
	cfg := config.Default()
	inj := New(cfg.Risk, metrics.NewRegistry(100), nil)
	assert.NotNil(t, inj.Current())
	assert.Equal(t, "", inj.CurrentMode())
}

func TestInjector_ApplyHotSwapsGuards(t *testing.T) {
	cfg := config.Default()
	inj := New(cfg.Risk, metrics.NewRegistry(100), nil)

	tightGuards := config.GuardsConfig{SpreadBpsMax: 1.0, LagSecCap: 0.1, ActivityMinTPM: 100.0}
	ok, _, err := inj.Apply("active", ModeParams{Guards: &tightGuards})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "active", inj.CurrentMode())

	raw := schema.RawOrderContext{
		Symbol: "BTCUSDT", Side: "buy", OrderType: "market", Qty: 0.1, TsMs: 1000.0,
		Guards: map[string]interface{}{"spread_bps": 2.0, "event_lag_sec": 0.2, "activity_tpm": 5.0},
	}
	d := inj.Current().PreOrderCheck(raw)
	assert.False(t, d.Passed)
	assert.Contains(t, d.ReasonCodes, "spread_too_wide")
}

func TestInjector_ApplyLeavesPreviousSnapshotUntouchedOnReadDuringSwap(t *testing.T) {
	cfg := config.Default()
	inj := New(cfg.Risk, metrics.NewRegistry(100), nil)
	before := inj.Current()

	tightGuards := config.GuardsConfig{SpreadBpsMax: 1.0, LagSecCap: 0.1, ActivityMinTPM: 100.0}
	_, _, err := inj.Apply("active", ModeParams{Guards: &tightGuards})
	require.NoError(t, err)

	after := inj.Current()
	assert.NotSame(t, before, after)
}

func TestInjector_ApplyRejectsEmptyParams(t *testing.T) {
	cfg := config.Default()
	inj := New(cfg.Risk, metrics.NewRegistry(100), nil)
	before := inj.Current()

	ok, _, err := inj.Apply("active", ModeParams{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", inj.CurrentMode())
	assert.Same(t, before, inj.Current())
}
