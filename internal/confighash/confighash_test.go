package confighash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphacore/corerisk/internal/config"
)

func TestCalculate_IsDeterministic(t *testing.T) {
	cfg := config.Default()
	h1, err := Calculate(cfg)
	require.NoError(t, err)
	h2, err := Calculate(cfg)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 12)
}

func TestCalculate_ChangesWithRulesVer(t *testing.T) {
	cfg := config.Default()
	h1, err := Calculate(cfg)
	require.NoError(t, err)

	cfg.RulesVer = cfg.RulesVer + "-bumped"
	h2, err := Calculate(cfg)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestCalculate_UnaffectedByNonHashedFields(t *testing.T) {
	cfg := config.Default()
	h1, err := Calculate(cfg)
	require.NoError(t, err)

	cfg.RunID = "some-other-run-id"
	h2, err := Calculate(cfg)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestSignalIDGenerator_MonotonicPerSymbol(t *testing.T) {
	g := NewSignalIDGenerator("run1")
	id1 := g.Next("BTCUSDT", 1000)
	id2 := g.Next("BTCUSDT", 1001)
	id3 := g.Next("ETHUSDT", 1000)

	assert.Equal(t, "run1-BTCUSDT-1000-0", id1)
	assert.Equal(t, "run1-BTCUSDT-1001-1", id2)
	assert.Equal(t, "run1-ETHUSDT-1000-0", id3)
}
