package guards

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alphacore/corerisk/internal/config"
)

func testCfg() config.GuardsConfig {
	return config.GuardsConfig{SpreadBpsMax: 8.0, LagSecCap: 1.5, ActivityMinTPM: 5.0}
}

func TestCheck_AllPass(t *testing.T) {
	c := NewChecker(testCfg())
	reasons := c.Check(5.0, 0.5, 10.0)
	assert.Empty(t, reasons)
}

func TestCheck_BoundaryValuesPass(t *testing.T) {
	c := NewChecker(testCfg())
	reasons := c.Check(8.0, 1.5, 5.0)
	assert.Empty(t, reasons)
}

func TestCheck_AllViolationsAccumulate(t *testing.T) {
	c := NewChecker(testCfg())
	reasons := c.Check(9.0, 2.0, 1.0)
	assert.ElementsMatch(t, []string{"spread_too_wide", "lag_exceeds_cap", "market_inactive"}, reasons)
}

func TestCheck_SingleViolation(t *testing.T) {
	c := NewChecker(testCfg())
	reasons := c.Check(9.0, 0.5, 10.0)
	assert.Equal(t, []string{"spread_too_wide"}, reasons)
}
