package stops

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alphacore/corerisk/internal/config"
)

func TestCalculatePriceCap_BuyAddsSlippage(t *testing.T) {
	m := NewManager(config.StopsConfig{})
	cap := m.CalculatePriceCap("buy", 50000.0, 10.0, 0)
	assert.InDelta(t, 50050.0, cap, 1e-6)
}

func TestCalculatePriceCap_SellSubtractsSlippage(t *testing.T) {
	m := NewManager(config.StopsConfig{})
	cap := m.CalculatePriceCap("sell", 50000.0, 10.0, 0)
	assert.InDelta(t, 49950.0, cap, 1e-6)
}

func TestCalculatePriceCap_RoundsToTickSize(t *testing.T) {
	m := NewManager(config.StopsConfig{})
	cap := m.CalculatePriceCap("buy", 50000.0, 3.0, 0.5)
	assert.InDelta(t, 50015.0, cap, 1e-6)
}
