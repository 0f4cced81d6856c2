// Package stops implements C5: slippage-cap price computation with optional
// tick alignment, grounded on the original's stops.py.
package stops

import (
	"math"

	"github.com/alphacore/corerisk/internal/config"
)

// Manager computes per-order slippage price caps.
type Manager struct {
	cfg config.StopsConfig
}

// NewManager builds a Manager from the effective stops configuration.
func NewManager(cfg config.StopsConfig) *Manager {
	return &Manager{cfg: cfg}
}

// CalculatePriceCap returns the slippage-bounded limit price for side, given
// the entry price and max_slippage_bps, rounded to the nearest tick multiple
// when tickSize>0 (never floored, to avoid over-tight limits per spec §4.5).
func (m *Manager) CalculatePriceCap(side string, entryPrice, maxSlippageBps, tickSize float64) float64 {
	var cap float64
	if side == "buy" {
		cap = entryPrice * (1 + maxSlippageBps/10000)
	} else {
		cap = entryPrice * (1 - maxSlippageBps/10000)
	}
	if tickSize > 0 {
		cap = math.Round(cap/tickSize) * tickSize
	}
	return cap
}
