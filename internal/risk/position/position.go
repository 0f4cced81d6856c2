// Package position implements C4: exchange-filter alignment, max-notional
// and per-symbol qty caps, with advisory (never silently mutating)
// reconciliation, grounded on the original's position.py.
package position

import (
	"math"

	"github.com/alphacore/corerisk/internal/config"
)

const floatTolerance = 1e-10

// Adjustments mirrors spec §3.4's adjustments{} sub-object.
type Adjustments struct {
	MaxQty      *float64
	PriceCap    *float64
	AlignedQty  *float64
	AlignedPrice *float64
	MinQty      *float64
	FinalQty    *float64
}

// Manager evaluates position limits and exchange filters for a symbol.
type Manager struct {
	cfg config.PositionConfig
}

// NewManager builds a Manager from the effective position configuration.
func NewManager(cfg config.PositionConfig) *Manager {
	return &Manager{cfg: cfg}
}

// CheckAll runs exchange filters, max-notional and per-symbol cap checks in
// the order mandated by spec §4.4, then reconciles aligned_qty/max_qty into
// FinalQty. The limit-order price cap is reconciled separately by
// ReconcileLimitPrice.
func (m *Manager) CheckAll(symbol string, qty, price float64) ([]string, Adjustments) {
	var reasons []string
	var adj Adjustments

	if filter, ok := m.cfg.Filters[symbol]; ok {
		if filter.MinNotional > 0 {
			notional := qty * price
			if notional < filter.MinNotional {
				reasons = append(reasons, "notional_below_min")
				if price > 0 {
					minQty := filter.MinNotional / price
					adj.MinQty = &minQty
				}
			}
		}
		if filter.StepSize > 0 {
			alignedQty := roundToMultiple(qty, filter.StepSize)
			if math.Abs(qty-alignedQty) > floatTolerance {
				reasons = append(reasons, "qty_not_aligned_to_step_size")
				adj.AlignedQty = &alignedQty
			}
		}
		if filter.TickSize > 0 {
			alignedPrice := roundToMultiple(price, filter.TickSize)
			if math.Abs(price-alignedPrice) > floatTolerance {
				reasons = append(reasons, "price_not_aligned_to_tick_size")
				adj.AlignedPrice = &alignedPrice
			}
		}
	}

	if m.cfg.MaxNotionalUSD > 0 {
		notional := qty * price
		if notional > m.cfg.MaxNotionalUSD {
			reasons = append(reasons, "notional_exceeds_limit")
			if price > 0 {
				maxQty := m.cfg.MaxNotionalUSD / price
				mergeMin(&adj.MaxQty, maxQty)
			}
		}
	}

	if cap, ok := m.cfg.SymbolQtyCap[symbol]; ok {
		if qty > cap {
			reasons = append(reasons, "symbol_qty_exceeds_limit")
			mergeMin(&adj.MaxQty, cap)
		}
	}

	if adj.AlignedQty != nil {
		final := *adj.AlignedQty
		if adj.MaxQty != nil {
			final = math.Min(final, *adj.MaxQty)
		}
		adj.FinalQty = &final
	}

	return reasons, adj
}

// ReconcileLimitPrice applies the buy-takes-lower / sell-takes-higher rule
// when a C5 price cap collides with C4's aligned_price (spec §4.4 last
// sentence).
func ReconcileLimitPrice(side string, priceCap float64, alignedPrice *float64) float64 {
	if alignedPrice == nil {
		return priceCap
	}
	if side == "buy" {
		return math.Min(priceCap, *alignedPrice)
	}
	return math.Max(priceCap, *alignedPrice)
}

func mergeMin(cur **float64, candidate float64) {
	if *cur == nil {
		v := candidate
		*cur = &v
		return
	}
	if candidate < **cur {
		**cur = candidate
	}
}

func roundToMultiple(v, step float64) float64 {
	return math.Round(v/step) * step
}
