// Package guards implements C3: three independent market guards whose
// reasons all accumulate rather than short-circuit, grounded on the
// original's guards.py and on the teacher's accumulate-all-reasons
// evaluator pattern.
package guards

import "github.com/alphacore/corerisk/internal/config"

// Checker evaluates the spread/lag/activity guards.
type Checker struct {
	cfg config.GuardsConfig
}

// NewChecker builds a Checker from the effective guards configuration.
func NewChecker(cfg config.GuardsConfig) *Checker {
	return &Checker{cfg: cfg}
}

// Check evaluates all three guards and returns every violated reason code
// (spec §4.3: thresholds pass inclusively at the boundary).
func (c *Checker) Check(spreadBps, eventLagSec, activityTPM float64) []string {
	var reasons []string
	if spreadBps > c.cfg.SpreadBpsMax {
		reasons = append(reasons, "spread_too_wide")
	}
	if eventLagSec > c.cfg.LagSecCap {
		reasons = append(reasons, "lag_exceeds_cap")
	}
	if activityTPM < c.cfg.ActivityMinTPM {
		reasons = append(reasons, "market_inactive")
	}
	return reasons
}
