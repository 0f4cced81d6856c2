// Package decision implements C9: the strict ordered decision function
// (expiry -> cooldown -> gating -> regime -> threshold), grounded on the
// original's decision_engine.py DecisionEngine.decide.
package decision

import (
	"fmt"
	"sync"
	"time"

	"github.com/alphacore/corerisk/internal/config"
)

// Regime is the Decision Engine's own regime vocabulary (spec §3.2,
// GLOSSARY) — distinct from the C10 StrategyMode activity mode and from any
// scanner-domain regime vocabulary.
type Regime string

const (
	RegimeTrend   Regime = "trend"
	RegimeRevert  Regime = "revert"
	RegimeQuiet   Regime = "quiet"
	RegimeUnknown Regime = "unknown"
)

// DecisionCode enumerates the possible decision outcomes (spec §3.2).
type DecisionCode string

const (
	CodeOK          DecisionCode = "OK"
	CodeCooldown    DecisionCode = "COOLDOWN"
	CodeExpire      DecisionCode = "EXPIRE"
	CodeLowScore    DecisionCode = "LOW_SCORE"
	CodeBadRegime   DecisionCode = "BAD_REGIME"
	CodeFailGating  DecisionCode = "FAIL_GATING"
)

// SideHint is the directional hint derived from the signal score.
type SideHint string

const (
	SideBuy  SideHint = "buy"
	SideSell SideHint = "sell"
	SideFlat SideHint = "flat"
)

// Result is the decision function's output.
type Result struct {
	Regime         Regime
	Gating         int
	Confirm        bool
	CooldownMs     int64
	ExpiryMs       int64
	DecisionCode   DecisionCode
	DecisionReason string
	SideHint       SideHint
}

// Engine is the C9 single-point decision function with per-(symbol,side)
// cooldown state.
type Engine struct {
	expiryMs            int64
	cooldownMs          int64
	allowQuiet          bool
	gatingOfiZ          float64
	gatingCvdZ          float64
	enableDivergenceAlt bool
	zTrend              float64
	zRevert             float64
	entryTrend          float64
	entryRevert         float64
	entryQuiet          float64

	mu            sync.Mutex
	cooldownState map[string]map[string]int64 // symbol -> side -> cooldown-end ts_ms
}

// NewEngine builds a decision Engine from the effective decision configuration.
// Environment-variable overrides are expected to have already been applied to
// cfg by internal/config.Load (spec §4.9 last sentence: overrides are read
// once at construction).
func NewEngine(cfg config.DecisionConfig) *Engine {
	return &Engine{
		expiryMs:            cfg.ExpiryMs,
		cooldownMs:          cfg.CooldownMs,
		allowQuiet:          cfg.AllowQuiet,
		gatingOfiZ:          cfg.Gating.OfiZ,
		gatingCvdZ:          cfg.Gating.CvdZ,
		enableDivergenceAlt: cfg.Gating.EnableDivergenceAlt,
		zTrend:              cfg.Regime.ZTrend,
		zRevert:             cfg.Regime.ZRevert,
		entryTrend:          cfg.Threshold.Trend,
		entryRevert:         cfg.Threshold.Revert,
		entryQuiet:          cfg.Threshold.Quiet,
		cooldownState:       make(map[string]map[string]int64),
	}
}

// EffectiveConfig returns the engine's parameters actually in effect as a
// nested map. The config hash does not use it; internal/confighash builds its
// input from config.CoreConfig directly.
func (e *Engine) EffectiveConfig() map[string]interface{} {
	return map[string]interface{}{
		"expiry_ms":   e.expiryMs,
		"cooldown_ms": e.cooldownMs,
		"allow_quiet": e.allowQuiet,
		"gating": map[string]interface{}{
			"ofi_z":                 e.gatingOfiZ,
			"cvd_z":                 e.gatingCvdZ,
			"enable_divergence_alt": e.enableDivergenceAlt,
		},
		"regime": map[string]interface{}{"z_t": e.zTrend, "z_r": e.zRevert},
		"threshold": map[string]interface{}{
			"entry": map[string]interface{}{
				"trend": e.entryTrend, "revert": e.entryRevert, "quiet": e.entryQuiet,
			},
		},
	}
}

// Decide runs the ordered expiry->cooldown->gating->regime->threshold
// decision. nowMs<=0 means "use wall-clock now"; replay/backtest callers
// pass a controlled nowMs (e.g. nowMs=tsMs) to suppress expiry (spec §4.9
// step 1).
func (e *Engine) Decide(tsMs int64, symbol string, score float64, zOfi, zCvd *float64, divType string, nowMs int64) Result {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	elapsed := nowMs - tsMs
	if elapsed > e.expiryMs {
		return Result{
			Regime:         RegimeUnknown,
			Gating:         0,
			Confirm:        false,
			CooldownMs:     0,
			ExpiryMs:       e.expiryMs,
			DecisionCode:   CodeExpire,
			DecisionReason: fmt.Sprintf("expired(%dms>%dms)", elapsed, e.expiryMs),
			SideHint:       SideFlat,
		}
	}

	side := sideHintOf(score)

	remaining := e.checkCooldown(symbol, string(side), nowMs)
	if remaining > 0 {
		return Result{
			Regime:         RegimeUnknown,
			Gating:         0,
			Confirm:        false,
			CooldownMs:     remaining,
			ExpiryMs:       e.expiryMs,
			DecisionCode:   CodeCooldown,
			DecisionReason: fmt.Sprintf("cooldown(%dms remaining)", remaining),
			SideHint:       side,
		}
	}

	passed, reason := e.checkGating(zOfi, zCvd, divType)
	if !passed {
		return Result{
			Regime:         RegimeUnknown,
			Gating:         0,
			Confirm:        false,
			CooldownMs:     0,
			ExpiryMs:       e.expiryMs,
			DecisionCode:   CodeFailGating,
			DecisionReason: reason,
			SideHint:       side,
		}
	}

	regime := e.inferRegime(zOfi, zCvd)

	if regime == RegimeQuiet && !e.allowQuiet {
		return Result{
			Regime:         regime,
			Gating:         1,
			Confirm:        false,
			CooldownMs:     0,
			ExpiryMs:       e.expiryMs,
			DecisionCode:   CodeBadRegime,
			DecisionReason: "quiet regime not allowed",
			SideHint:       side,
		}
	}

	entryThreshold := e.entryThresholdFor(regime)
	absScore := absF(score)
	if absScore < entryThreshold {
		return Result{
			Regime:         regime,
			Gating:         1,
			Confirm:        false,
			CooldownMs:     0,
			ExpiryMs:       e.expiryMs,
			DecisionCode:   CodeLowScore,
			DecisionReason: fmt.Sprintf("score(%.2f)<entry(%.2f)", absScore, entryThreshold),
			SideHint:       side,
		}
	}

	e.updateCooldown(symbol, string(side), nowMs)

	return Result{
		Regime:         regime,
		Gating:         1,
		Confirm:        true,
		CooldownMs:     0,
		ExpiryMs:       e.expiryMs,
		DecisionCode:   CodeOK,
		DecisionReason: fmt.Sprintf("score(%.2f)>=%.2f & %s", absScore, entryThreshold, regime),
		SideHint:       side,
	}
}

func sideHintOf(score float64) SideHint {
	switch {
	case score > 0:
		return SideBuy
	case score < 0:
		return SideSell
	default:
		return SideFlat
	}
}

func (e *Engine) checkCooldown(symbol, side string, nowMs int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	sides, ok := e.cooldownState[symbol]
	if !ok {
		return 0
	}
	end, ok := sides[side]
	if !ok {
		return 0
	}
	remaining := end - nowMs
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (e *Engine) updateCooldown(symbol, side string, nowMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cooldownState[symbol]; !ok {
		e.cooldownState[symbol] = make(map[string]int64)
	}
	e.cooldownState[symbol][side] = nowMs + e.cooldownMs
}

func (e *Engine) checkGating(zOfi, zCvd *float64, divType string) (bool, string) {
	if zOfi != nil && zCvd != nil {
		if absF(*zOfi) >= e.gatingOfiZ && absF(*zCvd) >= e.gatingCvdZ {
			return true, "strong signal"
		}
	}
	isDivergence := divType == "bull" || divType == "bear"
	if e.enableDivergenceAlt && isDivergence {
		return true, fmt.Sprintf("divergence(%s)", divType)
	}

	var parts []string
	if zOfi == nil || absF(*zOfi) < e.gatingOfiZ {
		parts = append(parts, fmt.Sprintf("ofi_z(%s)<%.2f", floatOrNone(zOfi), e.gatingOfiZ))
	}
	if zCvd == nil || absF(*zCvd) < e.gatingCvdZ {
		parts = append(parts, fmt.Sprintf("cvd_z(%s)<%.2f", floatOrNone(zCvd), e.gatingCvdZ))
	}
	if !(e.enableDivergenceAlt && isDivergence) {
		parts = append(parts, "no divergence")
	}
	reason := parts[0]
	for _, p := range parts[1:] {
		reason += " & " + p
	}
	return false, reason
}

func (e *Engine) inferRegime(zOfi, zCvd *float64) Regime {
	if zOfi == nil || zCvd == nil {
		return RegimeUnknown
	}
	absOfi := absF(*zOfi)
	ofiSign := signOf(*zOfi)
	cvdSign := signOf(*zCvd)

	if absOfi >= e.zTrend && ofiSign == cvdSign {
		return RegimeTrend
	}
	if absOfi >= e.zRevert && ofiSign != cvdSign {
		return RegimeRevert
	}
	return RegimeQuiet
}

func (e *Engine) entryThresholdFor(r Regime) float64 {
	switch r {
	case RegimeTrend:
		return e.entryTrend
	case RegimeRevert:
		return e.entryRevert
	case RegimeQuiet:
		return e.entryQuiet
	default:
		return e.entryTrend
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func signOf(v float64) int {
	if v > 0 {
		return 1
	}
	return -1
}

func floatOrNone(v *float64) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprintf("%.3f", *v)
}
