// Package corealgo implements C13: the per-row pipeline that turns a
// validated feature row into a Decision Engine call and a persisted
// SignalV2 record — deduplication, fusion-score resolution, consistency
// recomputation, gating-reason aggregation, quality tiering, confirm-v2,
// and direction-streak suppression, grounded on the original's
// core_algo.py CoreAlgorithm (_process_feature_row_v2 and its v1-path
// gating-reason/quality-tier/confirm-v2/streak helpers, composed onto the
// v2 single-point Decision Engine hand-off).
package corealgo

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/alphacore/corerisk/internal/confighash"
	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/decision"
	corelog "github.com/alphacore/corerisk/internal/log"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/persistence"
	"github.com/alphacore/corerisk/internal/persistence/sqlite"
	"github.com/alphacore/corerisk/internal/regime"
)

// Tuning holds the C13-specific thresholds not already owned by
// config.DecisionConfig (spec §4.13).
type Tuning struct {
	DedupeMs                     int64
	SpreadBpsCap                 float64
	LagCapSec                    float64
	WOfi, WCvd                   float64
	RecomputeFusion               bool
	StrongThreshold               float64
	WeakSignalThreshold           float64
	ConsistencyMin                float64
	ConsistencyFloorWhenScoreGE   float64
	ConsistencyFloor              float64
	ConsistencyFloorOnDivergence  float64
	MinConsecutiveSameDir         int
	CooldownAfterExitSec          int64
	ConfirmV2                     bool // true = Phase C tiered confirm; false = legacy uniform confirm-v1
}

// DefaultTuning mirrors the original's CORE_ALGO defaults (core_algo.py
// module-level _DEFAULT_CONFIG).
func DefaultTuning() Tuning {
	return Tuning{
		DedupeMs:                    250,
		SpreadBpsCap:                8.0,
		LagCapSec:                   1.5,
		WOfi:                        0.6,
		WCvd:                        0.4,
		RecomputeFusion:              true,
		StrongThreshold:              0.8,
		WeakSignalThreshold:          0.2,
		ConsistencyMin:               0.3,
		ConsistencyFloorWhenScoreGE:  0.4,
		ConsistencyFloor:             0.10,
		ConsistencyFloorOnDivergence: 0.12,
		MinConsecutiveSameDir:        1,
		CooldownAfterExitSec:         0,
		ConfirmV2:                    true,
	}
}

// FeatureRow is one validated microstructure feature row (spec §3.1).
type FeatureRow struct {
	TsMs           int64
	Symbol         string
	ZOfi, ZCvd     *float64
	FusionScore    *float64
	SpreadBps      float64
	LagSec         float64
	Warmup         bool
	DivType        string // "", "bull", "bear"
	ReasonCodes    []string
	TradeRate      *float64
	QuoteRate      *float64
	RealizedVolBps *float64
	VolumeUSD      *float64
}

type streakState struct {
	lastDir int
	count   int
}

type symbolState struct {
	lastTsMs    int64
	hasLastTs   bool
	lastExitMs  int64
	hasLastExit bool
	streak      streakState
}

// Pipeline is the C13 CoreAlgorithm, one instance per process sharing a
// Decision Engine, StrategyMode classifier, Signal Writer, and Metrics
// Registry across symbols; per-symbol dedup/streak/exit state is isolated
// in symbolState (spec §3.5).
type Pipeline struct {
	tuning           Tuning
	regimeThresholds config.CoreAlgoThresholds
	decision         *decision.Engine
	regimeCls        *regime.Classifier
	writer           *persistence.Writer
	metrics          *metrics.Registry
	ids              *confighash.SignalIDGenerator
	configHash       string
	runID            string
	rulesVer         string
	featVer          string
	log              zerolog.Logger
	passSampler *corelog.Sampler

	mu     sync.Mutex
	states map[string]*symbolState
}

// NewPipeline builds a Pipeline from its collaborators. configHash is
// computed once at startup by internal/confighash.Calculate and folded
// into every emitted signal (spec §4.12).
func NewPipeline(cfg *config.CoreConfig, tuning Tuning, eng *decision.Engine, regimeCls *regime.Classifier, writer *persistence.Writer, metricsReg *metrics.Registry, configHash string) *Pipeline {
	return &Pipeline{
		tuning:           tuning,
		regimeThresholds: cfg.CoreAlgo,
		decision:         eng,
		regimeCls:        regimeCls,
		writer:           writer,
		metrics:          metricsReg,
		ids:              confighash.NewSignalIDGenerator(cfg.RunID),
		configHash:       configHash,
		runID:            cfg.RunID,
		rulesVer:         cfg.RulesVer,
		featVer:          cfg.FeaturesVer,
		log:              corelog.Component("core_algo"),
		passSampler:      corelog.NewSampler(100),
		states:           make(map[string]*symbolState),
	}
}

// RecordExit records tsMs as the last-exit time for symbol, arming the
// post-exit cooldown gating reason for subsequent rows (spec §4.13 step 4,
// §9 record_exit hook). This hook is unenforced by the pipeline itself —
// callers (e.g. a position-close listener) must invoke it explicitly.
func (p *Pipeline) RecordExit(symbol string, tsMs int64) {
	if p.tuning.CooldownAfterExitSec <= 0 {
		return
	}
	symbol = strings.ToUpper(symbol)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateLocked(symbol).lastExitMs = tsMs
	p.stateLocked(symbol).hasLastExit = true
}

func (p *Pipeline) stateLocked(symbol string) *symbolState {
	st, ok := p.states[symbol]
	if !ok {
		st = &symbolState{}
		p.states[symbol] = st
	}
	return st
}

// Process runs one feature row through dedup, scoring, gating, tiering,
// confirm-v2, streak suppression, the Decision Engine hand-off, and
// emission. It returns false if the row was a duplicate (nothing emitted).
func (p *Pipeline) Process(row FeatureRow) (bool, error) {
	symbol := strings.ToUpper(row.Symbol)

	if p.isDuplicate(symbol, row.TsMs) {
		return false, nil
	}

	score := p.resolveScore(row)
	consistency := p.consistencyWithFloor(row, score)

	act := p.regimeCls.EstimateActivity(symbol, row.TsMs, row.TradeRate, row.QuoteRate, ptrOrNil(row.SpreadBps), row.RealizedVolBps, row.VolumeUSD, zOr0(row.ZOfi), zOr0(row.ZCvd))
	mode := p.regimeCls.Update(symbol, row.TsMs, act)

	thresholds := p.thresholdsForMode(mode)
	consistencyMin := p.consistencyMinForMode(mode)

	gatingReasons := p.gatherGatingReasons(symbol, row, score, consistency, consistencyMin)

	direction := directionOf(score, thresholds)
	tier := p.qualityTier(score)
	hardGate := hasHardGate(gatingReasons)
	softGuardReasons := p.softGuardReasons(direction, tier, hardGate, gatingReasons)

	confirmCandidate := direction != 0
	if p.tuning.ConfirmV2 {
		confirmCandidate = p.confirmV2(direction, tier, hardGate, score, consistency, consistencyMin)
	} else {
		confirmCandidate = direction != 0 && len(gatingReasons) == 0
	}

	var streak int
	if confirmCandidate && p.tuning.MinConsecutiveSameDir > 1 {
		streak = p.updateStreak(symbol, direction)
		if streak < p.tuning.MinConsecutiveSameDir {
			confirmCandidate = false
			gatingReasons = append(gatingReasons, fmt.Sprintf("reverse_cooldown_insufficient_ticks(%d<%d)", streak, p.tuning.MinConsecutiveSameDir))
		}
	}

	var zOfiF, zCvdF *float64
	if row.ZOfi != nil {
		v := *row.ZOfi
		zOfiF = &v
	}
	if row.ZCvd != nil {
		v := *row.ZCvd
		zCvdF = &v
	}

	result := p.decision.Decide(row.TsMs, symbol, score, zOfiF, zCvdF, row.DivType, row.TsMs)

	// C13 input filtering can downgrade a Decision-Engine OK into a
	// non-confirm when its own soft/hard gating reasons block it; the
	// engine's decision_code is preserved for observability either way.
	confirm := result.Confirm && confirmCandidate

	id := p.ids.Next(symbol, row.TsMs)

	meta := map[string]interface{}{
		"features_ver":      p.featVer,
		"rules_ver":         p.rulesVer,
		"quality_tier":      tier,
		"consistency":       consistency,
		"gating_reasons":    gatingReasons,
		"soft_guard_reasons": softGuardReasons,
	}

	signal := map[string]interface{}{
		"ts_ms":           row.TsMs,
		"symbol":          symbol,
		"signal_id":       id,
		"score":           score,
		"side_hint":       string(result.SideHint),
		"regime":          string(result.Regime),
		"gating":          result.Gating,
		"confirm":         confirm,
		"cooldown_ms":     result.CooldownMs,
		"expiry_ms":       result.ExpiryMs,
		"decision_code":   string(result.DecisionCode),
		"decision_reason": result.DecisionReason,
		"config_hash":     p.configHash,
		"run_id":          p.runID,
		"schema_version":  "signal/v2",
		"z_ofi":           zOfiF,
		"z_cvd":           zCvdF,
		"div_type":        nilIfEmpty(row.DivType),
		"meta":            meta,
	}

	rec := persistence.Record{
		TsMs:   row.TsMs,
		Symbol: symbol,
		JSON:   signal,
		Row: sqliteRow(row.TsMs, symbol, id, score, string(result.SideHint), zOfiF, zCvdF,
			row.DivType, string(result.Regime), result.Gating, confirm, result.CooldownMs,
			result.ExpiryMs, string(result.DecisionCode), result.DecisionReason, p.configHash, p.runID, meta),
	}

	if err := p.writer.Write(rec); err != nil {
		p.log.Error().Err(err).Str("symbol", symbol).Msg("signal write failed")
	}

	if confirm {
		if p.passSampler.Allow() {
			p.log.Info().Str("symbol", symbol).Str("signal_id", id).Float64("score", score).Msg("signal confirmed")
		}
	} else if len(gatingReasons) > 0 {
		p.log.Debug().Str("symbol", symbol).Strs("reasons", gatingReasons).Msg("signal suppressed")
	}

	return true, nil
}

func (p *Pipeline) isDuplicate(symbol string, tsMs int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stateLocked(symbol)
	if st.hasLastTs && absI64(tsMs-st.lastTsMs) < p.tuning.DedupeMs {
		return true
	}
	st.lastTsMs = tsMs
	st.hasLastTs = true
	return false
}

// resolveScore implements spec §4.13 step 1: fusion from z-scores via
// tanh-clipped weights, then a second tanh clip on the combined score.
func (p *Pipeline) resolveScore(row FeatureRow) float64 {
	if !p.tuning.RecomputeFusion && row.FusionScore != nil {
		return math.Tanh(*row.FusionScore/3.0) * 5.0
	}
	ofi := zOr0(row.ZOfi)
	cvd := zOr0(row.ZCvd)
	ofiClipped := math.Tanh(ofi/3.0) * 5.0
	cvdClipped := math.Tanh(cvd/3.0) * 5.0
	score := p.tuning.WOfi*ofiClipped + p.tuning.WCvd*cvdClipped
	return math.Tanh(score/3.0) * 5.0
}

// consistencyWithFloor implements spec §4.13 step 2: sign/near-zero
// collapse to 0, else min/max ratio clamped to [0,1], then a configurable
// floor lift when the score is strong or a divergence is present.
func (p *Pipeline) consistencyWithFloor(row FeatureRow, score float64) float64 {
	raw := rawConsistency(row.ZOfi, row.ZCvd)
	consistency := raw
	if raw <= 0.0 {
		if math.Abs(score) >= p.tuning.ConsistencyFloorWhenScoreGE {
			consistency = math.Max(consistency, p.tuning.ConsistencyFloor)
		} else if row.DivType != "" {
			consistency = math.Max(consistency, p.tuning.ConsistencyFloorOnDivergence)
		}
	}
	return consistency
}

func rawConsistency(zOfi, zCvd *float64) float64 {
	const eps = 1e-9
	if zOfi == nil || zCvd == nil {
		return 0.0
	}
	a, b := *zOfi, *zCvd
	if math.Abs(a) < eps || math.Abs(b) < eps {
		return 0.0
	}
	if signOf(a) != signOf(b) {
		return 0.0
	}
	absA, absB := math.Abs(a), math.Abs(b)
	c := math.Min(absA, absB) / math.Max(absA, absB)
	return math.Max(0.0, math.Min(1.0, c))
}

// gatherGatingReasons accumulates every independent gating reason (spec
// §4.13 step 4): post-exit cooldown, warmup, guard breaches, low
// consistency, weak signal, and any upstream reason codes. consistencyMin is
// the regime-specific floor resolved by consistencyMinForMode (core_algo.py's
// consistency_min_per_regime takes priority over the flat tuning default).
func (p *Pipeline) gatherGatingReasons(symbol string, row FeatureRow, score, consistency, consistencyMin float64) []string {
	var reasons []string

	if p.tuning.CooldownAfterExitSec > 0 {
		p.mu.Lock()
		st := p.stateLocked(symbol)
		hasExit, lastExit := st.hasLastExit, st.lastExitMs
		p.mu.Unlock()
		if hasExit {
			elapsedSec := float64(row.TsMs-lastExit) / 1000.0
			if elapsedSec < float64(p.tuning.CooldownAfterExitSec) {
				reasons = append(reasons, fmt.Sprintf("cooldown_after_exit(%.1fs<%ds)", elapsedSec, p.tuning.CooldownAfterExitSec))
			}
		}
	}

	if row.Warmup {
		reasons = append(reasons, "warmup")
	}
	if p.tuning.SpreadBpsCap > 0 && row.SpreadBps > p.tuning.SpreadBpsCap {
		reasons = append(reasons, fmt.Sprintf("spread_bps>%.2f", p.tuning.SpreadBpsCap))
	}
	if p.tuning.LagCapSec > 0 && row.LagSec > p.tuning.LagCapSec {
		reasons = append(reasons, fmt.Sprintf("lag_sec>%.2f", p.tuning.LagCapSec))
	}
	if consistency < consistencyMin {
		reasons = append(reasons, "low_consistency")
	}
	if math.Abs(score) < p.tuning.WeakSignalThreshold && !row.Warmup {
		reasons = append(reasons, "weak_signal")
	}
	for _, code := range row.ReasonCodes {
		reasons = append(reasons, "reason:"+code)
	}
	return reasons
}

// thresholdsForMode resolves the effective direction-threshold quadruple for
// mode, merging the regime-specific override over the base set field-by-field
// (core_algo.py's _thresholds_for_regime / _merge_dict).
func (p *Pipeline) thresholdsForMode(mode regime.Mode) config.RegimeThresholdSet {
	base := p.regimeThresholds.Base
	switch mode {
	case regime.ModeActive:
		return mergeThresholds(base, p.regimeThresholds.Active)
	case regime.ModeQuiet:
		return mergeThresholds(base, p.regimeThresholds.Quiet)
	default:
		return base
	}
}

func mergeThresholds(base, override config.RegimeThresholdSet) config.RegimeThresholdSet {
	merged := base
	if override.Buy != 0 {
		merged.Buy = override.Buy
	}
	if override.StrongBuy != 0 {
		merged.StrongBuy = override.StrongBuy
	}
	if override.Sell != 0 {
		merged.Sell = override.Sell
	}
	if override.StrongSell != 0 {
		merged.StrongSell = override.StrongSell
	}
	return merged
}

// consistencyMinForMode resolves the effective consistency floor, preferring
// consistency_min_per_regime over the flat tuning default (spec §4.13 step 5).
func (p *Pipeline) consistencyMinForMode(mode regime.Mode) float64 {
	if v, ok := p.regimeThresholds.ConsistencyMinPerRegime[string(mode)]; ok {
		return v
	}
	return p.tuning.ConsistencyMin
}

// directionOf implements spec §4.13 step 5: regime-specific buy/sell
// thresholds, not a plain sign comparison.
func directionOf(score float64, thresholds config.RegimeThresholdSet) int {
	switch {
	case score >= thresholds.Buy:
		return 1
	case score <= thresholds.Sell:
		return -1
	default:
		return 0
	}
}

func (p *Pipeline) qualityTier(score float64) string {
	abs := math.Abs(score)
	switch {
	case abs >= p.tuning.StrongThreshold:
		return "strong"
	case abs >= p.tuning.WeakSignalThreshold:
		return "normal"
	default:
		return "weak"
	}
}

// hasHardGate reports whether any gating reason is a hard gate (warmup,
// post-exit cooldown, guard breach, or upstream reason code) as opposed to a
// soft guard (low_consistency/weak_signal), matching core_algo.py's
// hard_gating_reasons filter.
func hasHardGate(reasons []string) bool {
	for _, r := range reasons {
		if isHardGateReason(r) {
			return true
		}
	}
	return false
}

func isHardGateReason(r string) bool {
	return r == "warmup" || strings.HasPrefix(r, "cooldown_after_exit") ||
		strings.HasPrefix(r, "spread_bps>") || strings.HasPrefix(r, "lag_sec>") ||
		strings.HasPrefix(r, "reason:")
}

// softGuardReasons implements spec §4.13 step 7 / §8 scenario 6's
// soft_guard_reasons: empty with no direction; all reasons (for diagnostics)
// when a hard gate blocks; the low_consistency/weak_signal subset in the
// strong tier (tolerated) or the blocked normal tier; empty in the weak tier.
func (p *Pipeline) softGuardReasons(direction int, tier string, hardGate bool, gatingReasons []string) []string {
	if direction == 0 {
		return nil
	}
	if hardGate {
		return gatingReasons
	}
	flags := softFlags(gatingReasons)
	switch tier {
	case "strong":
		return flags
	case "normal":
		if len(flags) > 0 {
			return flags
		}
		return nil
	default: // weak
		return nil
	}
}

func softFlags(reasons []string) []string {
	var out []string
	for _, r := range reasons {
		if r == "low_consistency" || r == "weak_signal" {
			out = append(out, r)
		}
	}
	return out
}

// confirmV2 implements spec §4.13 step 7's three-tier confirm logic: strong
// tolerates soft guards, normal requires a clean pass, weak never confirms.
func (p *Pipeline) confirmV2(direction int, tier string, hardGate bool, score, consistency, consistencyMin float64) bool {
	if direction == 0 {
		return false
	}
	if hardGate {
		return false
	}
	switch tier {
	case "strong":
		return true
	case "normal":
		softBlocked := math.Abs(score) < p.tuning.WeakSignalThreshold || consistency < consistencyMin
		return !softBlocked
	default: // weak
		return false
	}
}

func (p *Pipeline) updateStreak(symbol string, direction int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stateLocked(symbol)
	if direction == st.streak.lastDir && direction != 0 {
		st.streak.count++
	} else if direction != 0 {
		st.streak.count = 1
	} else {
		st.streak.count = 0
	}
	st.streak.lastDir = direction
	return st.streak.count
}

func signOf(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func zOr0(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func ptrOrNil(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// sqliteRow builds the structured sqlite.Row companion to the JSON signal
// record written to the JSONL sink, keeping both sinks' content equivalent
// (spec §4.11's dual-sink equivalence requirement).
func sqliteRow(tsMs int64, symbol, signalID string, score float64, sideHint string, zOfi, zCvd *float64, divType, regime string, gating int, confirm bool, cooldownMs, expiryMs int64, decisionCode, decisionReason, configHash, runID string, meta map[string]interface{}) sqlite.Row {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = []byte("{}")
	}
	return sqlite.Row{
		TsMs:           tsMs,
		Symbol:         symbol,
		SignalID:       signalID,
		SchemaVersion:  "signal/v2",
		Score:          score,
		SideHint:       sideHint,
		ZOfi:           zOfi,
		ZCvd:           zCvd,
		DivType:        divType,
		Regime:         regime,
		Gating:         gating,
		Confirm:        confirm,
		CooldownMs:     cooldownMs,
		ExpiryMs:       expiryMs,
		DecisionCode:   decisionCode,
		DecisionReason: decisionReason,
		ConfigHash:     configHash,
		RunID:          runID,
		MetaJSON:       string(metaJSON),
	}
}
