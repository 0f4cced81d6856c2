// Package manager implements C6: the pre-order risk pipeline orchestrating
// C2-C5, timing, metrics and sampled logging, grounded on the original's
// precheck.py RiskManager.pre_order_check.
package manager

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/risk/guards"
	"github.com/alphacore/corerisk/internal/risk/position"
	"github.com/alphacore/corerisk/internal/risk/schema"
	"github.com/alphacore/corerisk/internal/risk/shadow"
	"github.com/alphacore/corerisk/internal/risk/stops"
	corelog "github.com/alphacore/corerisk/internal/log"
)

// ShadowCompare is the shadow_compare sub-object of spec §3.4's RiskDecision,
// populated by the C8 comparator against a (possibly absent) legacy verdict.
type ShadowCompare struct {
	LegacyPassed *bool
	Parity       bool
}

// defaultShadowCompare matches the original's dataclass default
// (legacy_passed=None, parity=True) for decisions the comparator never saw.
func defaultShadowCompare() ShadowCompare {
	return ShadowCompare{Parity: true}
}

// Decision is the RiskDecision output of spec §3.4.
type Decision struct {
	Passed        bool
	ReasonCodes   []string
	Adjustments   position.Adjustments
	LatencyMs     float64
	LatencySec    float64
	ShadowCompare ShadowCompare
}

// Manager orchestrates the hard-gate schema check and the soft guard/
// position/stop checks into one pre_order_check call.
type Manager struct {
	enabled  bool
	guards   *guards.Checker
	position *position.Manager
	stops    *stops.Manager
	metrics  *metrics.Registry
	shadow   *shadow.Comparator
	log      zerolog.Logger
	passSampler *corelog.Sampler
}

// New builds a Manager from the effective risk configuration. metricsReg and
// passSampleEvery let callers share one metrics registry and tune the 1%
// pass-sample rate from spec §4.6 step 7. shadowCmp may be nil, in which case
// every decision carries the default (parity=true, legacy_passed=nil)
// shadow_compare value.
func New(cfg config.RiskConfig, metricsReg *metrics.Registry, passSampleEvery uint64, shadowCmp *shadow.Comparator) *Manager {
	return &Manager{
		enabled:     cfg.Enabled,
		guards:      guards.NewChecker(cfg.Guards),
		position:    position.NewManager(cfg.Position),
		stops:       stops.NewManager(cfg.Stops),
		metrics:     metricsReg,
		shadow:      shadowCmp,
		log:         corelog.Component("risk_manager"),
		passSampler: corelog.NewSampler(passSampleEvery),
	}
}

// PreOrderCheck runs the full C2-C5 pipeline for raw and returns a Decision.
// Hard-gate schema failures abort immediately (spec §4.6 step 2); all other
// checks accumulate soft reasons (spec §4.6 steps 3-7).
func (m *Manager) PreOrderCheck(raw schema.RawOrderContext) Decision {
	start := time.Now()

	validated, schemaErr := schema.Validate(raw)
	if schemaErr != nil {
		latency := time.Since(start)
		d := Decision{
			Passed:        false,
			ReasonCodes:   schemaErr.ReasonCodes,
			LatencyMs:     float64(latency.Microseconds()) / 1000.0,
			LatencySec:    latency.Seconds(),
			ShadowCompare: defaultShadowCompare(),
		}
		m.record(d)
		m.log.Error().Strs("reasons", d.ReasonCodes).Msg("schema validation failed")
		return d
	}

	if !m.enabled {
		latency := time.Since(start)
		d := Decision{
			Passed:        true,
			LatencyMs:     float64(latency.Microseconds()) / 1000.0,
			LatencySec:    latency.Seconds(),
			ShadowCompare: defaultShadowCompare(),
		}
		m.record(d)
		return d
	}

	var reasons []string
	var adj position.Adjustments

	reasons = append(reasons, m.guards.Check(validated.Guards.SpreadBps, validated.Guards.EventLagSec, validated.Guards.ActivityTPM)...)

	if validated.Price > 0 {
		posReasons, posAdj := m.position.CheckAll(validated.Symbol, validated.Qty, validated.Price)
		reasons = append(reasons, posReasons...)
		adj = posAdj
	}

	if validated.OrderType == "limit" && validated.Price > 0 {
		priceCap := m.stops.CalculatePriceCap(validated.Side, validated.Price, validated.MaxSlippageBps, priceTick(validated))
		adj.PriceCap = &priceCap
		reconciled := position.ReconcileLimitPrice(validated.Side, priceCap, adj.AlignedPrice)
		adj.PriceCap = &reconciled
	}

	passed := len(reasons) == 0
	latency := time.Since(start)
	d := Decision{
		Passed:      passed,
		ReasonCodes: reasons,
		Adjustments: adj,
		LatencyMs:   float64(latency.Microseconds()) / 1000.0,
		LatencySec:  latency.Seconds(),
	}
	d.ShadowCompare = m.compareShadow(validated, passed, reasons)
	m.record(d)

	if !passed {
		m.log.Warn().Str("symbol", validated.Symbol).Str("side", validated.Side).Strs("reasons", reasons).Float64("latency_ms", d.LatencyMs).Msg("order denied")
	} else if m.passSampler.Allow() {
		m.log.Info().Str("symbol", validated.Symbol).Str("side", validated.Side).Float64("latency_ms", d.LatencyMs).Msg("order passed")
	}

	return d
}

// compareShadow runs the inline decision through the C8 comparator. There is
// no legacy risk service wired into this core, so legacyPassed is always nil
// — per spec §4.8 a missing legacy verdict counts as parity, not disagreement.
func (m *Manager) compareShadow(validated *schema.OrderContext, passed bool, reasons []string) ShadowCompare {
	if m.shadow == nil {
		return defaultShadowCompare()
	}
	rec := m.shadow.Compare(validated.TsMs, validated.Symbol, validated.Side, passed, reasons, nil, nil)
	return ShadowCompare{LegacyPassed: rec.LegacyPassed, Parity: rec.Parity}
}

func (m *Manager) record(d Decision) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordPrecheck(d.Passed, d.ReasonCodes)
	m.metrics.RecordLatency(d.LatencySec)
}

// priceTick has no configured per-call tick yet; exchange filter tick_size is
// already folded into adjustments.AlignedPrice by the Position Manager, so
// the Stops manager is invoked without a tick override here (spec §4.6 step 6
// reconciles against that aligned_price directly).
func priceTick(_ *schema.OrderContext) float64 {
	return 0
}
