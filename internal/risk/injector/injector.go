// Package injector implements C7: copy-on-write hot-swap of risk parameters
// per StrategyMode regime, grounded on the original's
// strategy_mode_integration.py StrategyModeRiskInjector.
package injector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alphacore/corerisk/internal/config"
	corelog "github.com/alphacore/corerisk/internal/log"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/risk/manager"
	"github.com/alphacore/corerisk/internal/risk/shadow"
)

// ModeParams is the risk sub-tree carried by a StrategyMode transition
// (guards/position/stop_rules overlays), mirroring mode_params["risk"].
type ModeParams struct {
	Guards   *config.GuardsConfig
	Position *config.PositionConfig
	Stops    *config.StopsConfig
}

// Injector holds the base config and atomically published current snapshot.
type Injector struct {
	baseConfig config.RiskConfig
	metrics    *metrics.Registry
	shadow     *shadow.Comparator
	log        zerolog.Logger

	mu           sync.Mutex // serializes apply() calls only
	current      atomic.Pointer[manager.Manager]
	currentMode  atomic.Value // string
}

// New constructs an Injector whose initial snapshot is built from baseConfig.
// shadowCmp is threaded into every constructed Manager so C8 shadow
// comparison stays wired across mode swaps; it may be nil.
func New(baseConfig config.RiskConfig, metricsReg *metrics.Registry, shadowCmp *shadow.Comparator) *Injector {
	inj := &Injector{baseConfig: baseConfig, metrics: metricsReg, shadow: shadowCmp, log: corelog.Component("risk_injector")}
	m := manager.New(baseConfig, metricsReg, 100, shadowCmp)
	inj.current.Store(m)
	return inj
}

// Current returns the currently published Risk Manager. Readers never block
// during a concurrent Apply (copy-on-write).
func (inj *Injector) Current() *manager.Manager {
	return inj.current.Load()
}

// CurrentMode returns the last successfully applied mode name, if any.
func (inj *Injector) CurrentMode() string {
	if v, ok := inj.currentMode.Load().(string); ok {
		return v
	}
	return ""
}

// Apply overlays params on a copy of the base config, each non-nil
// Guards/Position/Stops sub-tree replacing the base sub-tree as a whole
// (fields are not merged one by one), and atomically publishes a
// freshly-constructed Risk Manager. On failure, the previous snapshot is left
// intact. Returns (success, duration), matching the original's
// apply_strategy_mode_params, which rejects an empty risk_params sub-tree
// rather than publishing a no-op snapshot.
func (inj *Injector) Apply(mode string, params ModeParams) (bool, time.Duration, error) {
	start := time.Now()

	if params.Guards == nil && params.Position == nil && params.Stops == nil {
		inj.log.Warn().Str("mode", mode).Msg("no risk params for strategy mode; skipping apply")
		return false, time.Since(start), nil
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()

	newCfg := inj.baseConfig // value copy: Go structs/maps need explicit clone of maps below
	newCfg.Position.SymbolQtyCap = cloneFloatMap(inj.baseConfig.Position.SymbolQtyCap)
	newCfg.Position.Filters = cloneFilterMap(inj.baseConfig.Position.Filters)

	if params.Guards != nil {
		newCfg.Guards = *params.Guards
	}
	if params.Position != nil {
		newCfg.Position = *params.Position
	}
	if params.Stops != nil {
		newCfg.Stops = *params.Stops
	}

	m := manager.New(newCfg, inj.metrics, 100, inj.shadow)
	inj.current.Store(m)
	inj.currentMode.Store(mode)

	return true, time.Since(start), nil
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFilterMap(m map[string]config.ExchangeFilter) map[string]config.ExchangeFilter {
	out := make(map[string]config.ExchangeFilter, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
