// Package regime implements C10: StrategyMode, a per-symbol schedule + market
// trigger state machine with hysteresis, grounded on the original's
// _infer_regime/_thresholds_for_regime and strategy_mode_integration.py.
//
// This is a distinct vocabulary from internal/decision's Regime
// (trend/revert/quiet/unknown): StrategyMode classifies {active, normal,
// quiet} from schedule windows and sliding-window market activity, not from
// z-score sign comparison.
package regime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	corelog "github.com/alphacore/corerisk/internal/log"
	"github.com/alphacore/corerisk/internal/config"
)

// Mode is the StrategyMode classifier's output vocabulary.
type Mode string

const (
	ModeActive Mode = "active"
	ModeNormal Mode = "normal"
	ModeQuiet  Mode = "quiet"
)

// Activity is one window's observed market covariates (spec §4.10).
type Activity struct {
	TradesPerMin      float64
	QuoteUpdatesPerSec float64
	SpreadBps         float64
	VolatilityBps     float64
	VolumeUSD         float64
}

type symbolState struct {
	mode               Mode
	consecutiveActive  int
	consecutiveQuiet   int
	lastHeartbeatMs    int64
	arrivalWindow      []int64 // bounded arrival-timestamp deque, cap 6000
}

// Classifier is the C10 StrategyMode state machine, one instance shared
// across symbols with per-symbol state.
type Classifier struct {
	cfg config.RegimeConfig
	log zerolog.Logger

	mu     sync.Mutex
	states map[string]*symbolState
}

// New builds a Classifier from the effective regime configuration.
func New(cfg config.RegimeConfig) *Classifier {
	return &Classifier{
		cfg:    cfg,
		log:    corelog.Component("strategy_mode"),
		states: make(map[string]*symbolState),
	}
}

// EstimateActivity builds an Activity from a feature row's optional covariate
// fields, falling back to the arrival-rate estimator and then to fixed
// defaults (quotes at least 0.5/s, spread 2.0 bps, volatility 3*max|z|+1),
// after the original's _create_market_activity. The fallbacks are not read
// from config, and TradesPerMin stays 0 when the arrival window holds fewer
// than two rows, in which case VolumeUSD also stays 0.
func (c *Classifier) EstimateActivity(symbol string, tsMs int64, tradeRate, quoteRate, spreadBps, realizedVolBps, volumeUSD *float64, zOfi, zCvd float64) Activity {
	var a Activity

	switch {
	case tradeRate != nil && *tradeRate > 0:
		a.TradesPerMin = *tradeRate
	default:
		a.TradesPerMin = c.estimateArrivalTradesPerMin(symbol, tsMs)
	}

	if quoteRate != nil && *quoteRate > 0 {
		a.QuoteUpdatesPerSec = *quoteRate
	} else {
		est := a.TradesPerMin / 60.0 * 2.0
		if est < 0.5 {
			est = 0.5
		}
		a.QuoteUpdatesPerSec = est
	}

	if spreadBps != nil && *spreadBps > 0 {
		a.SpreadBps = *spreadBps
	} else {
		a.SpreadBps = 2.0
	}

	if realizedVolBps != nil && *realizedVolBps > 0 {
		a.VolatilityBps = *realizedVolBps
	} else {
		m := absF(zOfi)
		if absF(zCvd) > m {
			m = absF(zCvd)
		}
		a.VolatilityBps = m*3.0 + 1.0
	}

	if volumeUSD != nil && *volumeUSD > 0 {
		a.VolumeUSD = *volumeUSD
	} else if a.TradesPerMin > 0 {
		est := a.TradesPerMin * 2000.0
		if est < 10000.0 {
			est = 10000.0
		}
		a.VolumeUSD = est
	}

	return a
}

func (c *Classifier) estimateArrivalTradesPerMin(symbol string, tsMs int64) float64 {
	if tsMs <= 0 {
		return 0
	}
	windowMs := int64(c.cfg.MarketTrigger.WindowSeconds) * 1000
	if windowMs <= 0 {
		windowMs = 60000
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateLocked(symbol)
	st.arrivalWindow = append(st.arrivalWindow, tsMs)
	if len(st.arrivalWindow) > 6000 {
		st.arrivalWindow = st.arrivalWindow[len(st.arrivalWindow)-6000:]
	}
	for len(st.arrivalWindow) > 0 && tsMs-st.arrivalWindow[0] > windowMs {
		st.arrivalWindow = st.arrivalWindow[1:]
	}
	if len(st.arrivalWindow) <= 1 {
		return 0
	}
	secs := float64(tsMs-st.arrivalWindow[0]) / 1000.0
	if secs < 1.0 {
		secs = 1.0
	}
	estTPS := float64(len(st.arrivalWindow)-1) / secs
	return estTPS * 60.0
}

func (c *Classifier) stateLocked(symbol string) *symbolState {
	st, ok := c.states[symbol]
	if !ok {
		st = &symbolState{mode: ModeNormal}
		c.states[symbol] = st
	}
	return st
}

// qualifies reports whether activity clears the market-trigger minima,
// jointly with the schedule trigger. The minima are compared as configured:
// basic_gate_multiplier is not applied and no winsorization is done.
func (c *Classifier) qualifies(a Activity, nowUTC time.Time) bool {
	mt := c.cfg.MarketTrigger
	marketOK := a.TradesPerMin >= mt.MinTradesPerMin &&
		a.QuoteUpdatesPerSec >= mt.MinQuoteUpdatesSec &&
		(mt.MinVolumeUSD == 0 || a.VolumeUSD >= mt.MinVolumeUSD) &&
		(mt.MaxSpreadBps == 0 || a.SpreadBps <= mt.MaxSpreadBps)

	scheduleOK := len(c.cfg.Schedule) == 0 || withinAnyWindow(nowUTC, c.cfg.Schedule)

	return marketOK && scheduleOK
}

func withinAnyWindow(t time.Time, windows []config.ScheduleWindow) bool {
	hm := t.UTC().Format("15:04")
	for _, w := range windows {
		if w.StartUTC <= hm && hm <= w.EndUTC {
			return true
		}
	}
	return false
}

// Update feeds one window's activity into the per-symbol hysteresis state
// machine and returns the current mode. min_active_windows consecutive
// qualifying windows are required to enter active; min_quiet_windows
// consecutive non-qualifying windows to return to quiet (spec §4.10).
func (c *Classifier) Update(symbol string, tsMs int64, a Activity) Mode {
	nowUTC := time.UnixMilli(tsMs).UTC()
	qualifies := c.qualifies(a, nowUTC)

	c.mu.Lock()
	st := c.stateLocked(symbol)
	if qualifies {
		st.consecutiveActive++
		st.consecutiveQuiet = 0
		if st.consecutiveActive >= maxInt(c.cfg.MinActiveWindows, 1) {
			st.mode = ModeActive
		}
	} else {
		st.consecutiveQuiet++
		st.consecutiveActive = 0
		if st.consecutiveQuiet >= maxInt(c.cfg.MinQuietWindows, 1) {
			st.mode = ModeQuiet
		} else if st.mode == ModeActive {
			st.mode = ModeNormal
		}
	}
	mode := st.mode

	heartbeatMs := int64(c.cfg.HeartbeatSeconds) * 1000
	var emit bool
	if heartbeatMs > 0 && tsMs-st.lastHeartbeatMs >= heartbeatMs {
		st.lastHeartbeatMs = tsMs
		emit = true
	}
	c.mu.Unlock()

	if emit {
		c.heartbeat(symbol, tsMs, mode, a, qualifies)
	}

	return mode
}

// heartbeat emits a JSON snapshot for offline forensic analysis, grounded on
// the original's 10s [StrategyMode] heartbeat log.
func (c *Classifier) heartbeat(symbol string, tsMs int64, mode Mode, a Activity, marketActive bool) {
	snapshot := map[string]interface{}{
		"ts_ms":            tsMs,
		"symbol":           symbol,
		"mode":             string(mode),
		"trades_per_min":   a.TradesPerMin,
		"quotes_per_sec":   a.QuoteUpdatesPerSec,
		"spread_bps":       a.SpreadBps,
		"volatility_bps":   a.VolatilityBps,
		"volume_usd":       a.VolumeUSD,
		"market_active":    marketActive,
	}
	buf, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	c.log.Info().RawJSON("snapshot", buf).Msg("strategy_mode heartbeat")
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
