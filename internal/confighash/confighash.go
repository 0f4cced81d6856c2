// Package confighash implements C12: a stable SHA1 fingerprint of the
// effective core configuration, plus the per-symbol monotonic signal-id
// generator, grounded on the original's config_hash.py.
package confighash

import (
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/stablejson"
)

// EffectiveCoreConfig is the subset of CoreConfig that participates in the
// config hash: numeric decision/risk parameters plus rules_ver/features_ver,
// so a rule-bump changes the hash even with identical numeric parameters
// (spec §4.12).
type EffectiveCoreConfig struct {
	RulesVer    string                 `json:"rules_ver"`
	FeaturesVer string                 `json:"features_ver"`
	DedupeMs    int64                  `json:"dedupe_ms"`
	Decision    config.DecisionConfig  `json:"decision"`
	Guards      config.GuardsConfig    `json:"guards"`
	Position    config.PositionConfig  `json:"position"`
	Stops       config.StopsConfig     `json:"stops"`
}

// Extract builds the effective-config view folded into the hash.
func Extract(cfg *config.CoreConfig) EffectiveCoreConfig {
	return EffectiveCoreConfig{
		RulesVer:    cfg.RulesVer,
		FeaturesVer: cfg.FeaturesVer,
		DedupeMs:    cfg.DedupeMs,
		Decision:    cfg.Decision,
		Guards:      cfg.Risk.Guards,
		Position:    cfg.Risk.Position,
		Stops:       cfg.Risk.Stops,
	}
}

// Calculate returns the first 12 hex characters of SHA1 over the stable
// (sorted-keys, no-whitespace) JSON serialization of the effective config.
func Calculate(cfg *config.CoreConfig) (string, error) {
	eff := Extract(cfg)
	stable, err := stablejson.Marshal(eff)
	if err != nil {
		return "", fmt.Errorf("stable-serialize effective config: %w", err)
	}
	sum := sha1.Sum(stable)
	return fmt.Sprintf("%x", sum)[:12], nil
}

// SignalIDGenerator produces "<run_id>-<SYMBOL>-<ts_ms>-<seq>" ids with a
// per-symbol monotonic seq starting at 0 (spec §3.2, §4.12).
type SignalIDGenerator struct {
	runID string
	mu    sync.Mutex
	seq   map[string]int64
}

// NewSignalIDGenerator constructs a generator for the given run id.
func NewSignalIDGenerator(runID string) *SignalIDGenerator {
	return &SignalIDGenerator{runID: runID, seq: make(map[string]int64)}
}

// Next returns the next signal id for symbol and advances its sequence.
func (g *SignalIDGenerator) Next(symbol string, tsMs int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.seq[symbol]
	id := fmt.Sprintf("%s-%s-%d-%d", g.runID, symbol, tsMs, n)
	g.seq[symbol] = n + 1
	return id
}
