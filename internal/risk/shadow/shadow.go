// Package shadow implements C8: parallel legacy-verdict comparison, parity
// tracking and alert-level publication, grounded on the original's
// shadow.py ShadowComparator. Missing legacy verdicts count as parity, not
// disagreement, matching the original exactly.
package shadow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/metrics"
)

// ComparisonRecord is one line of risk_shadow.jsonl (spec §4.8).
type ComparisonRecord struct {
	TsMs          int64    `json:"ts_ms"`
	Symbol        string   `json:"symbol"`
	Side          string   `json:"side"`
	InlinePassed  bool     `json:"inline_passed"`
	LegacyPassed  *bool    `json:"legacy_passed"`
	Parity        bool     `json:"parity"`
	InlineReasons []string `json:"inline_reasons"`
	LegacyReasons []string `json:"legacy_reasons"`
}

// Comparator compares inline risk decisions to an external legacy verdict.
type Comparator struct {
	enabled            bool
	parityThreshold    float64
	criticalMultiplier float64
	outputPath         string
	metrics            *metrics.Registry

	mu           sync.Mutex
	totalChecks  int64
	parityCount  int64
	alertLevel   string
}

// New builds a Comparator writing to <outputDir>/risk_shadow.jsonl.
func New(cfg config.ShadowConfig, outputDir string, metricsReg *metrics.Registry) *Comparator {
	return &Comparator{
		enabled:            cfg.Enabled,
		parityThreshold:    cfg.ParityThreshold,
		criticalMultiplier: cfg.CriticalMultiplier,
		outputPath:         filepath.Join(outputDir, "risk_shadow.jsonl"),
		metrics:            metricsReg,
		alertLevel:         "ok",
	}
}

// Compare records one shadow comparison. legacyPassed==nil means the legacy
// verdict was unavailable; per spec §4.8 this is logged and treated as
// parity, never disagreement.
func (c *Comparator) Compare(tsMs int64, symbol, side string, inlinePassed bool, inlineReasons []string, legacyPassed *bool, legacyReasons []string) ComparisonRecord {
	if !c.enabled {
		return ComparisonRecord{Parity: true}
	}

	c.mu.Lock()
	c.totalChecks++
	parity := true
	if legacyPassed != nil {
		parity = inlinePassed == *legacyPassed
	}
	if parity {
		c.parityCount++
	}
	ratio := float64(c.parityCount) / float64(c.totalChecks)
	c.mu.Unlock()

	rec := ComparisonRecord{
		TsMs:          tsMs,
		Symbol:        symbol,
		Side:          side,
		InlinePassed:  inlinePassed,
		LegacyPassed:  legacyPassed,
		Parity:        parity,
		InlineReasons: inlineReasons,
		LegacyReasons: legacyReasons,
	}
	c.appendRecord(rec)

	if c.metrics != nil {
		c.metrics.SetShadowParity(ratio)
	}
	c.updateAlert(ratio)

	return rec
}

func (c *Comparator) appendRecord(rec ComparisonRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(c.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(data, '\n'))
}

// updateAlert applies ratio>=threshold -> ok; ratio<threshold -> warn;
// ratio<threshold*criticalMultiplier -> critical (spec §4.8).
func (c *Comparator) updateAlert(ratio float64) {
	c.mu.Lock()
	level := "ok"
	if ratio < c.parityThreshold*c.criticalMultiplier {
		level = "critical"
	} else if ratio < c.parityThreshold {
		level = "warn"
	}
	c.alertLevel = level
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetShadowAlert(level)
	}
}

// ParityRatio returns the current cumulative parity ratio.
func (c *Comparator) ParityRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalChecks == 0 {
		return 1.0
	}
	return float64(c.parityCount) / float64(c.totalChecks)
}

// AlertLevel returns the currently active alert level.
func (c *Comparator) AlertLevel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alertLevel
}

// Summary mirrors the original's generate_summary() for operational reports.
type Summary struct {
	TotalChecks int64   `json:"total_checks"`
	ParityCount int64   `json:"parity_count"`
	DiffCount   int64   `json:"diff_count"`
	ParityRatio float64 `json:"parity_ratio"`
}

// GenerateSummary returns the cumulative comparison summary.
func (c *Comparator) GenerateSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		TotalChecks: c.totalChecks,
		ParityCount: c.parityCount,
		DiffCount:   c.totalChecks - c.parityCount,
		ParityRatio: func() float64 {
			if c.totalChecks == 0 {
				return 1.0
			}
			return float64(c.parityCount) / float64(c.totalChecks)
		}(),
	}
}
