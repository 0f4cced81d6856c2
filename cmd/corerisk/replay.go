package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/confighash"
	"github.com/alphacore/corerisk/internal/corealgo"
	"github.com/alphacore/corerisk/internal/decision"
	corelog "github.com/alphacore/corerisk/internal/log"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/persistence"
	"github.com/alphacore/corerisk/internal/regime"
)

// replayCmd feeds a JSONL file of feature rows through the CoreAlgorithm
// pipeline with replay semantics (now_ms=ts_ms, spec §4.9 step 1), so
// historical data never spuriously expires. Grounded on spec §3.6's
// "deterministic replay given the same inputs and config hash" contract.
func replayCmd(ctx context.Context) *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a JSONL feature-row file through the CoreAlgorithm pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" {
				return fmt.Errorf("--input is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if runID != "" {
				cfg.RunID = runID
			}

			log := corelog.Component("replay")

			hash, err := confighash.Calculate(cfg)
			if err != nil {
				return fmt.Errorf("calculate config hash: %w", err)
			}

			metricsReg := metrics.NewRegistry(cfg.Metrics.SampleBufferSize)
			metricsReg.MustRegisterOn(prometheus.NewRegistry())

			writer, err := persistence.NewWriter(cfg.Persistence, cfg.RunID, metricsReg)
			if err != nil {
				return fmt.Errorf("init persistence writer: %w", err)
			}
			defer writer.Close()

			decisionEngine := decision.NewEngine(cfg.Decision)
			regimeClassifier := regime.New(cfg.Regime)
			pipeline := corealgo.NewPipeline(cfg, corealgo.DefaultTuning(), decisionEngine, regimeClassifier, writer, metricsReg, hash)

			f, err := os.Open(inputPath)
			if err != nil {
				return fmt.Errorf("open input %s: %w", inputPath, err)
			}
			defer f.Close()

			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

			var processed, emitted int
			for scanner.Scan() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				var raw map[string]interface{}
				if err := json.Unmarshal(line, &raw); err != nil {
					log.Warn().Err(err).Msg("skipping malformed line")
					continue
				}
				row, err := parseFeatureRow(raw)
				if err != nil {
					log.Warn().Err(err).Msg("skipping invalid feature row")
					continue
				}
				processed++
				didEmit, err := pipeline.Process(row)
				if err != nil {
					log.Error().Err(err).Msg("pipeline process error")
					continue
				}
				if didEmit {
					emitted++
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("scan input: %w", err)
			}

			log.Info().Int("processed", processed).Int("emitted", emitted).Msg("replay complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "path to a JSONL feature-row file")
	return cmd
}

func parseFeatureRow(raw map[string]interface{}) (corealgo.FeatureRow, error) {
	tsMs, ok := asInt64(raw["ts_ms"])
	if !ok {
		return corealgo.FeatureRow{}, fmt.Errorf("missing or invalid ts_ms")
	}
	symbol, ok := raw["symbol"].(string)
	if !ok || symbol == "" {
		return corealgo.FeatureRow{}, fmt.Errorf("missing or invalid symbol")
	}

	row := corealgo.FeatureRow{
		TsMs:       tsMs,
		Symbol:     symbol,
		ZOfi:       asFloatPtr(raw["z_ofi"]),
		ZCvd:       asFloatPtr(raw["z_cvd"]),
		FusionScore: asFloatPtr(raw["fusion_score"]),
		SpreadBps:  asFloatOr0(raw["spread_bps"]),
		LagSec:     asFloatOr0(raw["lag_sec"]),
		Warmup:     asBool(raw["warmup"]),
		TradeRate:  asFloatPtr(raw["trade_rate"]),
		QuoteRate:  asFloatPtr(raw["quote_rate"]),
		RealizedVolBps: asFloatPtr(raw["realized_vol_bps"]),
		VolumeUSD:  asFloatPtr(raw["volume_usd"]),
	}
	if dt, ok := raw["div_type"].(string); ok {
		row.DivType = dt
	}
	if codes, ok := raw["reason_codes"].([]interface{}); ok {
		for _, c := range codes {
			if s, ok := c.(string); ok {
				row.ReasonCodes = append(row.ReasonCodes, s)
			}
		}
	}
	return row, nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func asFloatOr0(v interface{}) float64 {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return f
}

func asFloatPtr(v interface{}) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

func asBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
