package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/confighash"
	"github.com/alphacore/corerisk/internal/corealgo"
	"github.com/alphacore/corerisk/internal/decision"
	httpserver "github.com/alphacore/corerisk/internal/interfaces/http"
	corelog "github.com/alphacore/corerisk/internal/log"
	"github.com/alphacore/corerisk/internal/metrics"
	"github.com/alphacore/corerisk/internal/persistence"
	"github.com/alphacore/corerisk/internal/regime"
	"github.com/alphacore/corerisk/internal/risk/injector"
	"github.com/alphacore/corerisk/internal/risk/shadow"
)

// serveCmd wires every C1-C13 component together and runs the ambient HTTP
// surface until the context is cancelled (SIGINT/SIGTERM). There is no
// built-in network feature-row ingest in this core (spec §1: out of scope);
// serve exists to host /metrics, /healthz, /readyz and the long-lived
// in-process components that a feature-row producer would call into.
func serveCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the core service: HTTP exposition, risk manager, decision engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if runID != "" {
				cfg.RunID = runID
			}

			log := corelog.Component("serve")

			hash, err := confighash.Calculate(cfg)
			if err != nil {
				return fmt.Errorf("calculate config hash: %w", err)
			}
			log.Info().Str("config_hash", hash).Str("run_id", cfg.RunID).
				Str("rules_ver", cfg.RulesVer).Str("features_ver", cfg.FeaturesVer).
				Msg("effective config")

			metricsReg := metrics.NewRegistry(cfg.Metrics.SampleBufferSize)
			promReg := prometheus.NewRegistry()
			metricsReg.MustRegisterOn(promReg)

			writer, err := persistence.NewWriter(cfg.Persistence, cfg.RunID, metricsReg)
			if err != nil {
				return fmt.Errorf("init persistence writer: %w", err)
			}
			defer writer.Close()

			shadowCmp := shadow.New(cfg.Risk.Shadow, cfg.Persistence.OutputDir, metricsReg)
			riskInjector := injector.New(cfg.Risk, metricsReg, shadowCmp)

			decisionEngine := decision.NewEngine(cfg.Decision)
			regimeClassifier := regime.New(cfg.Regime)

			tuning := corealgo.DefaultTuning()
			pipeline := corealgo.NewPipeline(cfg, tuning, decisionEngine, regimeClassifier, writer, metricsReg, hash)
			_ = pipeline // exercised by feature-row producers calling Process/RecordExit
			_ = riskInjector // exercised by OrderContext producers calling Current().PreOrderCheck

			httpCfg := httpserver.Config{
				Host:               cfg.HTTP.Host,
				Port:               cfg.HTTP.Port,
				RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
				ReadTimeout:        httpserver.DefaultConfig().ReadTimeout,
				WriteTimeout:       httpserver.DefaultConfig().WriteTimeout,
				IdleTimeout:        httpserver.DefaultConfig().IdleTimeout,
			}
			srv, err := httpserver.NewServer(httpCfg, promReg, func() (bool, string) {
				return riskInjector.Current() != nil, "risk manager not constructed"
			})
			if err != nil {
				return fmt.Errorf("init http server: %w", err)
			}

			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Start() }()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
				return srv.Shutdown(context.Background())
			case err := <-serveErr:
				return err
			}
		},
	}
}
