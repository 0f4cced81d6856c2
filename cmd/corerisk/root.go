package main

import (
	"context"

	"github.com/spf13/cobra"

	corelog "github.com/alphacore/corerisk/internal/log"
)

var configPath string
var runID string
var logLevel string

// Execute builds and runs the corerisk root command, grounded on the
// teacher's cmd/cprotocol Execute(ctx) shape.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "corerisk",
		Short: "Pre-trade risk-gating and signal-decision core service",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults baked in if omitted)")
	root.PersistentFlags().StringVar(&runID, "run-id", "", "overrides RUN_ID for this invocation")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "zerolog level: trace,debug,info,warn,error")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		corelog.Init(logLevel, runID)
	}

	root.AddCommand(serveCmd(ctx))
	root.AddCommand(replayCmd(ctx))
	root.AddCommand(configHashCmd())

	return root.ExecuteContext(ctx)
}
