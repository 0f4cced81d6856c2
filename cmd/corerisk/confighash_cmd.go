package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alphacore/corerisk/internal/config"
	"github.com/alphacore/corerisk/internal/confighash"
)

// configHashCmd prints the 12-hex-char SHA1 config fingerprint for a given
// config file, so operators can verify two deployments share rules before
// comparing their signal streams (spec §4.12).
func configHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-hash",
		Short: "Print the effective config hash for the given config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			hash, err := confighash.Calculate(cfg)
			if err != nil {
				return fmt.Errorf("calculate config hash: %w", err)
			}
			fmt.Println(hash)
			return nil
		},
	}
}
