package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geoenrich",
	Short: "Geospatial enrichment for property transactions",
	Long:  "Links raw sale records to geocoded references, computes amenity proximity features and administrative areas, classifies prices into period tiers and merges auxiliary market data into one table.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
