package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shayan-deriv/multi-touch-attribution/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mta",
	Short: "Visitor journey recorder and attribution collector",
	Long:  "Records marketing attribution for visitor journeys, serves the collector API that stores and fans out delivered events, and replays scripted sessions for testing funnels.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
