package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imovelink/broker-contacts/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "broker-contacts",
	Short: "Mobile-contact extraction from the broker residents API",
	Long:  "Searches street-number ranges for residents, fetches and decrypts their contact payloads, and appends validated, deduplicated mobile contacts to a CSV as it goes.",
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
