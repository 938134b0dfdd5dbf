package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imovelink/broker-contacts/internal/model"
	"github.com/imovelink/broker-contacts/internal/pipeline"
	"github.com/imovelink/broker-contacts/internal/sink"
	"github.com/imovelink/broker-contacts/pkg/broker"
)

var (
	scrapeStreet string
	scrapeCityID int
	scrapeStart  int
	scrapeEnd    int
	scrapeStep   int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape mobile contacts for the configured street targets",
	Long:  "Runs the search/contact-info/decrypt pipeline over each configured target range and streams accepted contacts to a timestamped CSV. Ctrl-C stops cleanly; rows already written stay on disk.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.API.Token == "" {
			return eris.New("broker API token is required (BROKER_API_TOKEN or api.token in config.yaml)")
		}

		targets := cfg.Targets
		if scrapeStreet != "" {
			targets = []model.TargetRange{{
				Street: scrapeStreet,
				CityID: scrapeCityID,
				Start:  scrapeStart,
				End:    scrapeEnd,
				Step:   scrapeStep,
			}}
		}
		if len(targets) == 0 {
			return eris.New("no targets: configure targets in config.yaml or pass --street")
		}

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		client := broker.NewClient(cfg.API.Token,
			broker.WithBaseURL(cfg.API.BaseURL),
			broker.WithRateLimit(cfg.API.RateLimitRPS),
		)
		snk := sink.New(cfg.Output.Dir)
		eng := pipeline.NewEngine(client, snk, st, pipeline.NewDelayPolicy(cfg.Delays), cfg.Scrape)

		result, runErr := eng.Run(ctx, targets)

		zap.L().Info("scrape summary",
			zap.Int("raw_contacts", result.Raw),
			zap.Int("accepted_contacts", result.Accepted),
			zap.Int("targets_processed", len(result.Targets)),
			zap.String("output_file", result.OutputFile),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return eris.Wrap(err, "encode result")
		}

		// An operator interrupt is a clean shutdown, not a failure; rows
		// already flushed remain valid.
		if errors.Is(runErr, context.Canceled) {
			zap.L().Warn("scrape interrupted, keeping partial results")
			return nil
		}
		return runErr
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeStreet, "street", "", "scrape a single street instead of the configured targets")
	scrapeCmd.Flags().IntVar(&scrapeCityID, "city-id", 0, "city id for --street")
	scrapeCmd.Flags().IntVar(&scrapeStart, "start", 0, "first street number for --street")
	scrapeCmd.Flags().IntVar(&scrapeEnd, "end", 0, "last street number for --street")
	scrapeCmd.Flags().IntVar(&scrapeStep, "step", 0, "sub-range width for --street (default from config)")
	rootCmd.AddCommand(scrapeCmd)
}
