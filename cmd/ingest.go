package main

import (
	"context"
	"encoding/json"
	"os"

	"fin-news/internal/database"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Poll the configured feeds once",
		Long: `Fetch every configured feed, store new articles as pending and print the
ingestion result as JSON. Feeds that fail are listed in feed_errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context())
		},
	}
}

func runIngest(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start")
		return err
	}
	defer a.Close()

	if err := database.Migrate(a.db, log); err != nil {
		return err
	}

	result, err := a.ingest.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Ingestion failed")
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
