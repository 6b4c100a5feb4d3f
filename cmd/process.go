package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newProcessCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one batch of pending articles",
		Long: `Run the extraction pipeline once over up to --limit pending articles and
print the run summary as JSON. An interrupt stops dispatching new articles;
articles already in flight still finish and commit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum articles to process (default from config: 10)")
	return cmd
}

func runProcess(ctx context.Context, limit int) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = cfg.Worker.BatchSize
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start")
		return err
	}
	defer a.Close()

	summary, err := a.coordinator.Run(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("Extraction run failed")
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
