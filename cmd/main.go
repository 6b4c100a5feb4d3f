package main

import (
	"context"
	"fmt"
	"os"

	"fin-news/internal/config"
	"fin-news/internal/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fin-news",
		Short: "Extract structured events from financial news",
		Long: `fin-news polls financial news feeds, extracts structured events from
each article and serves the results over HTTP.

Examples:
  # Run the API with background ingestion and extraction
  fin-news serve

  # Process one batch of pending articles and print the summary
  fin-news process --limit 25

  # Poll the configured feeds once
  fin-news ingest`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}

// loadConfig reads .env, then the config file and environment
func loadConfig() (*config.Config, zerolog.Logger, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to read .env: %v\n", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Log), nil
}
