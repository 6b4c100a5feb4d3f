package main

import (
	"fin-news/internal/database"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.Database, log)
			if err != nil {
				return err
			}
			defer database.Close(db)

			log.Info().Msg("Running database migrations")
			return database.Migrate(db, log)
		},
	}
}
