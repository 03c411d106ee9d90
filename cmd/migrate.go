package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-scraper/internal/config"
	"github.com/JakeFAU/site-scraper/internal/storage/postgres"
)

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Storage.Provider != config.ProviderPostgres {
				return errors.New("migrate requires storage.provider=postgres")
			}

			ctx := contextOrBackground(cmd.Context())
			store, err := postgres.NewJobStore(ctx, cfg.Storage.Postgres)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema migrated")
			return nil
		},
	}
}
