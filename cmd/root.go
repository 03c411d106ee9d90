// Package cmd defines the CLI commands for the scraper executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/config"
	"github.com/JakeFAU/site-scraper/internal/logging"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Queue-driven website scraping service.",
		Long: `scraper accepts domain scrape jobs over HTTP, crawls each site within
its depth and page limits, and extracts company metadata from the pages.
Job progress is streamed to log, Prometheus, Redis, Pub/Sub and websocket sinks.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars prefixed "+config.EnvPrefix+"_ override it)")

	load := func() (config.Config, *zap.Logger, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return config.Config{}, nil, err
		}
		if err := cfg.Validate(); err != nil {
			return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
		}
		logger, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		return cfg, logger, nil
	}

	cmd.AddCommand(newServeCmd(load), newMigrateCmd(load))
	return cmd
}

// loader resolves configuration and the process logger for a subcommand.
type loader func() (config.Config, *zap.Logger, error)

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
