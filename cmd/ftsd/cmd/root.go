// Package cmd provides the CLI commands for ftsd.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
)

var configPath string

// NewRootCmd creates the root command for the ftsd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ftsd",
		Short: "Full-text index mutation coordinator",
		Long: `ftsd owns a registry of full-text indexes and runs every mutation
against it: index lifecycle, documents, aliases, synonyms and rules.

Run 'ftsd serve' for a primary and 'ftsd replica' for a read-only
replica fed from the primary's replication topic.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReplicaCmd())
	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
