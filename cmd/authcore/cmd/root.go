package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "authcore",
	Short: "Operate an authcore credential store",
	Long: `Administrative commands for an authcore deployment: schema migration,
expired-record purging, registry bootstrap and permission checks.

Configuration is read from --config and AUTHCORE_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
}

// openEngine loads configuration and connects the configured backend. The
// returned cleanup closes the engine and flushes the logger.
func openEngine(ctx context.Context) (*authcore.Engine, *zap.Logger, func(), error) {
	cfg, err := authcore.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(logging.Config(cfg.Log))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build logger: %w", err)
	}
	engine, err := authcore.Open(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := engine.Close(); err != nil {
			log.Warn("close engine", zap.Error(err))
		}
		_ = log.Sync()
	}
	return engine, log, cleanup, nil
}
