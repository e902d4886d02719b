package main

import (
	"context"
	"fmt"
	"time"

	"chatus/internal/storage"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// openStore connects to the database configured by the environment
func openStore(cmd *cobra.Command) (*storage.Store, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")

	logCfg := zap.NewDevelopmentConfig()
	if !verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	var cfg storage.Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}

	store, err := storage.New(cmd.Context(), logger.Sugar(), cfg.DSN(), storage.ConnectionTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return store, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), time.Minute)
}
