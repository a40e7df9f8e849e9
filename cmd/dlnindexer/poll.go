package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dlnIndexer/internal/chain"
	"dlnIndexer/internal/config"
	"dlnIndexer/internal/indexer"
	"dlnIndexer/internal/model"
	"dlnIndexer/internal/storage/postgres"
)

func runPoll(cmd *cobra.Command, _ []string) error {
	return withPoller(cmd, func(ctx context.Context, poller *indexer.Poller, _ *zap.Logger) error {
		return poller.Run(ctx)
	})
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	count, _ := cmd.Flags().GetInt("count")
	if count <= 0 {
		return fmt.Errorf("count must be greater than zero")
	}
	sideFlag, _ := cmd.Flags().GetString("side")
	side, err := model.ParseContractType(sideFlag)
	if err != nil {
		return err
	}

	return withPoller(cmd, func(ctx context.Context, poller *indexer.Poller, logger *zap.Logger) error {
		saved, err := poller.ColdStart(ctx, count, side)
		logger.Info("backfill finished",
			zap.String("contract_type", string(side)),
			zap.Int("saved", saved),
			zap.Int("requested", count),
		)
		return err
	})
}

func withPoller(cmd *cobra.Command, run func(context.Context, *indexer.Poller, *zap.Logger) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPoller(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	programs, err := indexer.ParsePrograms(cfg.SourceProgram, cfg.DestinationProgram)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL, postgres.WithSaveTimeout(cfg.SaveTimeout))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	serveMetrics(ctx, cfg.MetricsAddr, logger)

	poller := indexer.NewPoller(indexer.RunConfig{
		Programs:     programs,
		PageLimit:    cfg.PageLimit,
		MaxPages:     cfg.MaxPages,
		IdleDelay:    cfg.IdleDelay,
		ActiveDelay:  cfg.ActiveDelay,
		ErrorDelay:   cfg.ErrorDelay,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, store, logger)

	logger.Info("poller start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("source_program", cfg.SourceProgram),
		zap.String("destination_program", cfg.DestinationProgram),
		zap.Int("page_limit", cfg.PageLimit),
		zap.Duration("save_timeout", cfg.SaveTimeout),
	)

	return run(ctx, poller, logger)
}
