package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dlnIndexer/internal/config"
	"dlnIndexer/internal/price"
	"dlnIndexer/internal/processor"
	"dlnIndexer/internal/storage"
	"dlnIndexer/internal/storage/postgres"
)

func runProcess(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadProcessor(cfgFile, cmd.Flags())
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

	policy, err := processor.ParseZeroPricePolicy(cfg.ZeroPricePolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	serveMetrics(ctx, cfg.MetricsAddr, logger)

	prices := price.NewService(store, cfg.PriceAPIKey, logger,
		price.WithEndpoint(cfg.PriceEndpoint),
		price.WithTTL(cfg.PriceTTL),
		price.WithHTTPTimeout(cfg.PriceHTTPTimeout),
	)

	proc := processor.NewProcessor(processor.RunConfig{
		Owner:           cfg.InstanceName,
		BatchSize:       cfg.BatchSize,
		ActiveDelay:     cfg.ActiveDelay,
		ErrorDelay:      cfg.ErrorDelay,
		ReleaseTimeout:  cfg.ReleaseTimeout,
		ZeroPricePolicy: policy,
	}, store, prices, logger)

	logger.Info("processor start",
		zap.String("instance", cfg.InstanceName),
		zap.Int("batch_size", cfg.BatchSize),
		zap.String("price_endpoint", cfg.PriceEndpoint),
		zap.Duration("price_ttl", cfg.PriceTTL),
		zap.String("zero_price_policy", string(policy)),
	)

	if err := proc.Run(ctx); err != nil {
		if errors.Is(err, storage.ErrOwnerInUse) {
			return fmt.Errorf("%w: set a distinct --instance-name for each processor", err)
		}
		return err
	}
	return nil
}
