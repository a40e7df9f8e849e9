package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dlnIndexer/internal/config"
	"dlnIndexer/internal/metrics"
)

func main() {
	root := &cobra.Command{
		Use:          "dlnindexer",
		Short:        "DLN order indexer for Solana",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Capture new program transactions as tasks",
		RunE:  runPoll,
	}
	addPollerFlags(pollCmd.Flags())
	root.AddCommand(pollCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Walk a program's history backwards from its checkpoint",
		RunE:  runBackfill,
	}
	addPollerFlags(backfillCmd.Flags())
	backfillCmd.Flags().Int("count", 1000, "number of tasks to capture")
	backfillCmd.Flags().String("side", "", "contract side (SOURCE or DESTINATION)")
	_ = backfillCmd.MarkFlagRequired("side")
	root.AddCommand(backfillCmd)

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Process captured tasks into order logs",
		RunE:  runProcess,
	}

	processCmd.Flags().String("database-url", "", "Postgres connection string")
	processCmd.Flags().Int("batch-size", 10, "tasks claimed per iteration")
	processCmd.Flags().Duration("active-delay", 5*time.Second, "delay when the queue is empty")
	processCmd.Flags().Duration("error-delay", 5*time.Second, "delay after a failed iteration")
	processCmd.Flags().String("price-endpoint", "https://api.jup.ag/price/v3", "price API endpoint")
	processCmd.Flags().String("price-api-key", "", "price API key")
	processCmd.Flags().Duration("price-ttl", 15*time.Minute, "cached price lifetime")
	processCmd.Flags().Duration("price-http-timeout", 0, "price request timeout, 0 means none")
	processCmd.Flags().String("zero-price-policy", "record", "zero price handling (record or fail)")
	processCmd.Flags().String("instance-name", "", "worker identity, unique per running processor, defaults to hostname")
	processCmd.Flags().Duration("release-timeout", 10*time.Second, "time allowed to release tasks on shutdown")
	processCmd.Flags().String("metrics-addr", "", "metrics listen address, empty disables")
	processCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(processCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("database-url", "", "Postgres connection string")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPollerFlags(flags *pflag.FlagSet) {
	flags.String("database-url", "", "Postgres connection string")
	flags.String("rpc", "", "Solana RPC URL")
	flags.String("source-program", config.DefaultSourceProgram, "source program address")
	flags.String("destination-program", config.DefaultDestinationProgram, "destination program address")
	flags.Int("page-limit", 100, "signatures per page")
	flags.Int("max-pages", 10, "signature pages processed per polling iteration")
	flags.Duration("idle-delay", 5*time.Second, "delay when nothing new was found")
	flags.Duration("active-delay", 5*time.Second, "delay between productive iterations")
	flags.Duration("error-delay", 5*time.Second, "delay after a failed iteration")
	flags.Duration("save-timeout", 10*time.Second, "task save transaction timeout")
	flags.Int("max-retries", 5, "maximum retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("metrics-addr", "", "metrics listen address, empty disables")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	go func() {
		if err := metrics.Serve(ctx, addr, logger); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
