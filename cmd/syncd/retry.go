package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketsync/internal/chain"
	"marketsync/internal/config"
	"marketsync/internal/market"
	"marketsync/internal/store/postgres"
	"marketsync/internal/syncer"
)

func newRetryCmd() *cobra.Command {
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Replay dead-lettered events once",
		RunE:  runRetry,
	}

	retryCmd.Flags().String("rpc", "", "ledger RPC URL (optional, for fee resolution)")
	retryCmd.Flags().String("contract", "", "marketplace contract address")
	retryCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	retryCmd.Flags().Duration("call-timeout", 15*time.Second, "per-RPC-call timeout")
	retryCmd.Flags().Uint32("fee-bps", 250, "platform fee fallback in basis points")
	retryCmd.Flags().Int("max-retries", 3, "in-process retry attempts per event")
	retryCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "base delay between retry attempts")
	retryCmd.Flags().Bool("include-exhausted", true, "also replay records past their retry budget")
	retryCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	return retryCmd
}

func runRetry(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRetry(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer st.Close()

	fees := market.FeeConfig{PlatformFeeBps: cfg.FeeBps}
	if cfg.RPCURL != "" && common.IsHexAddress(cfg.Contract) {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.CallTimeout)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		fees = market.ResolveFeeConfig(ctx, chainClient, common.HexToAddress(cfg.Contract), cfg.FeeBps, logger)
	}

	processor := syncer.NewProcessor(st, fees, logger)
	retrier := syncer.NewRetrier(syncer.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBackoff,
	}, processor, st, logger)

	healed, failed, err := retrier.ReplayFailed(ctx, cfg.IncludeExhausted)
	if err != nil {
		return err
	}

	logger.Info("replay complete",
		zap.Int("healed", healed),
		zap.Int("failed", failed),
		zap.Bool("include_exhausted", cfg.IncludeExhausted),
	)
	return nil
}
