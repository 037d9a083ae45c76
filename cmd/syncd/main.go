package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketsync/internal/api"
	"marketsync/internal/chain"
	"marketsync/internal/config"
	"marketsync/internal/market"
	"marketsync/internal/store"
	"marketsync/internal/store/postgres"
	"marketsync/internal/syncer"
	"marketsync/internal/verify"
)

func main() {
	root := &cobra.Command{
		Use:          "syncd",
		Short:        "Marketplace ledger sync daemon",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the event listener and admin API",
		RunE:  runDaemon,
	}

	runCmd.Flags().String("rpc", "", "ledger RPC URL (websocket for subscriptions)")
	runCmd.Flags().String("contract", "", "marketplace contract address")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("store", "postgres", "record store backend (postgres, memory)")
	runCmd.Flags().String("http-addr", ":8080", "admin API listen address")
	runCmd.Flags().Int("max-retries", 3, "in-process retry attempts per event")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "base delay between retry attempts")
	runCmd.Flags().Int("max-reconnect-attempts", 10, "reconnect attempts before going offline")
	runCmd.Flags().Duration("reconnect-backoff", 10*time.Second, "base reconnect delay")
	runCmd.Flags().Duration("reconnect-backoff-cap", 2*time.Minute, "maximum reconnect delay")
	runCmd.Flags().Duration("call-timeout", 15*time.Second, "per-RPC-call timeout")
	runCmd.Flags().Int("workers", 4, "event processing workers")
	runCmd.Flags().Int("queue-size", 256, "per-worker event queue size")
	runCmd.Flags().Uint32("fee-bps", 250, "platform fee fallback in basis points")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newRetryCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return fmt.Errorf("valid contract address is required")
	}
	contract := common.HexToAddress(cfg.Contract)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.CallTimeout)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	st, closeStore, err := openStore(ctx, cfg.StoreKind, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer closeStore()

	decoder, err := market.NewEventDecoder()
	if err != nil {
		return err
	}

	fees := market.ResolveFeeConfig(ctx, chainClient, contract, cfg.FeeBps, logger)

	processor := syncer.NewProcessor(st, fees, logger)
	retrier := syncer.NewRetrier(syncer.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBackoff,
	}, processor, st, logger)

	// Events stuck from a previous run get one automatic chance before
	// live delivery starts.
	if healed, failed, err := retrier.ReplayFailed(ctx, false); err != nil {
		logger.Warn("startup dead-letter sweep failed", zap.Error(err))
	} else if healed+failed > 0 {
		logger.Info("startup dead-letter sweep", zap.Int("healed", healed), zap.Int("failed", failed))
	}

	listener := syncer.NewListener(syncer.ListenerConfig{
		Contract:             contract,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.ReconnectBackoff,
		ReconnectBackoffCap:  cfg.ReconnectBackoffCap,
		Workers:              cfg.Workers,
		QueueSize:            cfg.QueueSize,
	}, chainClient, decoder, retrier, logger)

	reporter := syncer.NewStatusReporter(listener, st)
	verifier := verify.NewVerifier(chainClient, decoder, retrier, st, logger)
	apiServer := api.NewServer(reporter, verifier, retrier, st, logger)

	logger.Info("syncd start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", contract.Hex()),
		zap.String("store", cfg.StoreKind),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("workers", cfg.Workers),
	)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- apiServer.ListenAndServe(ctx, cfg.HTTPAddr)
	}()

	runErr := listener.Run(ctx)
	stop()

	if err := <-httpErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("admin api shutdown", zap.Error(err))
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func openStore(ctx context.Context, kind, dsn string) (store.Store, func(), error) {
	switch kind {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "postgres":
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %q", kind)
	}
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
