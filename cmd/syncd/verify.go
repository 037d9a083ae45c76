package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"marketsync/internal/chain"
	"marketsync/internal/config"
	"marketsync/internal/market"
	"marketsync/internal/syncer"
	"marketsync/internal/verify"
)

func newVerifyCmd() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a claimed purchase transaction against the ledger",
		RunE:  runVerify,
	}

	verifyCmd.Flags().String("rpc", "", "ledger RPC URL")
	verifyCmd.Flags().String("contract", "", "marketplace contract address")
	verifyCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	verifyCmd.Flags().String("store", "postgres", "record store backend (postgres, memory)")
	verifyCmd.Flags().Duration("call-timeout", 15*time.Second, "per-RPC-call timeout")
	verifyCmd.Flags().Uint32("fee-bps", 250, "platform fee fallback in basis points")
	verifyCmd.Flags().String("tx", "", "transaction hash to verify")
	verifyCmd.Flags().String("actor", "", "claimed buyer address")
	verifyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	return verifyCmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadVerify(cfgFile, cmd.Flags())
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
	if cfg.Tx == "" || cfg.Actor == "" {
		return fmt.Errorf("tx and actor are required")
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
	retrier := syncer.NewRetrier(syncer.RetryPolicy{}, processor, st, logger)
	verifier := verify.NewVerifier(chainClient, decoder, retrier, st, logger)

	result, err := verifier.Verify(ctx, cfg.Tx, cfg.Actor)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
