package market

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ChainCaller is the eth_call slice needed to read contract configuration.
type ChainCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FeeConfig is the platform fee split applied to purchases. Resolved once
// at startup; the engine never probes the contract at event time.
type FeeConfig struct {
	PlatformFeeBps uint32
}

// ResolveFeeConfig reads platformFeeBps from the contract, falling back to
// the configured value when the call fails or the node lacks the method.
func ResolveFeeConfig(ctx context.Context, caller ChainCaller, contract common.Address, fallbackBps uint32, logger *zap.Logger) FeeConfig {
	if logger == nil {
		logger = zap.NewNop()
	}

	bps, err := fetchPlatformFeeBps(ctx, caller, contract)
	if err != nil {
		logger.Warn("platform fee fetch failed, using fallback",
			zap.String("contract", contract.Hex()),
			zap.Uint32("fallback_bps", fallbackBps),
			zap.Error(err),
		)
		return FeeConfig{PlatformFeeBps: fallbackBps}
	}

	logger.Info("platform fee resolved", zap.Uint32("fee_bps", bps))
	return FeeConfig{PlatformFeeBps: bps}
}

func fetchPlatformFeeBps(ctx context.Context, caller ChainCaller, contract common.Address) (uint32, error) {
	if caller == nil {
		return 0, fmt.Errorf("chain caller is nil")
	}

	marketABI, err := MarketplaceABI()
	if err != nil {
		return 0, fmt.Errorf("parse marketplace abi: %w", err)
	}

	data, err := marketABI.Pack("platformFeeBps")
	if err != nil {
		return 0, fmt.Errorf("pack platformFeeBps: %w", err)
	}

	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call platformFeeBps: %w", err)
	}

	values, err := marketABI.Unpack("platformFeeBps", resp)
	if err != nil {
		return 0, fmt.Errorf("unpack platformFeeBps: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("unexpected platformFeeBps values: %d", len(values))
	}
	bps, err := asBigInt(values[0])
	if err != nil {
		return 0, err
	}
	if !bps.IsUint64() || bps.Uint64() > 10000 {
		return 0, fmt.Errorf("platform fee out of range: %s", bps)
	}

	return uint32(bps.Uint64()), nil
}

// SplitAmount divides a decimal amount into the platform fee and the
// seller payment. Amounts stay decimal strings end to end.
func SplitAmount(amount string, feeBps uint32) (fee string, sellerPayment string, err error) {
	value, ok := new(big.Rat).SetString(amount)
	if !ok || value.Sign() < 0 {
		return "", "", fmt.Errorf("invalid amount: %q", amount)
	}
	if feeBps > 10000 {
		return "", "", fmt.Errorf("fee bps out of range: %d", feeBps)
	}

	feeRat := new(big.Rat).Mul(value, big.NewRat(int64(feeBps), 10000))
	sellerRat := new(big.Rat).Sub(value, feeRat)

	return formatRat(feeRat), formatRat(sellerRat), nil
}

func formatRat(v *big.Rat) string {
	if v.IsInt() {
		return v.Num().String()
	}
	out := strings.TrimRight(v.FloatString(18), "0")
	return strings.TrimRight(out, ".")
}
