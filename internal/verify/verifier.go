package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"marketsync/internal/model"
	"marketsync/internal/store"
	"marketsync/internal/syncer"
)

// Outcome classifies a verification request.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeNotFoundOrFailed Outcome = "not_found_or_failed"
	OutcomeActorMismatch    Outcome = "actor_mismatch"
)

// VerificationResult is the structured answer to "did X happen on the
// ledger". Record is set only for OutcomeConfirmed.
type VerificationResult struct {
	Outcome       Outcome               `json:"outcome"`
	Record        *model.PurchaseRecord `json:"record,omitempty"`
	Confirmations uint64                `json:"confirmations"`
}

// ReceiptSource is the slice of the ledger client the verifier needs.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// LogDecoder decodes receipt logs into ledger events.
type LogDecoder interface {
	CanDecode(topic0 common.Hash) bool
	DecodeLog(log types.Log, timestamp uint64) (*model.LedgerEvent, error)
}

// Verifier is the synchronous pull path: it fetches and validates a
// receipt for a claimed transaction, then routes the decoded event through
// the same apply entry point the subscription uses. Whichever path runs
// first creates the record; the other is a no-op, so push and pull can
// never disagree.
type Verifier struct {
	chain     ReceiptSource
	decoder   LogDecoder
	sink      syncer.EventSink
	purchases store.PurchaseStore
	logger    *zap.Logger
}

func NewVerifier(chain ReceiptSource, decoder LogDecoder, sink syncer.EventSink, purchases store.PurchaseStore, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		chain:     chain,
		decoder:   decoder,
		sink:      sink,
		purchases: purchases,
		logger:    logger,
	}
}

// Verify checks that txHash is a successful marketplace purchase made by
// claimedActor. Ledger unreachability propagates as an error; everything
// else comes back as a structured outcome.
func (v *Verifier) Verify(ctx context.Context, txHash, claimedActor string) (VerificationResult, error) {
	if !isTxHash(txHash) {
		return VerificationResult{}, model.Permanent(fmt.Errorf("invalid transaction hash: %q", txHash))
	}
	if claimedActor == "" {
		return VerificationResult{}, model.Permanent(fmt.Errorf("claimed actor is required"))
	}

	receipt, err := v.chain.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return VerificationResult{Outcome: OutcomeNotFoundOrFailed}, nil
		}
		return VerificationResult{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return VerificationResult{Outcome: OutcomeNotFoundOrFailed}, nil
	}

	event, err := v.findPurchaseByActor(ctx, receipt, claimedActor)
	if err != nil {
		return VerificationResult{}, err
	}
	if event == nil {
		v.logger.Info("verification actor mismatch",
			zap.String("tx_hash", txHash),
			zap.String("claimed_actor", claimedActor),
		)
		return VerificationResult{Outcome: OutcomeActorMismatch}, nil
	}

	if err := v.sink.Process(ctx, *event); err != nil {
		return VerificationResult{}, err
	}

	record, ok, err := v.purchases.GetPurchase(ctx, event.TxHash)
	if err != nil {
		return VerificationResult{}, model.Transient(err)
	}
	if !ok {
		return VerificationResult{}, fmt.Errorf("purchase %s missing after apply", event.TxHash)
	}

	confirmations, err := v.confirmations(ctx, receipt)
	if err != nil {
		return VerificationResult{}, err
	}
	record.Confirmations = confirmations

	return VerificationResult{
		Outcome:       OutcomeConfirmed,
		Record:        &record,
		Confirmations: confirmations,
	}, nil
}

func (v *Verifier) findPurchaseByActor(ctx context.Context, receipt *types.Receipt, claimedActor string) (*model.LedgerEvent, error) {
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || !v.decoder.CanDecode(lg.Topics[0]) {
			continue
		}

		ts, err := v.chain.BlockTimestamp(ctx, lg.BlockNumber)
		if err != nil {
			v.logger.Warn("block timestamp fetch failed",
				zap.Uint64("block_number", lg.BlockNumber),
				zap.Error(err),
			)
		}

		event, err := v.decoder.DecodeLog(*lg, ts)
		if err != nil {
			v.logger.Warn("receipt log decode failed",
				zap.String("tx_hash", lg.TxHash.Hex()),
				zap.Error(err),
			)
			continue
		}
		if event.Kind != model.EventItemPurchased {
			continue
		}
		if strings.EqualFold(event.Buyer, claimedActor) {
			return event, nil
		}
	}
	return nil, nil
}

func (v *Verifier) confirmations(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	latest, err := v.chain.LatestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	blockNumber := receipt.BlockNumber.Uint64()
	if latest <= blockNumber {
		return 0, nil
	}
	return latest - blockNumber, nil
}

func isTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
