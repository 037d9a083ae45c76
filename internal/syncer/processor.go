package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/market"
	"marketsync/internal/model"
	"marketsync/internal/store"
)

// Applier is the single entry point for applying a ledger event. Both the
// subscription path and the pull verification path funnel through it, so
// whichever arrives first wins and the other is a no-op.
type Applier interface {
	Apply(ctx context.Context, event model.LedgerEvent) error
}

// Processor maps decoded ledger events onto domain mutations. Applying the
// same event any number of times converges to the state of a single
// application; the store's uniqueness guarantee carries that property
// across concurrent deliveries.
type Processor struct {
	store  store.Store
	fees   market.FeeConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewProcessor(st store.Store, fees market.FeeConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:  st,
		fees:   fees,
		logger: logger,
		now:    time.Now,
	}
}

// Apply validates the event and persists its domain mutation. Validation
// failures come back as PermanentError, store failures as TransientError.
func (p *Processor) Apply(ctx context.Context, event model.LedgerEvent) error {
	if err := validateEvent(event); err != nil {
		return model.Permanent(err)
	}

	switch event.Kind {
	case model.EventItemPurchased:
		return p.applyPurchase(ctx, event)
	case model.EventItemListed:
		return p.applyListing(ctx, event)
	default:
		return model.Permanent(fmt.Errorf("unknown event kind: %s", event.Kind))
	}
}

func (p *Processor) applyPurchase(ctx context.Context, event model.LedgerEvent) error {
	fee, sellerPayment, err := market.SplitAmount(event.Amount, p.fees.PlatformFeeBps)
	if err != nil {
		return model.Permanent(err)
	}

	// A purchase may land before its listing confirmation settles, or
	// reference an item this process never saw. The ledger fact is kept
	// either way; the item reference just stays null.
	itemID, resolved, err := p.store.ResolveItemByContractID(ctx, event.ContractItemID)
	if err != nil {
		return model.Transient(err)
	}
	if !resolved {
		p.logger.Warn("purchase references unresolved item",
			zap.String("tx_hash", event.TxHash),
			zap.String("contract_item_id", event.ContractItemID),
		)
	}

	record := model.PurchaseRecord{
		TxHash:        event.TxHash,
		ItemID:        itemID,
		Buyer:         event.Buyer,
		Seller:        event.Seller,
		Amount:        event.Amount,
		PlatformFee:   fee,
		SellerPayment: sellerPayment,
		Status:        model.PurchaseConfirmed,
		AccessGranted: true,
		VerifiedAt:    p.now().UTC(),
	}

	outcome, err := p.store.InsertPurchaseIfAbsent(ctx, record)
	if err != nil {
		return model.Transient(err)
	}
	if !outcome.Created {
		p.logger.Debug("purchase already recorded",
			zap.String("tx_hash", event.TxHash),
			zap.String("status", string(outcome.Record.Status)),
		)
		return nil
	}

	p.logger.Info("purchase recorded",
		zap.String("tx_hash", event.TxHash),
		zap.String("item_id", itemID),
		zap.String("buyer", event.Buyer),
		zap.String("amount", event.Amount),
	)

	// The purchase record is durable at this point; the sold counter is
	// best effort and only bumped on first application.
	if resolved {
		if err := p.store.RecordItemSold(ctx, itemID); err != nil {
			p.logger.Warn("sold counter update failed",
				zap.String("item_id", itemID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (p *Processor) applyListing(ctx context.Context, event model.LedgerEvent) error {
	updated, err := p.store.ConfirmItemListing(ctx, event.TxHash, event.ContractItemID)
	if err != nil {
		return model.Transient(err)
	}
	if updated {
		p.logger.Info("listing confirmed",
			zap.String("tx_hash", event.TxHash),
			zap.String("contract_item_id", event.ContractItemID),
		)
		return nil
	}

	// Nothing moved: either the listing was confirmed already (redelivery)
	// or no local item matches. Both are no-ops.
	if _, resolved, err := p.store.ResolveItemByContractID(ctx, event.ContractItemID); err != nil {
		return model.Transient(err)
	} else if !resolved {
		p.logger.Warn("listing event matches no local item",
			zap.String("tx_hash", event.TxHash),
			zap.String("contract_item_id", event.ContractItemID),
		)
	}
	return nil
}

func validateEvent(event model.LedgerEvent) error {
	if event.TxHash == "" {
		return fmt.Errorf("event missing tx hash")
	}
	if !event.Kind.Valid() {
		return fmt.Errorf("unknown event kind: %q", event.Kind)
	}
	switch event.Kind {
	case model.EventItemPurchased:
		if event.Buyer == "" {
			return fmt.Errorf("purchase event missing buyer")
		}
		if event.Amount == "" {
			return fmt.Errorf("purchase event missing amount")
		}
	case model.EventItemListed:
		if event.ContractItemID == "" {
			return fmt.Errorf("listing event missing contract item id")
		}
	}
	return nil
}
