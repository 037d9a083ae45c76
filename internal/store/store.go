package store

import (
	"context"

	"marketsync/internal/model"
)

// UpsertOutcome reports whether InsertPurchaseIfAbsent created a new
// record; Record always holds the row that is durable afterwards.
type UpsertOutcome struct {
	Created bool
	Record  model.PurchaseRecord
}

// PurchaseStore persists purchase records keyed by transaction hash.
// Implementations must enforce the one-record-per-hash invariant
// atomically, not with a read-then-write.
type PurchaseStore interface {
	InsertPurchaseIfAbsent(ctx context.Context, record model.PurchaseRecord) (UpsertOutcome, error)
	GetPurchase(ctx context.Context, txHash string) (model.PurchaseRecord, bool, error)
}

// ItemStore mutates the blockchain sub-state embedded on item records.
type ItemStore interface {
	// ResolveItemByContractID maps a contract item id to a local item id.
	ResolveItemByContractID(ctx context.Context, contractID string) (string, bool, error)
	// ConfirmItemListing flips the item whose pending tx hash or contract
	// id matches to confirmed. Returns false when nothing was updated.
	ConfirmItemListing(ctx context.Context, txHash, contractID string) (bool, error)
	// RecordItemSold bumps the sold counter after a confirmed purchase.
	RecordItemSold(ctx context.Context, itemID string) error
}

// FailedEventStore is the durable dead-letter log, keyed by transaction
// hash plus event kind.
type FailedEventStore interface {
	AppendFailedEvent(ctx context.Context, record model.FailedEventRecord) error
	// ListFailedEvents returns records ordered by first failure. With
	// includeExhausted false, records at their retry budget are skipped.
	ListFailedEvents(ctx context.Context, includeExhausted bool) ([]model.FailedEventRecord, error)
	// IncrementFailedRetry atomically bumps retry_count (never past
	// max_retries) and records the latest error.
	IncrementFailedRetry(ctx context.Context, txHash string, kind model.EventKind, lastError string) error
	RemoveFailedEvent(ctx context.Context, txHash string, kind model.EventKind) error
	ClearFailedEvents(ctx context.Context) (int, error)
	CountFailedEvents(ctx context.Context) (total int, exhausted int, err error)
}

// Store is the full persistence surface shared by the subscription path,
// the verification path, and the admin triggers.
type Store interface {
	PurchaseStore
	ItemStore
	FailedEventStore
}
