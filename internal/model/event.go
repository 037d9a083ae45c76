package model

// EventKind identifies the marketplace contract event a LedgerEvent was
// decoded from.
type EventKind string

const (
	EventItemListed    EventKind = "ItemListed"
	EventItemPurchased EventKind = "ItemPurchased"
)

// Valid reports whether the kind is one the engine knows how to apply.
func (k EventKind) Valid() bool {
	switch k {
	case EventItemListed, EventItemPurchased:
		return true
	default:
		return false
	}
}

// LedgerEvent is the decoded representation of one on-chain occurrence.
// The transaction hash is the natural idempotency key (one purchase per
// transaction). Amounts are decimal strings to avoid floating-point error.
// Immutable once constructed.
type LedgerEvent struct {
	Kind           EventKind `json:"kind"`
	TxHash         string    `json:"tx_hash"`
	BlockNumber    uint64    `json:"block_number"`
	BlockHash      string    `json:"block_hash"`
	LogIndex       uint64    `json:"log_index"`
	ContractItemID string    `json:"contract_item_id"`
	Buyer          string    `json:"buyer,omitempty"`
	Seller         string    `json:"seller,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Timestamp      uint64    `json:"timestamp"`
}
