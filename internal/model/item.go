package model

// ListingStatus is the chain-side listing state embedded on an item.
// The status only moves forward (unlisted -> pending -> confirmed) except
// for an explicit operator reset from failed back to pending.
type ListingStatus string

const (
	ListingUnlisted  ListingStatus = "unlisted"
	ListingPending   ListingStatus = "pending"
	ListingConfirmed ListingStatus = "confirmed"
	ListingFailed    ListingStatus = "failed"
)

// ItemChainState is the blockchain sub-state embedded on an item record.
type ItemChainState struct {
	ContractID    string        `json:"contract_id,omitempty"`
	Status        ListingStatus `json:"status"`
	PendingTxHash string        `json:"pending_tx_hash,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// Item is the slice of an item record the sync engine touches.
type Item struct {
	ID         string         `json:"id"`
	ChainState ItemChainState `json:"chain_state"`
	SoldCount  uint64         `json:"sold_count"`
}
