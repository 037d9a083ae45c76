package model

import "time"

// PurchaseStatus is the lifecycle state of a purchase record.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseConfirmed PurchaseStatus = "confirmed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// PurchaseRecord is the internal ledger-of-record for a confirmed
// acquisition. At most one record exists per transaction hash; the store
// enforces that, not the caller. Records are never deleted.
type PurchaseRecord struct {
	TxHash        string         `json:"tx_hash"`
	ItemID        string         `json:"item_id,omitempty"`
	Buyer         string         `json:"buyer"`
	Seller        string         `json:"seller"`
	Amount        string         `json:"amount"`
	PlatformFee   string         `json:"platform_fee"`
	SellerPayment string         `json:"seller_payment"`
	Status        PurchaseStatus `json:"status"`
	Confirmations uint64         `json:"confirmations"`
	AccessGranted bool           `json:"access_granted"`
	AccessCount   uint64         `json:"access_count"`
	VerifiedAt    time.Time      `json:"verified_at"`
}
