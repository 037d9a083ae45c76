package model

import "time"

// FailedEventRecord is a dead-letter entry for an event that exhausted its
// in-process retry budget. RetryCount never exceeds MaxRetries; once it
// reaches it, the record is excluded from automatic replay sweeps and only
// an operator-triggered retry touches it again.
type FailedEventRecord struct {
	Kind          EventKind   `json:"kind"`
	TxHash        string      `json:"tx_hash"`
	Event         LedgerEvent `json:"event"`
	LastError     string      `json:"last_error"`
	RetryCount    int         `json:"retry_count"`
	MaxRetries    int         `json:"max_retries"`
	FirstFailedAt time.Time   `json:"first_failed_at"`
}

// Exhausted reports whether the record is out of automatic retry budget.
func (r FailedEventRecord) Exhausted() bool {
	return r.RetryCount >= r.MaxRetries
}
