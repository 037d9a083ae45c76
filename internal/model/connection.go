package model

// ListenPhase is one step of the subscription state machine.
type ListenPhase string

const (
	PhaseDisconnected ListenPhase = "disconnected"
	PhaseConnecting   ListenPhase = "connecting"
	PhaseSubscribed   ListenPhase = "subscribed"
	// PhaseOffline is terminal: reconnect attempts are exhausted and an
	// operator restart is required.
	PhaseOffline ListenPhase = "offline"
)

// ConnectionState describes the health of the ledger subscription.
// Process-wide, not persisted. ReconnectAttempts resets to zero on every
// successful (re)subscription.
type ConnectionState struct {
	Phase             ListenPhase `json:"phase"`
	Listening         bool        `json:"listening"`
	ReconnectAttempts int         `json:"reconnect_attempts"`
	LastKnownBlock    uint64      `json:"last_known_block"`
}
