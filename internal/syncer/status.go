package syncer

import (
	"context"

	"marketsync/internal/model"
	"marketsync/internal/store"
)

// StateSource exposes the current connection state.
type StateSource interface {
	State() model.ConnectionState
}

// Status is the operator-facing view of the engine: connection health plus
// dead-letter queue depth, enough to spot a stuck queue before it costs
// data.
type Status struct {
	Listening             bool              `json:"listening"`
	Phase                 model.ListenPhase `json:"phase"`
	ReconnectAttempts     int               `json:"reconnect_attempts"`
	LastKnownBlock        uint64            `json:"last_known_block"`
	FailedEventCount      int               `json:"failed_event_count"`
	ExhaustedFailedEvents int               `json:"exhausted_failed_events"`
}

// StatusReporter aggregates connection and dead-letter state.
type StatusReporter struct {
	source StateSource
	failed store.FailedEventStore
}

func NewStatusReporter(source StateSource, failed store.FailedEventStore) *StatusReporter {
	return &StatusReporter{source: source, failed: failed}
}

func (r *StatusReporter) Report(ctx context.Context) (Status, error) {
	state := r.source.State()

	total, exhausted, err := r.failed.CountFailedEvents(ctx)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Listening:             state.Listening,
		Phase:                 state.Phase,
		ReconnectAttempts:     state.ReconnectAttempts,
		LastKnownBlock:        state.LastKnownBlock,
		FailedEventCount:      total,
		ExhaustedFailedEvents: exhausted,
	}, nil
}
