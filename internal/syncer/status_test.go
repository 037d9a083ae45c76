package syncer

import (
	"context"
	"testing"

	"marketsync/internal/model"
	"marketsync/internal/store"
)

type staticState struct {
	state model.ConnectionState
}

func (s *staticState) State() model.ConnectionState { return s.state }

func TestStatusReport(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	records := []model.FailedEventRecord{
		{Kind: model.EventItemPurchased, TxHash: "0x1", RetryCount: 1, MaxRetries: 3},
		{Kind: model.EventItemPurchased, TxHash: "0x2", RetryCount: 3, MaxRetries: 3},
	}
	for _, record := range records {
		if err := s.AppendFailedEvent(ctx, record); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	source := &staticState{state: model.ConnectionState{
		Phase:             model.PhaseSubscribed,
		Listening:         true,
		ReconnectAttempts: 0,
		LastKnownBlock:    12345,
	}}

	status, err := NewStatusReporter(source, s).Report(ctx)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if !status.Listening || status.Phase != model.PhaseSubscribed {
		t.Fatalf("connection state mismatch: %+v", status)
	}
	if status.LastKnownBlock != 12345 {
		t.Fatalf("last known block mismatch: %d", status.LastKnownBlock)
	}
	if status.FailedEventCount != 2 || status.ExhaustedFailedEvents != 1 {
		t.Fatalf("dead-letter counts mismatch: %+v", status)
	}
}
