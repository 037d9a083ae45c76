package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketsync/internal/model"
	"marketsync/internal/store"
)

// scriptedApplier fails a fixed number of times before succeeding.
type scriptedApplier struct {
	failures int
	err      error
	calls    int
}

func (a *scriptedApplier) Apply(ctx context.Context, event model.LedgerEvent) error {
	a.calls++
	if a.calls <= a.failures {
		return a.err
	}
	return nil
}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}
}

func TestProcessTransientThenSuccess(t *testing.T) {
	s := store.NewMemoryStore()
	applier := &scriptedApplier{failures: 2, err: model.Transient(errors.New("store down"))}
	r := NewRetrier(testPolicy(), applier, s, nil)

	if err := r.Process(context.Background(), purchaseEvent("0xabc")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if applier.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", applier.calls)
	}

	total, _, _ := s.CountFailedEvents(context.Background())
	if total != 0 {
		t.Fatalf("no dead letter expected, found %d", total)
	}
}

func TestProcessExhaustionDeadLetters(t *testing.T) {
	s := store.NewMemoryStore()
	applier := &scriptedApplier{failures: 100, err: model.Transient(errors.New("store down"))}
	r := NewRetrier(testPolicy(), applier, s, nil)

	err := r.Process(context.Background(), purchaseEvent("0xdead"))
	if err == nil {
		t.Fatalf("expected failure after exhaustion")
	}
	if applier.calls != 3 {
		t.Fatalf("expected exactly maxRetries attempts, got %d", applier.calls)
	}

	records, _ := s.ListFailedEvents(context.Background(), true)
	if len(records) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(records))
	}
	record := records[0]
	if record.RetryCount != 3 {
		t.Fatalf("retry count mismatch: %d", record.RetryCount)
	}
	if record.TxHash != "0xdead" || record.Kind != model.EventItemPurchased {
		t.Fatalf("dead letter key mismatch: %s/%s", record.TxHash, record.Kind)
	}
	if record.Event.Amount != "1.5" {
		t.Fatalf("payload not preserved: %+v", record.Event)
	}
}

func TestProcessPermanentSkipsBudget(t *testing.T) {
	s := store.NewMemoryStore()
	applier := &scriptedApplier{failures: 100, err: model.Permanent(errors.New("bad event"))}
	r := NewRetrier(testPolicy(), applier, s, nil)

	if err := r.Process(context.Background(), purchaseEvent("0xbad")); err == nil {
		t.Fatalf("expected failure")
	}
	if applier.calls != 1 {
		t.Fatalf("permanent error should not retry, got %d attempts", applier.calls)
	}

	records, _ := s.ListFailedEvents(context.Background(), true)
	if len(records) != 1 || records[0].RetryCount != 1 {
		t.Fatalf("unexpected dead letter state: %+v", records)
	}
}

func TestProcessCancellationLeavesNoDeadLetter(t *testing.T) {
	s := store.NewMemoryStore()
	applier := &scriptedApplier{failures: 100, err: model.Transient(errors.New("store down"))}
	r := NewRetrier(RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}, applier, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Process(ctx, purchaseEvent("0xcancel")); err == nil {
		t.Fatalf("expected failure")
	}

	total, _, _ := s.CountFailedEvents(context.Background())
	if total != 0 {
		t.Fatalf("cancellation must not dead-letter, found %d", total)
	}
}

func TestReplayFailedHeals(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	// First pass fails completely, then the "store" comes back.
	applier := &scriptedApplier{failures: 3, err: model.Transient(errors.New("store down"))}
	r := NewRetrier(testPolicy(), applier, s, nil)

	if err := r.Process(ctx, purchaseEvent("0xheal")); err == nil {
		t.Fatalf("expected initial failure")
	}

	healed, failed, err := r.ReplayFailed(ctx, true)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if healed != 1 || failed != 0 {
		t.Fatalf("replay counts mismatch: healed=%d failed=%d", healed, failed)
	}

	total, _, _ := s.CountFailedEvents(ctx)
	if total != 0 {
		t.Fatalf("healed record not removed")
	}
}

func TestReplayFailedIncrementsOnFailure(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	record := model.FailedEventRecord{
		Kind:       model.EventItemPurchased,
		TxHash:     "0xstuck",
		Event:      purchaseEvent("0xstuck"),
		RetryCount: 1,
		MaxRetries: 3,
	}
	if err := s.AppendFailedEvent(ctx, record); err != nil {
		t.Fatalf("append: %v", err)
	}

	applier := &scriptedApplier{failures: 1000, err: model.Transient(errors.New("still down"))}
	r := NewRetrier(testPolicy(), applier, s, nil)

	healed, failed, err := r.ReplayFailed(ctx, false)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if healed != 0 || failed != 1 {
		t.Fatalf("replay counts mismatch: healed=%d failed=%d", healed, failed)
	}

	records, _ := s.ListFailedEvents(ctx, true)
	if records[0].RetryCount != 2 {
		t.Fatalf("retry count not incremented: %d", records[0].RetryCount)
	}
	if records[0].LastError == "" {
		t.Fatalf("last error not recorded")
	}
}

func TestReplaySkipsExhaustedAutomatically(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	record := model.FailedEventRecord{
		Kind:       model.EventItemPurchased,
		TxHash:     "0xgone",
		Event:      purchaseEvent("0xgone"),
		RetryCount: 3,
		MaxRetries: 3,
	}
	if err := s.AppendFailedEvent(ctx, record); err != nil {
		t.Fatalf("append: %v", err)
	}

	applier := &scriptedApplier{}
	r := NewRetrier(testPolicy(), applier, s, nil)

	// Automatic sweep leaves exhausted records alone.
	healed, failed, err := r.ReplayFailed(ctx, false)
	if err != nil || healed != 0 || failed != 0 {
		t.Fatalf("automatic sweep touched exhausted record: %d/%d/%v", healed, failed, err)
	}
	if applier.calls != 0 {
		t.Fatalf("exhausted record was applied")
	}

	// Operator retry picks it up and heals it.
	healed, failed, err = r.ReplayFailed(ctx, true)
	if err != nil || healed != 1 || failed != 0 {
		t.Fatalf("operator sweep mismatch: %d/%d/%v", healed, failed, err)
	}
	total, _, _ := s.CountFailedEvents(ctx)
	if total != 0 {
		t.Fatalf("record not removed after operator retry")
	}
}
