package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"marketsync/internal/model"
)

// MemoryStore is an in-process Store used for tests and local smoke runs.
// All mutations happen under one mutex, so the uniqueness and counter
// invariants hold under concurrent callers just like the SQL backend.
type MemoryStore struct {
	mu        sync.Mutex
	purchases map[string]model.PurchaseRecord
	items     map[string]*model.Item
	failed    map[failedKey]*failedEntry
	seq       uint64
}

type failedKey struct {
	txHash string
	kind   model.EventKind
}

type failedEntry struct {
	record model.FailedEventRecord
	seq    uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		purchases: make(map[string]model.PurchaseRecord),
		items:     make(map[string]*model.Item),
		failed:    make(map[failedKey]*failedEntry),
	}
}

// AddItem seeds an item record.
func (s *MemoryStore) AddItem(item model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := item
	s.items[item.ID] = &copied
}

// GetItem returns a copy of the item record.
func (s *MemoryStore) GetItem(id string) (model.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return model.Item{}, false
	}
	return *item, true
}

func (s *MemoryStore) InsertPurchaseIfAbsent(_ context.Context, record model.PurchaseRecord) (UpsertOutcome, error) {
	if record.TxHash == "" {
		return UpsertOutcome{}, fmt.Errorf("tx hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.purchases[record.TxHash]; ok {
		return UpsertOutcome{Created: false, Record: existing}, nil
	}
	s.purchases[record.TxHash] = record
	return UpsertOutcome{Created: true, Record: record}, nil
}

func (s *MemoryStore) GetPurchase(_ context.Context, txHash string) (model.PurchaseRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.purchases[txHash]
	return record, ok, nil
}

func (s *MemoryStore) ResolveItemByContractID(_ context.Context, contractID string) (string, bool, error) {
	if contractID == "" {
		return "", false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ChainState.ContractID == contractID {
			return item.ID, true, nil
		}
	}
	return "", false, nil
}

func (s *MemoryStore) ConfirmItemListing(_ context.Context, txHash, contractID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		matched := (txHash != "" && item.ChainState.PendingTxHash == txHash) ||
			(contractID != "" && item.ChainState.ContractID == contractID)
		if !matched || item.ChainState.Status == model.ListingConfirmed {
			continue
		}
		item.ChainState.Status = model.ListingConfirmed
		item.ChainState.ContractID = contractID
		item.ChainState.PendingTxHash = ""
		item.ChainState.LastError = ""
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) RecordItemSold(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, model.ErrNotFound)
	}
	item.SoldCount++
	return nil
}

func (s *MemoryStore) AppendFailedEvent(_ context.Context, record model.FailedEventRecord) error {
	if record.TxHash == "" || !record.Kind.Valid() {
		return fmt.Errorf("failed event needs tx hash and kind")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := failedKey{txHash: record.TxHash, kind: record.Kind}
	if existing, ok := s.failed[key]; ok {
		if record.RetryCount > existing.record.RetryCount {
			existing.record.RetryCount = record.RetryCount
		}
		existing.record.LastError = record.LastError
		return nil
	}

	s.seq++
	s.failed[key] = &failedEntry{record: record, seq: s.seq}
	return nil
}

func (s *MemoryStore) ListFailedEvents(_ context.Context, includeExhausted bool) ([]model.FailedEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*failedEntry, 0, len(s.failed))
	for _, entry := range s.failed {
		if !includeExhausted && entry.record.Exhausted() {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]model.FailedEventRecord, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.record)
	}
	return out, nil
}

func (s *MemoryStore) IncrementFailedRetry(_ context.Context, txHash string, kind model.EventKind, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.failed[failedKey{txHash: txHash, kind: kind}]
	if !ok {
		return fmt.Errorf("failed event %s/%s: %w", txHash, kind, model.ErrNotFound)
	}
	if entry.record.RetryCount < entry.record.MaxRetries {
		entry.record.RetryCount++
	}
	entry.record.LastError = lastError
	return nil
}

func (s *MemoryStore) RemoveFailedEvent(_ context.Context, txHash string, kind model.EventKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failed, failedKey{txHash: txHash, kind: kind})
	return nil
}

func (s *MemoryStore) ClearFailedEvents(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := len(s.failed)
	s.failed = make(map[failedKey]*failedEntry)
	return removed, nil
}

func (s *MemoryStore) CountFailedEvents(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.failed)
	exhausted := 0
	for _, entry := range s.failed {
		if entry.record.Exhausted() {
			exhausted++
		}
	}
	return total, exhausted, nil
}
