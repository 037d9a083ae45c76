package syncer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"marketsync/internal/market"
	"marketsync/internal/model"
)

type fakeSub struct {
	errCh chan error
}

func (s *fakeSub) Unsubscribe()      {}
func (s *fakeSub) Err() <-chan error { return s.errCh }

type fakeChain struct {
	mu       sync.Mutex
	failAll  error
	subCalls int
	subs     []*fakeSub
	logsChs  []chan<- types.Log
	latest   uint64
	gapLogs  []types.Log
	gapCalls [][2]uint64
}

func (f *fakeChain) SubscribeLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.failAll != nil {
		return nil, f.failAll
	}
	sub := &fakeSub{errCh: make(chan error, 1)}
	f.subs = append(f.subs, sub)
	f.logsChs = append(f.logsChs, ch)
	return sub, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gapCalls = append(f.gapCalls, [2]uint64{fromBlock, toBlock})
	logs := f.gapLogs
	f.gapLogs = nil
	return logs, nil
}

func (f *fakeChain) LatestBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeChain) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	return 1000 + number, nil
}

func (f *fakeChain) subscription(i int) (*fakeSub, chan<- types.Log, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.subs) {
		return nil, nil, false
	}
	return f.subs[i], f.logsChs[i], true
}

type collectSink struct {
	ch chan model.LedgerEvent
}

func (s *collectSink) Process(ctx context.Context, event model.LedgerEvent) error {
	s.ch <- event
	return nil
}

func livePurchasedLog(t *testing.T, txHash string, block uint64) types.Log {
	t.Helper()

	marketABI, err := market.MarketplaceABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	abiEvent := marketABI.Events["ItemPurchased"]

	data, err := abiEvent.Inputs.NonIndexed().Pack(big.NewInt(1000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	buyer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	seller := common.HexToAddress("0x2222222222222222222222222222222222222222")
	return types.Log{
		Topics: []common.Hash{
			abiEvent.ID,
			common.BigToHash(big.NewInt(7)),
			common.BytesToHash(common.LeftPadBytes(buyer.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(seller.Bytes(), 32)),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testListenerConfig() ListenerConfig {
	return ListenerConfig{
		Contract:             common.HexToAddress("0x3333333333333333333333333333333333333333"),
		MaxReconnectAttempts: 5,
		ReconnectBackoff:     time.Millisecond,
		ReconnectBackoffCap:  5 * time.Millisecond,
		Workers:              2,
		QueueSize:            8,
	}
}

func TestListenerDeliversAndReconnects(t *testing.T) {
	fc := &fakeChain{latest: 120}
	decoder, err := market.NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	sink := &collectSink{ch: make(chan model.LedgerEvent, 16)}
	l := NewListener(testListenerConfig(), fc, decoder, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitFor(t, "first subscription", func() bool {
		_, _, ok := fc.subscription(0)
		return ok
	})
	sub, logsCh, _ := fc.subscription(0)

	logsCh <- livePurchasedLog(t, "0xaaa", 100)
	select {
	case event := <-sink.ch:
		if event.TxHash != common.HexToHash("0xaaa").Hex() {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never delivered")
	}

	waitFor(t, "block observed", func() bool { return l.State().LastKnownBlock == 100 })
	state := l.State()
	if !state.Listening || state.Phase != model.PhaseSubscribed || state.ReconnectAttempts != 0 {
		t.Fatalf("unexpected state: %+v", state)
	}

	// Drop the subscription; the listener should reconnect and range-query
	// the blocks it may have missed.
	fc.mu.Lock()
	fc.gapLogs = []types.Log{livePurchasedLog(t, "0xbbb", 110)}
	fc.mu.Unlock()
	sub.errCh <- errors.New("connection reset")

	select {
	case event := <-sink.ch:
		if event.TxHash != common.HexToHash("0xbbb").Hex() {
			t.Fatalf("unexpected gap-fill event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("gap-fill event never delivered")
	}

	fc.mu.Lock()
	gapCalls := append([][2]uint64(nil), fc.gapCalls...)
	fc.mu.Unlock()
	if len(gapCalls) == 0 || gapCalls[0] != [2]uint64{101, 120} {
		t.Fatalf("unexpected gap query: %+v", gapCalls)
	}

	waitFor(t, "resubscribed", func() bool {
		s := l.State()
		return s.Listening && s.ReconnectAttempts == 0
	})

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected run error: %v", err)
	}
}

func TestListenerGoesOffline(t *testing.T) {
	fc := &fakeChain{failAll: errors.New("refused")}
	decoder, err := market.NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	sink := &collectSink{ch: make(chan model.LedgerEvent, 1)}

	cfg := testListenerConfig()
	cfg.MaxReconnectAttempts = 2
	l := NewListener(cfg, fc, decoder, sink, nil)

	if err := l.Run(context.Background()); err == nil {
		t.Fatalf("expected error after exhausting reconnects")
	}

	state := l.State()
	if state.Phase != model.PhaseOffline || state.Listening {
		t.Fatalf("expected offline state, got %+v", state)
	}
	if fc.subCalls != 3 {
		t.Fatalf("expected initial attempt plus 2 reconnects, got %d", fc.subCalls)
	}
}

func TestNextReconnectDelay(t *testing.T) {
	base := 10 * time.Second
	max := 2 * time.Minute

	var prev time.Duration
	for attempt := 1; attempt <= 20; attempt++ {
		delay := NextReconnectDelay(attempt, base, max)
		if delay < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", attempt, delay, prev)
		}
		if delay > max {
			t.Fatalf("delay exceeds cap at attempt %d: %s", attempt, delay)
		}
		prev = delay
	}

	if NextReconnectDelay(1, base, max) != base {
		t.Fatalf("first delay should equal base")
	}
	if NextReconnectDelay(100, base, max) != max {
		t.Fatalf("late delays should hit the cap")
	}
}
