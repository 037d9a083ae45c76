package syncer

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"marketsync/internal/model"
)

// ChainSource is the slice of the ledger client the listener needs.
type ChainSource interface {
	SubscribeLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Decoder turns raw contract logs into ledger events.
type Decoder interface {
	Topics() []common.Hash
	CanDecode(topic0 common.Hash) bool
	DecodeLog(log types.Log, timestamp uint64) (*model.LedgerEvent, error)
}

// EventSink receives decoded events. In production this is the Retrier, so
// a single failing event never propagates back into the delivery loop.
type EventSink interface {
	Process(ctx context.Context, event model.LedgerEvent) error
}

// ListenerConfig holds runtime settings for the subscription loop.
type ListenerConfig struct {
	Contract             common.Address
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	ReconnectBackoffCap  time.Duration
	Workers              int
	QueueSize            int
}

func (c ListenerConfig) normalized() ListenerConfig {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 10 * time.Second
	}
	if c.ReconnectBackoffCap <= 0 {
		c.ReconnectBackoffCap = 2 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Listener owns the subscription to the marketplace contract: it detects
// drops, reconnects with capped backoff, range-queries missed blocks after
// each resubscription, and fans decoded events out to workers sharded by
// transaction hash so per-key ordering survives while one slow event
// cannot stall the rest.
type Listener struct {
	cfg     ListenerConfig
	chain   ChainSource
	decoder Decoder
	sink    EventSink
	logger  *zap.Logger

	mu    sync.RWMutex
	state model.ConnectionState
}

func NewListener(cfg ListenerConfig, chain ChainSource, decoder Decoder, sink EventSink, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		cfg:     cfg.normalized(),
		chain:   chain,
		decoder: decoder,
		sink:    sink,
		logger:  logger,
		state:   model.ConnectionState{Phase: model.PhaseDisconnected},
	}
}

// State returns a copy of the current connection state.
func (l *Listener) State() model.ConnectionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Run drives the subscription state machine until the context is canceled
// or the reconnect budget is exhausted.
func (l *Listener) Run(ctx context.Context) error {
	if l.chain == nil || l.decoder == nil || l.sink == nil {
		return fmt.Errorf("listener dependencies are nil")
	}

	workers := l.startWorkers(ctx)
	defer workers.stop()

	query := ethereum.FilterQuery{
		Addresses: []common.Address{l.cfg.Contract},
		Topics:    [][]common.Hash{l.decoder.Topics()},
	}

	for {
		l.setPhase(model.PhaseConnecting)

		logsCh := make(chan types.Log, l.cfg.QueueSize)
		sub, err := l.chain.SubscribeLogs(ctx, query, logsCh)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("subscribe failed", zap.Error(err))
			if !l.backoff(ctx) {
				return fmt.Errorf("reconnect attempts exhausted: %w", err)
			}
			continue
		}

		l.onSubscribed()
		l.fillGap(ctx, workers)

		err = l.consume(ctx, sub, logsCh, workers)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.logger.Warn("subscription dropped", zap.Error(err))
		l.setDisconnected()
		if !l.backoff(ctx) {
			return fmt.Errorf("reconnect attempts exhausted: %w", err)
		}
	}
}

func (l *Listener) consume(ctx context.Context, sub ethereum.Subscription, logsCh <-chan types.Log, workers *workerPool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = fmt.Errorf("subscription closed")
			}
			return model.Connectivity(err)
		case lg := <-logsCh:
			l.handleLog(ctx, lg, workers)
		}
	}
}

func (l *Listener) handleLog(ctx context.Context, lg types.Log, workers *workerPool) {
	// Removed logs come from a reorg; the fact never settled.
	if lg.Removed {
		return
	}
	if len(lg.Topics) == 0 || !l.decoder.CanDecode(lg.Topics[0]) {
		return
	}

	ts, err := l.chain.BlockTimestamp(ctx, lg.BlockNumber)
	if err != nil {
		l.logger.Warn("block timestamp fetch failed",
			zap.Uint64("block_number", lg.BlockNumber),
			zap.Error(err),
		)
	}

	event, err := l.decoder.DecodeLog(lg, ts)
	if err != nil {
		l.logger.Error("log decode failed, dropping",
			zap.String("tx_hash", lg.TxHash.Hex()),
			zap.Uint64("block_number", lg.BlockNumber),
			zap.Error(err),
		)
		return
	}

	l.observeBlock(lg.BlockNumber)
	workers.dispatch(ctx, *event)
}

// fillGap range-queries blocks delivered while the connection was down.
// Overlap with live delivery is harmless: apply is idempotent.
func (l *Listener) fillGap(ctx context.Context, workers *workerPool) {
	last := l.State().LastKnownBlock
	if last == 0 {
		l.logger.Info("no catch-up baseline, delivering new events only")
		return
	}

	latest, err := l.chain.LatestBlockNumber(ctx)
	if err != nil {
		l.logger.Warn("gap fill skipped, latest block unavailable", zap.Error(err))
		return
	}
	if latest <= last {
		return
	}

	logs, err := l.chain.FilterLogs(ctx, last+1, latest, []common.Address{l.cfg.Contract}, l.decoder.Topics())
	if err != nil {
		l.logger.Warn("gap fill query failed, possible missed events",
			zap.Uint64("from", last+1),
			zap.Uint64("to", latest),
			zap.Error(err),
		)
		return
	}

	l.logger.Info("gap fill",
		zap.Uint64("from", last+1),
		zap.Uint64("to", latest),
		zap.Int("logs", len(logs)),
	)
	for _, lg := range logs {
		l.handleLog(ctx, lg, workers)
	}
}

func (l *Listener) backoff(ctx context.Context) bool {
	l.mu.Lock()
	l.state.ReconnectAttempts++
	attempts := l.state.ReconnectAttempts
	if attempts > l.cfg.MaxReconnectAttempts {
		l.state.Phase = model.PhaseOffline
		l.state.Listening = false
		l.mu.Unlock()
		l.logger.Error("listener offline, operator restart required",
			zap.Int("attempts", attempts-1),
		)
		return false
	}
	l.mu.Unlock()

	delay := NextReconnectDelay(attempts, l.cfg.ReconnectBackoff, l.cfg.ReconnectBackoffCap)
	l.logger.Info("reconnecting",
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// NextReconnectDelay grows linearly with the attempt count and is capped,
// so consecutive delays are monotonically non-decreasing.
func NextReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * time.Duration(attempt)
	if max > 0 && delay > max {
		return max
	}
	return delay
}

func (l *Listener) setPhase(phase model.ListenPhase) {
	l.mu.Lock()
	l.state.Phase = phase
	l.state.Listening = phase == model.PhaseSubscribed
	l.mu.Unlock()
}

func (l *Listener) onSubscribed() {
	l.mu.Lock()
	l.state.Phase = model.PhaseSubscribed
	l.state.Listening = true
	l.state.ReconnectAttempts = 0
	l.mu.Unlock()
	l.logger.Info("subscribed to marketplace events",
		zap.String("contract", l.cfg.Contract.Hex()),
	)
}

func (l *Listener) setDisconnected() {
	l.mu.Lock()
	l.state.Phase = model.PhaseDisconnected
	l.state.Listening = false
	l.mu.Unlock()
}

func (l *Listener) observeBlock(number uint64) {
	l.mu.Lock()
	if number > l.state.LastKnownBlock {
		l.state.LastKnownBlock = number
	}
	l.mu.Unlock()
}

// workerPool shards events by transaction hash across a fixed set of
// goroutines: same key always lands on the same worker.
type workerPool struct {
	chans []chan model.LedgerEvent
	wg    sync.WaitGroup
}

func (l *Listener) startWorkers(ctx context.Context) *workerPool {
	pool := &workerPool{chans: make([]chan model.LedgerEvent, l.cfg.Workers)}
	for i := range pool.chans {
		ch := make(chan model.LedgerEvent, l.cfg.QueueSize)
		pool.chans[i] = ch
		pool.wg.Add(1)
		go func() {
			defer pool.wg.Done()
			for event := range ch {
				if err := l.sink.Process(ctx, event); err != nil {
					// Already logged and dead-lettered downstream.
					l.logger.Debug("event not applied",
						zap.String("tx_hash", event.TxHash),
						zap.Error(err),
					)
				}
			}
		}()
	}
	return pool
}

func (p *workerPool) dispatch(ctx context.Context, event model.LedgerEvent) {
	h := fnv.New32a()
	h.Write([]byte(event.TxHash))
	ch := p.chans[int(h.Sum32())%len(p.chans)]

	select {
	case <-ctx.Done():
	case ch <- event:
	}
}

func (p *workerPool) stop() {
	for _, ch := range p.chans {
		close(ch)
	}
	p.wg.Wait()
}
