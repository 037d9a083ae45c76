package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/model"
	"marketsync/internal/store"
)

// RetryPolicy bounds in-process retries around the processor. The delay
// between attempts grows linearly: BaseDelay * attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	return p
}

// Retrier wraps the processor in bounded retries and owns the dead-letter
// log. A caller never sees a panic or an unbounded failure loop out of
// Process: exhausted events are persisted for later replay.
type Retrier struct {
	policy  RetryPolicy
	applier Applier
	failed  store.FailedEventStore
	logger  *zap.Logger
	now     func() time.Time
}

func NewRetrier(policy RetryPolicy, applier Applier, failed store.FailedEventStore, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		policy:  policy.normalized(),
		applier: applier,
		failed:  failed,
		logger:  logger,
		now:     time.Now,
	}
}

// Process applies the event with up to MaxRetries attempts. On exhaustion
// the event is dead-lettered and the final error returned; permanent
// errors skip the remaining budget and dead-letter immediately. A context
// cancellation mid-retry returns without writing a dead letter.
func (r *Retrier) Process(ctx context.Context, event model.LedgerEvent) error {
	err, attempts := r.attempt(ctx, event)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	r.deadLetter(ctx, event, err, attempts)
	return err
}

// attempt runs the bounded retry loop and reports how many attempts were
// made. It does not touch the dead-letter log.
func (r *Retrier) attempt(ctx context.Context, event model.LedgerEvent) (error, int) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxRetries; attempt++ {
		lastErr = r.applier.Apply(ctx, event)
		if lastErr == nil {
			return nil, attempt
		}
		if model.IsPermanent(lastErr) {
			return lastErr, attempt
		}

		r.logger.Warn("event apply failed",
			zap.String("tx_hash", event.TxHash),
			zap.String("kind", string(event.Kind)),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Error(lastErr),
		)

		if attempt == r.policy.MaxRetries {
			break
		}

		timer := time.NewTimer(r.policy.BaseDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err(), attempt
		case <-timer.C:
		}
	}
	return lastErr, r.policy.MaxRetries
}

func (r *Retrier) deadLetter(ctx context.Context, event model.LedgerEvent, cause error, attempts int) {
	record := model.FailedEventRecord{
		Kind:          event.Kind,
		TxHash:        event.TxHash,
		Event:         event,
		LastError:     cause.Error(),
		RetryCount:    attempts,
		MaxRetries:    r.policy.MaxRetries,
		FirstFailedAt: r.now().UTC(),
	}
	if err := r.failed.AppendFailedEvent(ctx, record); err != nil {
		r.logger.Error("dead-letter write failed",
			zap.String("tx_hash", event.TxHash),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
		return
	}
	r.logger.Error("event dead-lettered",
		zap.String("tx_hash", event.TxHash),
		zap.String("kind", string(event.Kind)),
		zap.Int("retry_count", record.RetryCount),
		zap.Error(cause),
	)
}

// ReplayFailed sweeps the dead-letter log through the same apply path.
// Successful records are removed; failures get an atomic retry-count
// increment. With includeExhausted false (the automatic sweep on start),
// records at their budget are left alone for an operator.
func (r *Retrier) ReplayFailed(ctx context.Context, includeExhausted bool) (healed int, failed int, err error) {
	records, err := r.failed.ListFailedEvents(ctx, includeExhausted)
	if err != nil {
		return 0, 0, err
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return healed, failed, ctx.Err()
		}

		applyErr, _ := r.attempt(ctx, record.Event)
		if applyErr == nil {
			if err := r.failed.RemoveFailedEvent(ctx, record.TxHash, record.Kind); err != nil {
				r.logger.Error("dead-letter removal failed",
					zap.String("tx_hash", record.TxHash),
					zap.Error(err),
				)
			}
			healed++
			continue
		}
		if ctx.Err() != nil {
			return healed, failed, ctx.Err()
		}

		failed++
		if err := r.failed.IncrementFailedRetry(ctx, record.TxHash, record.Kind, applyErr.Error()); err != nil {
			r.logger.Error("retry count update failed",
				zap.String("tx_hash", record.TxHash),
				zap.Error(err),
			)
		}
	}

	if healed > 0 || failed > 0 {
		r.logger.Info("dead-letter sweep complete",
			zap.Int("healed", healed),
			zap.Int("failed", failed),
			zap.Bool("include_exhausted", includeExhausted),
		)
	}
	return healed, failed, nil
}
