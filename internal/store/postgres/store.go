package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketsync/internal/model"
	"marketsync/internal/store"
)

// Store provides Postgres persistence for purchase records, item chain
// state, and the dead-letter log.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables the engine owns.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS purchase_records (
			tx_hash         text PRIMARY KEY,
			item_id         text,
			buyer           text NOT NULL,
			seller          text NOT NULL,
			amount          text NOT NULL,
			platform_fee    text NOT NULL,
			seller_payment  text NOT NULL,
			status          text NOT NULL,
			confirmations   bigint NOT NULL DEFAULT 0,
			access_granted  boolean NOT NULL DEFAULT false,
			access_count    bigint NOT NULL DEFAULT 0,
			verified_at     timestamptz NOT NULL,
			created_at      timestamptz NOT NULL DEFAULT now(),
			updated_at      timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id               text PRIMARY KEY,
			contract_id      text UNIQUE,
			chain_status     text NOT NULL DEFAULT 'unlisted',
			pending_tx_hash  text NOT NULL DEFAULT '',
			last_error       text NOT NULL DEFAULT '',
			sold_count       bigint NOT NULL DEFAULT 0,
			created_at       timestamptz NOT NULL DEFAULT now(),
			updated_at       timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS failed_events (
			tx_hash          text NOT NULL,
			event_kind       text NOT NULL,
			payload          jsonb NOT NULL,
			last_error       text NOT NULL,
			retry_count      integer NOT NULL,
			max_retries      integer NOT NULL,
			first_failed_at  timestamptz NOT NULL,
			updated_at       timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (tx_hash, event_kind)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertPurchaseIfAbsent inserts the record unless one already exists for
// the transaction hash. The primary key makes the race between concurrent
// deliveries safe; the loser reads the winner's row.
func (s *Store) InsertPurchaseIfAbsent(ctx context.Context, record model.PurchaseRecord) (store.UpsertOutcome, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO purchase_records (
			tx_hash, item_id, buyer, seller, amount, platform_fee, seller_payment,
			status, confirmations, access_granted, access_count, verified_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		record.TxHash,
		record.ItemID,
		record.Buyer,
		record.Seller,
		record.Amount,
		record.PlatformFee,
		record.SellerPayment,
		string(record.Status),
		int64(record.Confirmations),
		record.AccessGranted,
		int64(record.AccessCount),
		record.VerifiedAt,
	)
	if err != nil {
		return store.UpsertOutcome{}, err
	}

	if tag.RowsAffected() > 0 {
		return store.UpsertOutcome{Created: true, Record: record}, nil
	}

	existing, ok, err := s.GetPurchase(ctx, record.TxHash)
	if err != nil {
		return store.UpsertOutcome{}, err
	}
	if !ok {
		return store.UpsertOutcome{}, fmt.Errorf("purchase %s vanished after conflict", record.TxHash)
	}
	return store.UpsertOutcome{Created: false, Record: existing}, nil
}

func (s *Store) GetPurchase(ctx context.Context, txHash string) (model.PurchaseRecord, bool, error) {
	var (
		record model.PurchaseRecord
		itemID *string
		status string
	)
	row := s.pool.QueryRow(ctx, `
		SELECT tx_hash, item_id, buyer, seller, amount, platform_fee, seller_payment,
		       status, confirmations, access_granted, access_count, verified_at
		FROM purchase_records WHERE tx_hash = $1
	`, txHash)
	err := row.Scan(
		&record.TxHash,
		&itemID,
		&record.Buyer,
		&record.Seller,
		&record.Amount,
		&record.PlatformFee,
		&record.SellerPayment,
		&status,
		&record.Confirmations,
		&record.AccessGranted,
		&record.AccessCount,
		&record.VerifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PurchaseRecord{}, false, nil
		}
		return model.PurchaseRecord{}, false, err
	}
	if itemID != nil {
		record.ItemID = *itemID
	}
	record.Status = model.PurchaseStatus(status)
	return record, true, nil
}

func (s *Store) ResolveItemByContractID(ctx context.Context, contractID string) (string, bool, error) {
	if contractID == "" {
		return "", false, nil
	}
	var id string
	row := s.pool.QueryRow(ctx, `SELECT id FROM items WHERE contract_id = $1`, contractID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (s *Store) ConfirmItemListing(ctx context.Context, txHash, contractID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items
		SET chain_status = 'confirmed',
		    contract_id = $2,
		    pending_tx_hash = '',
		    last_error = '',
		    updated_at = now()
		WHERE (pending_tx_hash = $1 OR contract_id = $2)
		  AND chain_status <> 'confirmed'
	`, txHash, contractID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RecordItemSold(ctx context.Context, itemID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items SET sold_count = sold_count + 1, updated_at = now() WHERE id = $1
	`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", itemID, model.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendFailedEvent(ctx context.Context, record model.FailedEventRecord) error {
	payload, err := json.Marshal(record.Event)
	if err != nil {
		return fmt.Errorf("marshal failed event: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO failed_events (
			tx_hash, event_kind, payload, last_error, retry_count, max_retries, first_failed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, event_kind)
		DO UPDATE SET
			last_error = EXCLUDED.last_error,
			retry_count = GREATEST(failed_events.retry_count, EXCLUDED.retry_count),
			updated_at = now()
	`,
		record.TxHash,
		string(record.Kind),
		payload,
		record.LastError,
		record.RetryCount,
		record.MaxRetries,
		record.FirstFailedAt,
	)
	return err
}

func (s *Store) ListFailedEvents(ctx context.Context, includeExhausted bool) ([]model.FailedEventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx_hash, event_kind, payload, last_error, retry_count, max_retries, first_failed_at
		FROM failed_events
		WHERE $1 OR retry_count < max_retries
		ORDER BY first_failed_at, tx_hash
	`, includeExhausted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FailedEventRecord
	for rows.Next() {
		var (
			record  model.FailedEventRecord
			kind    string
			payload []byte
		)
		if err := rows.Scan(
			&record.TxHash,
			&kind,
			&payload,
			&record.LastError,
			&record.RetryCount,
			&record.MaxRetries,
			&record.FirstFailedAt,
		); err != nil {
			return nil, err
		}
		record.Kind = model.EventKind(kind)
		if err := json.Unmarshal(payload, &record.Event); err != nil {
			return nil, fmt.Errorf("unmarshal failed event %s: %w", record.TxHash, err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// IncrementFailedRetry bumps the retry count in a single statement so a
// concurrent increment can never be lost, and never exceeds max_retries.
func (s *Store) IncrementFailedRetry(ctx context.Context, txHash string, kind model.EventKind, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE failed_events
		SET retry_count = LEAST(retry_count + 1, max_retries),
		    last_error = $3,
		    updated_at = now()
		WHERE tx_hash = $1 AND event_kind = $2
	`, txHash, string(kind), lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed event %s/%s: %w", txHash, kind, model.ErrNotFound)
	}
	return nil
}

func (s *Store) RemoveFailedEvent(ctx context.Context, txHash string, kind model.EventKind) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM failed_events WHERE tx_hash = $1 AND event_kind = $2
	`, txHash, string(kind))
	return err
}

func (s *Store) ClearFailedEvents(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM failed_events`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CountFailedEvents(ctx context.Context) (int, int, error) {
	var total, exhausted int
	row := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE retry_count >= max_retries)
		FROM failed_events
	`)
	if err := row.Scan(&total, &exhausted); err != nil {
		return 0, 0, err
	}
	return total, exhausted, nil
}
