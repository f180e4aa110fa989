// Package postgres implements port.Store on PostgreSQL via pgxpool.
//
// Amounts are stored as NUMERIC and travel as decimal strings; float64 never
// touches money. The combined commit operations run in a single transaction
// so a failure leaves no partial state.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/agentpay/guard-go/internal/domain"
)

const uniqueViolation = "23505"

// Store is a PostgreSQL-backed port.Store.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *zap.Logger
}

// New connects to the database and verifies reachability.
func New(ctx context.Context, connString string, timeout time.Duration, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, timeout: timeout, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS spend_limits (
			agent_id      TEXT PRIMARY KEY,
			daily_limit   NUMERIC NOT NULL,
			monthly_limit NUMERIC NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			updated_by    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS spend_counters (
			agent_id    TEXT NOT NULL,
			granularity TEXT NOT NULL,
			window_key  TEXT NOT NULL,
			spent       NUMERIC NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (agent_id, granularity)
		)`,
		`CREATE TABLE IF NOT EXISTS payment_receipts (
			receipt_id          TEXT PRIMARY KEY,
			external_request_id TEXT NOT NULL UNIQUE,
			from_agent_id       TEXT NOT NULL,
			to_agent_id         TEXT NOT NULL DEFAULT '',
			wallet_id           TEXT NOT NULL,
			amount              NUMERIC NOT NULL,
			purpose             TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			transaction_hash    TEXT NOT NULL DEFAULT '',
			failure_reason      TEXT NOT NULL DEFAULT '',
			refund_reason       TEXT NOT NULL DEFAULT '',
			daily_window_key    TEXT NOT NULL,
			monthly_window_key  TEXT NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL,
			confirmed_at        TIMESTAMPTZ,
			metadata            JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_agent
			ON payment_receipts (from_agent_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS wallet_status (
			wallet_id       TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			previous_status TEXT NOT NULL DEFAULT '',
			reason          TEXT NOT NULL DEFAULT '',
			frozen_until    TIMESTAMPTZ,
			updated_at      TIMESTAMPTZ NOT NULL,
			updated_by      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_status_audit (
			id           TEXT PRIMARY KEY,
			wallet_id    TEXT NOT NULL,
			from_status  TEXT NOT NULL DEFAULT '',
			to_status    TEXT NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			frozen_until TIMESTAMPTZ,
			updated_by   TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_audit
			ON wallet_status_audit (wallet_id, created_at)`,
	}

	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// opCtx bounds a store operation with the configured timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// storageErr wraps a backend failure into the retryable taxonomy error.
func storageErr(op string, err error) error {
	return &domain.ErrStorageUnavailable{Op: op, Err: err}
}

// ============================================================
// Limits
// ============================================================

func (s *Store) GetLimits(ctx context.Context, agentID string) (*domain.SpendLimit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var limit domain.SpendLimit
	var daily, monthly string
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, daily_limit::text, monthly_limit::text, updated_at, updated_by
		 FROM spend_limits WHERE agent_id = $1`, agentID,
	).Scan(&limit.AgentID, &daily, &monthly, &limit.UpdatedAt, &limit.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get_limits", err)
	}

	if limit.DailyLimit, err = decimal.NewFromString(daily); err != nil {
		return nil, storageErr("get_limits", err)
	}
	if limit.MonthlyLimit, err = decimal.NewFromString(monthly); err != nil {
		return nil, storageErr("get_limits", err)
	}
	return &limit, nil
}

func (s *Store) PutLimits(ctx context.Context, limit *domain.SpendLimit) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO spend_limits (agent_id, daily_limit, monthly_limit, updated_at, updated_by)
		 VALUES ($1, $2::numeric, $3::numeric, $4, $5)
		 ON CONFLICT (agent_id) DO UPDATE SET
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`,
		limit.AgentID, limit.DailyLimit.String(), limit.MonthlyLimit.String(),
		limit.UpdatedAt, limit.UpdatedBy,
	)
	if err != nil {
		return storageErr("put_limits", err)
	}
	return nil
}

// ============================================================
// Counters
// ============================================================

func (s *Store) GetCounter(ctx context.Context, agentID string, g domain.Granularity, windowKey string) (*domain.SpendCounter, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var storedKey, spent string
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT window_key, spent::text, updated_at
		 FROM spend_counters WHERE agent_id = $1 AND granularity = $2`,
		agentID, string(g),
	).Scan(&storedKey, &spent, &updatedAt)

	fresh := &domain.SpendCounter{
		AgentID:     agentID,
		Granularity: g,
		WindowKey:   windowKey,
		Spent:       decimal.Zero,
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fresh, nil
	}
	if err != nil {
		return nil, storageErr("get_counter", err)
	}
	// Stale window reads as zero; the row resets on the next write.
	if storedKey != windowKey {
		return fresh, nil
	}

	amount, err := decimal.NewFromString(spent)
	if err != nil {
		return nil, storageErr("get_counter", err)
	}
	return &domain.SpendCounter{
		AgentID:     agentID,
		Granularity: g,
		WindowKey:   storedKey,
		Spent:       amount,
		UpdatedAt:   updatedAt,
	}, nil
}

// upsertIncrement adds the amount to a counter inside tx, resetting the row
// when its stored window key differs.
func upsertIncrement(ctx context.Context, tx pgx.Tx, agentID string, g domain.Granularity, windowKey string, amount decimal.Decimal, now time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO spend_counters (agent_id, granularity, window_key, spent, updated_at)
		 VALUES ($1, $2, $3, $4::numeric, $5)
		 ON CONFLICT (agent_id, granularity) DO UPDATE SET
			spent = CASE
				WHEN spend_counters.window_key = EXCLUDED.window_key
				THEN spend_counters.spent + EXCLUDED.spent
				ELSE EXCLUDED.spent
			END,
			window_key = EXCLUDED.window_key,
			updated_at = EXCLUDED.updated_at`,
		agentID, string(g), windowKey, amount.String(), now,
	)
	return err
}

// ============================================================
// Receipts
// ============================================================

const receiptColumns = `receipt_id, external_request_id, from_agent_id, to_agent_id, wallet_id,
	amount::text, purpose, status, transaction_hash, failure_reason, refund_reason,
	daily_window_key, monthly_window_key, created_at, confirmed_at, metadata`

func scanReceipt(row pgx.Row) (*domain.PaymentReceipt, error) {
	var r domain.PaymentReceipt
	var amount string
	var metadata []byte
	err := row.Scan(
		&r.ReceiptID, &r.ExternalRequestID, &r.FromAgentID, &r.ToAgentID, &r.WalletID,
		&amount, &r.Purpose, &r.Status, &r.TransactionHash, &r.FailureReason, &r.RefundReason,
		&r.DailyWindowKey, &r.MonthlyWindowKey, &r.CreatedAt, &r.ConfirmedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func (s *Store) CommitAuthorization(ctx context.Context, receipt *domain.PaymentReceipt) (*domain.PaymentReceipt, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, false, storageErr("commit_authorization", err)
	}
	defer tx.Rollback(ctx)

	// Replay check inside the transaction.
	existing, err := scanReceipt(tx.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM payment_receipts WHERE external_request_id = $1`,
		receipt.ExternalRequestID))
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, storageErr("commit_authorization", err)
	}

	var metadata []byte
	if len(receipt.Metadata) > 0 {
		if metadata, err = json.Marshal(receipt.Metadata); err != nil {
			return nil, false, storageErr("commit_authorization", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO payment_receipts (receipt_id, external_request_id, from_agent_id, to_agent_id,
			wallet_id, amount, purpose, status, daily_window_key, monthly_window_key, created_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)`,
		receipt.ReceiptID, receipt.ExternalRequestID, receipt.FromAgentID, receipt.ToAgentID,
		receipt.WalletID, receipt.Amount.String(), receipt.Purpose, string(receipt.Status),
		receipt.DailyWindowKey, receipt.MonthlyWindowKey, receipt.CreatedAt, metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Lost a duplicate race with another instance; return the winner.
			_ = tx.Rollback(ctx)
			winner, selErr := s.GetReceiptByExternalID(ctx, receipt.ExternalRequestID)
			if selErr != nil {
				return nil, false, selErr
			}
			if winner != nil {
				return winner, true, nil
			}
		}
		return nil, false, storageErr("commit_authorization", err)
	}

	if err := upsertIncrement(ctx, tx, receipt.FromAgentID, domain.GranularityDaily, receipt.DailyWindowKey, receipt.Amount, receipt.CreatedAt); err != nil {
		return nil, false, storageErr("commit_authorization", err)
	}
	if err := upsertIncrement(ctx, tx, receipt.FromAgentID, domain.GranularityMonthly, receipt.MonthlyWindowKey, receipt.Amount, receipt.CreatedAt); err != nil {
		return nil, false, storageErr("commit_authorization", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, storageErr("commit_authorization", err)
	}

	cp := *receipt
	return &cp, false, nil
}

func (s *Store) CommitRefund(ctx context.Context, receipt *domain.PaymentReceipt) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return storageErr("commit_refund", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE payment_receipts SET status = $1, refund_reason = $2 WHERE receipt_id = $3`,
		string(receipt.Status), receipt.RefundReason, receipt.ReceiptID,
	)
	if err != nil {
		return storageErr("commit_refund", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "receipt", ID: receipt.ReceiptID}
	}

	// Credit back only the counters whose window has not rolled over since
	// the original spend.
	for _, w := range []struct {
		g   domain.Granularity
		key string
	}{
		{domain.GranularityDaily, receipt.DailyWindowKey},
		{domain.GranularityMonthly, receipt.MonthlyWindowKey},
	} {
		_, err := tx.Exec(ctx,
			`UPDATE spend_counters
			 SET spent = GREATEST(spent - $1::numeric, 0), updated_at = now()
			 WHERE agent_id = $2 AND granularity = $3 AND window_key = $4`,
			receipt.Amount.String(), receipt.FromAgentID, string(w.g), w.key,
		)
		if err != nil {
			return storageErr("commit_refund", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit_refund", err)
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, receiptID string) (*domain.PaymentReceipt, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	receipt, err := scanReceipt(s.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM payment_receipts WHERE receipt_id = $1`, receiptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get_receipt", err)
	}
	return receipt, nil
}

func (s *Store) GetReceiptByExternalID(ctx context.Context, externalRequestID string) (*domain.PaymentReceipt, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	receipt, err := scanReceipt(s.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM payment_receipts WHERE external_request_id = $1`, externalRequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get_receipt_by_external_id", err)
	}
	return receipt, nil
}

func (s *Store) ListReceiptsByAgent(ctx context.Context, agentID string, page, pageSize int) ([]domain.PaymentReceipt, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+receiptColumns+` FROM payment_receipts
		 WHERE from_agent_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		agentID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, storageErr("list_receipts", err)
	}
	defer rows.Close()

	receipts := []domain.PaymentReceipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, storageErr("list_receipts", err)
		}
		receipts = append(receipts, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list_receipts", err)
	}
	return receipts, nil
}

func (s *Store) UpdateReceipt(ctx context.Context, receipt *domain.PaymentReceipt) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_receipts
		 SET status = $1, transaction_hash = $2, failure_reason = $3, refund_reason = $4, confirmed_at = $5
		 WHERE receipt_id = $6`,
		string(receipt.Status), receipt.TransactionHash, receipt.FailureReason,
		receipt.RefundReason, receipt.ConfirmedAt, receipt.ReceiptID,
	)
	if err != nil {
		return storageErr("update_receipt", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "receipt", ID: receipt.ReceiptID}
	}
	return nil
}

// ============================================================
// Wallets
// ============================================================

func (s *Store) GetWalletStatus(ctx context.Context, walletID string) (*domain.WalletStatusRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var r domain.WalletStatusRecord
	err := s.pool.QueryRow(ctx,
		`SELECT wallet_id, status, previous_status, reason, frozen_until, updated_at, updated_by
		 FROM wallet_status WHERE wallet_id = $1`, walletID,
	).Scan(&r.WalletID, &r.Status, &r.PreviousStatus, &r.Reason, &r.FrozenUntil, &r.UpdatedAt, &r.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get_wallet_status", err)
	}
	return &r, nil
}

func (s *Store) PutWalletStatus(ctx context.Context, record *domain.WalletStatusRecord, audit *domain.WalletStatusAudit) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("put_wallet_status", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_status (wallet_id, status, previous_status, reason, frozen_until, updated_at, updated_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (wallet_id) DO UPDATE SET
			status = EXCLUDED.status,
			previous_status = EXCLUDED.previous_status,
			reason = EXCLUDED.reason,
			frozen_until = EXCLUDED.frozen_until,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`,
		record.WalletID, string(record.Status), string(record.PreviousStatus),
		record.Reason, record.FrozenUntil, record.UpdatedAt, record.UpdatedBy,
	)
	if err != nil {
		return storageErr("put_wallet_status", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_status_audit (id, wallet_id, from_status, to_status, reason, frozen_until, updated_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		audit.ID, audit.WalletID, string(audit.FromStatus), string(audit.ToStatus),
		audit.Reason, audit.FrozenUntil, audit.UpdatedBy, audit.CreatedAt,
	)
	if err != nil {
		return storageErr("put_wallet_status", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("put_wallet_status", err)
	}
	return nil
}

func (s *Store) ListWalletAudit(ctx context.Context, walletID string) ([]domain.WalletStatusAudit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, wallet_id, from_status, to_status, reason, frozen_until, updated_by, created_at
		 FROM wallet_status_audit WHERE wallet_id = $1 ORDER BY created_at`, walletID)
	if err != nil {
		return nil, storageErr("list_wallet_audit", err)
	}
	defer rows.Close()

	entries := []domain.WalletStatusAudit{}
	for rows.Next() {
		var a domain.WalletStatusAudit
		if err := rows.Scan(&a.ID, &a.WalletID, &a.FromStatus, &a.ToStatus, &a.Reason, &a.FrozenUntil, &a.UpdatedBy, &a.CreatedAt); err != nil {
			return nil, storageErr("list_wallet_audit", err)
		}
		entries = append(entries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list_wallet_audit", err)
	}
	return entries, nil
}

// Ping reports database reachability for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		s.logger.Warn("database ping failed", zap.Error(err))
		return storageErr("ping", err)
	}
	return nil
}
