/**
 * @description
 * PostgreSQL implementation of the `Repository` interface using pgx. Both
 * vaults share one database; every row carries a vault_id discriminator and a
 * repository instance is scoped to exactly one vault. Deposit and withdrawal
 * mutations run inside a single database transaction so the balance row, the
 * aggregate, the counters, and the journal commit or roll back together.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pooling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kipubank/vault-service/internal/domain"
)

// PostgresRepository persists one vault's ledger in PostgreSQL.
type PostgresRepository struct {
	db      *pgxpool.Pool
	vaultID string
}

// NewPostgresRepository creates a repository scoped to the given vault.
func NewPostgresRepository(db *pgxpool.Pool, vaultID string) *PostgresRepository {
	return &PostgresRepository{db: db, vaultID: vaultID}
}

// Migrate creates the vault schema if it does not exist and seeds this
// vault's state row. Safe to run on every boot.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vault_state (
			vault_id        TEXT PRIMARY KEY,
			total_deposited BIGINT NOT NULL DEFAULT 0,
			paused          BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS vault_balances (
			vault_id  TEXT NOT NULL,
			account   TEXT NOT NULL,
			asset     TEXT NOT NULL,
			native    BIGINT NOT NULL DEFAULT 0,
			accounted BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (vault_id, account, asset)
		)`,
		`CREATE TABLE IF NOT EXISTS vault_counters (
			vault_id    TEXT NOT NULL,
			account     TEXT NOT NULL,
			deposits    BIGINT NOT NULL DEFAULT 0,
			withdrawals BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (vault_id, account)
		)`,
		`CREATE TABLE IF NOT EXISTS vault_assets (
			vault_id      TEXT NOT NULL,
			asset         TEXT NOT NULL,
			decimals      SMALLINT NOT NULL,
			feed_id       TEXT NOT NULL DEFAULT '',
			registered_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (vault_id, asset)
		)`,
		`CREATE TABLE IF NOT EXISTS vault_operations (
			id         UUID PRIMARY KEY,
			vault_id   TEXT NOT NULL,
			account    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			asset      TEXT NOT NULL,
			amount     BIGINT NOT NULL,
			value      BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_operations_account
			ON vault_operations (vault_id, account, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run vault migration: %w", err)
		}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO vault_state (vault_id) VALUES ($1) ON CONFLICT (vault_id) DO NOTHING`,
		r.vaultID)
	if err != nil {
		return fmt.Errorf("failed to seed vault state row: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Balance(ctx context.Context, account, asset string) (domain.Balance, error) {
	var native, accounted int64
	err := r.db.QueryRow(ctx,
		`SELECT native, accounted FROM vault_balances WHERE vault_id = $1 AND account = $2 AND asset = $3`,
		r.vaultID, account, asset).Scan(&native, &accounted)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Balance{}, nil
	}
	if err != nil {
		return domain.Balance{}, fmt.Errorf("failed to read balance: %w", err)
	}
	return domain.Balance{Native: uint64(native), Accounted: uint64(accounted)}, nil
}

func (r *PostgresRepository) Counters(ctx context.Context, account string) (domain.Counters, error) {
	var deposits, withdrawals int64
	err := r.db.QueryRow(ctx,
		`SELECT deposits, withdrawals FROM vault_counters WHERE vault_id = $1 AND account = $2`,
		r.vaultID, account).Scan(&deposits, &withdrawals)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Counters{}, nil
	}
	if err != nil {
		return domain.Counters{}, fmt.Errorf("failed to read counters: %w", err)
	}
	return domain.Counters{Deposits: uint64(deposits), Withdrawals: uint64(withdrawals)}, nil
}

func (r *PostgresRepository) TotalDeposited(ctx context.Context) (uint64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT total_deposited FROM vault_state WHERE vault_id = $1`, r.vaultID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read total deposited: %w", err)
	}
	return uint64(total), nil
}

func (r *PostgresRepository) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := r.db.QueryRow(ctx,
		`SELECT paused FROM vault_state WHERE vault_id = $1`, r.vaultID).Scan(&paused)
	if err != nil {
		return false, fmt.Errorf("failed to read pause flag: %w", err)
	}
	return paused, nil
}

func (r *PostgresRepository) ListOperations(ctx context.Context, account string, limit int) ([]domain.Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, account, kind, asset, amount, value, created_at
		 FROM vault_operations
		 WHERE vault_id = $1 AND account = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		r.vaultID, account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.Operation
	for rows.Next() {
		var op domain.Operation
		var amount, value int64
		if err := rows.Scan(&op.ID, &op.Account, &op.Kind, &op.Asset, &amount, &value, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Amount = uint64(amount)
		op.Value = uint64(value)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (r *PostgresRepository) FindAsset(ctx context.Context, assetID string) (*domain.AssetEntry, error) {
	entry := domain.AssetEntry{ID: assetID}
	var decimals int16
	err := r.db.QueryRow(ctx,
		`SELECT decimals, feed_id, registered_at FROM vault_assets WHERE vault_id = $1 AND asset = $2`,
		r.vaultID, assetID).Scan(&decimals, &entry.FeedID, &entry.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset: %w", err)
	}
	entry.Decimals = uint8(decimals)
	return &entry, nil
}

func (r *PostgresRepository) UpsertAsset(ctx context.Context, entry domain.AssetEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO vault_assets (vault_id, asset, decimals, feed_id, registered_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (vault_id, asset)
		 DO UPDATE SET decimals = EXCLUDED.decimals, feed_id = EXCLUDED.feed_id`,
		r.vaultID, entry.ID, int16(entry.Decimals), entry.FeedID, entry.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to upsert asset: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveAsset(ctx context.Context, assetID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM vault_assets WHERE vault_id = $1 AND asset = $2`, r.vaultID, assetID)
	if err != nil {
		return fmt.Errorf("failed to remove asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}

func (r *PostgresRepository) SetPaused(ctx context.Context, paused bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE vault_state SET paused = $2 WHERE vault_id = $1`, r.vaultID, paused)
	if err != nil {
		return fmt.Errorf("failed to set pause flag: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ApplyDeposit(ctx context.Context, m DepositMutation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin deposit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO vault_balances (vault_id, account, asset, native, accounted)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (vault_id, account, asset)
		 DO UPDATE SET native = vault_balances.native + EXCLUDED.native,
		               accounted = vault_balances.accounted + EXCLUDED.accounted`,
		r.vaultID, m.Credit.Account, m.Credit.Asset, int64(m.Credit.Native), int64(m.Credit.Accounted))
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	if err := r.addTotal(ctx, tx, int64(m.Credit.Accounted)); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO vault_counters (vault_id, account, deposits, withdrawals)
		 VALUES ($1, $2, 1, 0)
		 ON CONFLICT (vault_id, account)
		 DO UPDATE SET deposits = vault_counters.deposits + 1`,
		r.vaultID, m.Credit.Account)
	if err != nil {
		return fmt.Errorf("failed to increment deposit counter: %w", err)
	}

	if err := r.insertOperation(ctx, tx, m.Op); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ApplyWithdrawal(ctx context.Context, m WithdrawalMutation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin withdrawal transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE vault_balances
		 SET native = native - $4, accounted = accounted - $5
		 WHERE vault_id = $1 AND account = $2 AND asset = $3
		   AND native >= $4 AND accounted >= $5`,
		r.vaultID, m.Debit.Account, m.Debit.Asset, int64(m.Debit.Native), int64(m.Debit.Accounted))
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	if err := r.addTotal(ctx, tx, -int64(m.Debit.Accounted)); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO vault_counters (vault_id, account, deposits, withdrawals)
		 VALUES ($1, $2, 0, 1)
		 ON CONFLICT (vault_id, account)
		 DO UPDATE SET withdrawals = vault_counters.withdrawals + 1`,
		r.vaultID, m.Debit.Account)
	if err != nil {
		return fmt.Errorf("failed to increment withdrawal counter: %w", err)
	}

	if err := r.insertOperation(ctx, tx, m.Op); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) RevertWithdrawal(ctx context.Context, m WithdrawalMutation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reversal transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO vault_balances (vault_id, account, asset, native, accounted)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (vault_id, account, asset)
		 DO UPDATE SET native = vault_balances.native + EXCLUDED.native,
		               accounted = vault_balances.accounted + EXCLUDED.accounted`,
		r.vaultID, m.Debit.Account, m.Debit.Asset, int64(m.Debit.Native), int64(m.Debit.Accounted))
	if err != nil {
		return fmt.Errorf("failed to restore balance: %w", err)
	}

	if err := r.addTotal(ctx, tx, int64(m.Debit.Accounted)); err != nil {
		return err
	}

	if err := r.insertOperation(ctx, tx, m.Op); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) RecordOperation(ctx context.Context, op domain.Operation) error {
	if err := r.insertOperation(ctx, r.db, op); err != nil {
		return err
	}
	return nil
}

// execer lets insertOperation run against either the pool or an open Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *PostgresRepository) addTotal(ctx context.Context, tx pgx.Tx, delta int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE vault_state
		 SET total_deposited = total_deposited + $2
		 WHERE vault_id = $1 AND total_deposited + $2 >= 0`,
		r.vaultID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust total deposited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (r *PostgresRepository) insertOperation(ctx context.Context, ex execer, op domain.Operation) error {
	_, err := ex.Exec(ctx,
		`INSERT INTO vault_operations (id, vault_id, account, kind, asset, amount, value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		op.ID, r.vaultID, op.Account, op.Kind, op.Asset, int64(op.Amount), int64(op.Value), op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert operation record: %w", err)
	}
	return nil
}
