/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all persistence operations required by the vault ledger. By defining an
 * interface, we decouple the ledger's business logic from the specific
 * backing store (Postgres in production, an in-memory map in tests and
 * broker-less development).
 *
 * The vaults serialize all ledger mutations under their own critical section,
 * so implementations only need to guarantee that each Apply/Revert call is
 * all-or-nothing: either every row touched by the mutation commits, or none do.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/kipubank/vault-service/internal/domain"
)

var (
	// ErrAssetNotFound is returned when a registry lookup misses.
	ErrAssetNotFound = errors.New("asset not found in registry")

	// ErrInsufficientBalance is returned when a debit exceeds the stored
	// balance. The vault pre-checks under its lock, so hitting this
	// indicates the store and ledger disagree.
	ErrInsufficientBalance = errors.New("stored balance below requested debit")
)

// BalanceChange addresses one balance row and the amounts applied to it.
// Native is in the asset's smallest unit; Accounted is the accounting-currency
// valuation moved against the bank aggregate alongside it.
type BalanceChange struct {
	Account   string
	Asset     string
	Native    uint64
	Accounted uint64
}

// DepositMutation is the atomic unit committed for a successful deposit:
// credit one balance row, raise the aggregate total by Credit.Accounted,
// increment the account's deposit counter, and append the journal record.
type DepositMutation struct {
	Op     domain.Operation
	Credit BalanceChange
}

// WithdrawalMutation is the atomic unit committed for a withdrawal: debit one
// balance row, lower the aggregate total by Debit.Accounted, increment the
// account's withdrawal counter, and append the journal record.
type WithdrawalMutation struct {
	Op    domain.Operation
	Debit BalanceChange
}

// Repository defines the set of methods for persisting vault ledger state.
type Repository interface {
	// Read model
	Balance(ctx context.Context, account, asset string) (domain.Balance, error)
	Counters(ctx context.Context, account string) (domain.Counters, error)
	TotalDeposited(ctx context.Context) (uint64, error)
	Paused(ctx context.Context) (bool, error)
	ListOperations(ctx context.Context, account string, limit int) ([]domain.Operation, error)

	// Token registry
	FindAsset(ctx context.Context, assetID string) (*domain.AssetEntry, error)
	UpsertAsset(ctx context.Context, entry domain.AssetEntry) error
	RemoveAsset(ctx context.Context, assetID string) error

	// Ledger mutations
	SetPaused(ctx context.Context, paused bool) error
	ApplyDeposit(ctx context.Context, m DepositMutation) error
	ApplyWithdrawal(ctx context.Context, m WithdrawalMutation) error
	// RevertWithdrawal compensates a withdrawal whose external fund release
	// failed: the balance and aggregate come back, the withdrawal counter
	// does not (counters are monotonic).
	RevertWithdrawal(ctx context.Context, m WithdrawalMutation) error
	// RecordOperation appends a journal-only record with no balance effect,
	// used for compensating refunds that never touched the ledger.
	RecordOperation(ctx context.Context, op domain.Operation) error
}
