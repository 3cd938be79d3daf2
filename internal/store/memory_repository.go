/**
 * @description
 * In-memory Repository implementation. A single mutex serializes every
 * mutation so each Apply call is atomic, and all reads hand back copies so
 * callers can never alias internal state. Used by the test suite and as the
 * fallback store when no DATABASE_URL is configured.
 */

package store

import (
	"context"
	"sync"

	"github.com/kipubank/vault-service/internal/domain"
)

type balanceKey struct {
	account string
	asset   string
}

// MemoryRepository keeps the entire vault ledger in process memory.
type MemoryRepository struct {
	mu       sync.Mutex
	balances map[balanceKey]domain.Balance
	counters map[string]domain.Counters
	assets   map[string]domain.AssetEntry
	journal  []domain.Operation
	total    uint64
	paused   bool
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		balances: make(map[balanceKey]domain.Balance),
		counters: make(map[string]domain.Counters),
		assets:   make(map[string]domain.AssetEntry),
	}
}

func (r *MemoryRepository) Balance(ctx context.Context, account, asset string) (domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[balanceKey{account, asset}], nil
}

func (r *MemoryRepository) Counters(ctx context.Context, account string) (domain.Counters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[account], nil
}

func (r *MemoryRepository) TotalDeposited(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total, nil
}

func (r *MemoryRepository) Paused(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused, nil
}

func (r *MemoryRepository) ListOperations(ctx context.Context, account string, limit int) ([]domain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]domain.Operation, 0, limit)
	// Newest first, matching the Postgres ORDER BY created_at DESC.
	for i := len(r.journal) - 1; i >= 0; i-- {
		if r.journal[i].Account != account {
			continue
		}
		ops = append(ops, r.journal[i])
		if limit > 0 && len(ops) == limit {
			break
		}
	}
	return ops, nil
}

func (r *MemoryRepository) FindAsset(ctx context.Context, assetID string) (*domain.AssetEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.assets[assetID]
	if !ok {
		return nil, ErrAssetNotFound
	}
	out := entry
	return &out, nil
}

func (r *MemoryRepository) UpsertAsset(ctx context.Context, entry domain.AssetEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[entry.ID] = entry
	return nil
}

func (r *MemoryRepository) RemoveAsset(ctx context.Context, assetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[assetID]; !ok {
		return ErrAssetNotFound
	}
	delete(r.assets, assetID)
	return nil
}

func (r *MemoryRepository) SetPaused(ctx context.Context, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = paused
	return nil
}

func (r *MemoryRepository) ApplyDeposit(ctx context.Context, m DepositMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := balanceKey{m.Credit.Account, m.Credit.Asset}
	bal := r.balances[key]
	bal.Native += m.Credit.Native
	bal.Accounted += m.Credit.Accounted
	r.balances[key] = bal
	r.total += m.Credit.Accounted
	c := r.counters[m.Credit.Account]
	c.Deposits++
	r.counters[m.Credit.Account] = c
	r.journal = append(r.journal, m.Op)
	return nil
}

func (r *MemoryRepository) ApplyWithdrawal(ctx context.Context, m WithdrawalMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := balanceKey{m.Debit.Account, m.Debit.Asset}
	bal := r.balances[key]
	if bal.Native < m.Debit.Native || bal.Accounted < m.Debit.Accounted || r.total < m.Debit.Accounted {
		return ErrInsufficientBalance
	}
	bal.Native -= m.Debit.Native
	bal.Accounted -= m.Debit.Accounted
	r.balances[key] = bal
	r.total -= m.Debit.Accounted
	c := r.counters[m.Debit.Account]
	c.Withdrawals++
	r.counters[m.Debit.Account] = c
	r.journal = append(r.journal, m.Op)
	return nil
}

func (r *MemoryRepository) RevertWithdrawal(ctx context.Context, m WithdrawalMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := balanceKey{m.Debit.Account, m.Debit.Asset}
	bal := r.balances[key]
	bal.Native += m.Debit.Native
	bal.Accounted += m.Debit.Accounted
	r.balances[key] = bal
	r.total += m.Debit.Accounted
	r.journal = append(r.journal, m.Op)
	return nil
}

func (r *MemoryRepository) RecordOperation(ctx context.Context, op domain.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal = append(r.journal, op)
	return nil
}
