package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kipubank/vault-service/internal/domain"
)

func depositMutation(account, asset string, native, accounted uint64) DepositMutation {
	return DepositMutation{
		Op: domain.Operation{
			ID:        uuid.New(),
			Account:   account,
			Kind:      domain.OperationDeposit,
			Asset:     asset,
			Amount:    native,
			Value:     accounted,
			CreatedAt: time.Now().UTC(),
		},
		Credit: BalanceChange{Account: account, Asset: asset, Native: native, Accounted: accounted},
	}
}

func withdrawalMutation(account, asset string, native, accounted uint64) WithdrawalMutation {
	return WithdrawalMutation{
		Op: domain.Operation{
			ID:        uuid.New(),
			Account:   account,
			Kind:      domain.OperationWithdrawal,
			Asset:     asset,
			Amount:    native,
			Value:     accounted,
			CreatedAt: time.Now().UTC(),
		},
		Debit: BalanceChange{Account: account, Asset: asset, Native: native, Accounted: accounted},
	}
}

func TestMemoryRepositoryDepositWithdrawCycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.ApplyDeposit(ctx, depositMutation("alice", "ETH", 1000, 500)); err != nil {
		t.Fatalf("ApplyDeposit returned error: %v", err)
	}
	if err := repo.ApplyDeposit(ctx, depositMutation("alice", "ETH", 1000, 500)); err != nil {
		t.Fatalf("ApplyDeposit returned error: %v", err)
	}

	bal, _ := repo.Balance(ctx, "alice", "ETH")
	if bal.Native != 2000 || bal.Accounted != 1000 {
		t.Fatalf("unexpected balance %+v", bal)
	}
	total, _ := repo.TotalDeposited(ctx)
	if total != 1000 {
		t.Fatalf("total %d, want 1000", total)
	}

	if err := repo.ApplyWithdrawal(ctx, withdrawalMutation("alice", "ETH", 500, 250)); err != nil {
		t.Fatalf("ApplyWithdrawal returned error: %v", err)
	}
	bal, _ = repo.Balance(ctx, "alice", "ETH")
	if bal.Native != 1500 || bal.Accounted != 750 {
		t.Fatalf("unexpected balance after withdrawal %+v", bal)
	}
	total, _ = repo.TotalDeposited(ctx)
	if total != 750 {
		t.Fatalf("total %d, want 750", total)
	}

	counters, _ := repo.Counters(ctx, "alice")
	if counters.Deposits != 2 || counters.Withdrawals != 1 {
		t.Fatalf("unexpected counters %+v", counters)
	}
}

func TestMemoryRepositoryWithdrawalGuard(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.ApplyDeposit(ctx, depositMutation("alice", "ETH", 100, 100)); err != nil {
		t.Fatalf("ApplyDeposit returned error: %v", err)
	}

	err := repo.ApplyWithdrawal(ctx, withdrawalMutation("alice", "ETH", 101, 100))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// A rejected withdrawal must leave everything untouched.
	bal, _ := repo.Balance(ctx, "alice", "ETH")
	if bal.Native != 100 {
		t.Fatalf("balance mutated by rejected withdrawal: %+v", bal)
	}
	counters, _ := repo.Counters(ctx, "alice")
	if counters.Withdrawals != 0 {
		t.Fatalf("counter mutated by rejected withdrawal: %+v", counters)
	}
}

func TestMemoryRepositoryRevertWithdrawal(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.ApplyDeposit(ctx, depositMutation("alice", "USDC", 1000, 1000)); err != nil {
		t.Fatalf("ApplyDeposit returned error: %v", err)
	}
	if err := repo.ApplyWithdrawal(ctx, withdrawalMutation("alice", "USDC", 400, 400)); err != nil {
		t.Fatalf("ApplyWithdrawal returned error: %v", err)
	}

	rev := withdrawalMutation("alice", "USDC", 400, 400)
	rev.Op.Kind = domain.OperationWithdrawalReversal
	if err := repo.RevertWithdrawal(ctx, rev); err != nil {
		t.Fatalf("RevertWithdrawal returned error: %v", err)
	}

	bal, _ := repo.Balance(ctx, "alice", "USDC")
	if bal.Native != 1000 || bal.Accounted != 1000 {
		t.Fatalf("revert must restore the balance, got %+v", bal)
	}
	total, _ := repo.TotalDeposited(ctx)
	if total != 1000 {
		t.Fatalf("revert must restore the aggregate, got %d", total)
	}

	// The withdrawal counter stays incremented: counters are monotonic.
	counters, _ := repo.Counters(ctx, "alice")
	if counters.Withdrawals != 1 {
		t.Fatalf("revert must not roll back counters, got %+v", counters)
	}
}

func TestMemoryRepositoryListOperationsNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first := depositMutation("alice", "ETH", 1, 1)
	second := depositMutation("alice", "ETH", 2, 2)
	other := depositMutation("bob", "ETH", 9, 9)
	for _, m := range []DepositMutation{first, other, second} {
		if err := repo.ApplyDeposit(ctx, m); err != nil {
			t.Fatalf("ApplyDeposit returned error: %v", err)
		}
	}

	ops, err := repo.ListOperations(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListOperations returned error: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected alice's two operations, got %d", len(ops))
	}
	if ops[0].ID != second.Op.ID || ops[1].ID != first.Op.ID {
		t.Fatalf("operations not newest first: %+v", ops)
	}

	limited, _ := repo.ListOperations(ctx, "alice", 1)
	if len(limited) != 1 || limited[0].ID != second.Op.ID {
		t.Fatalf("limit must keep the newest entry, got %+v", limited)
	}
}

func TestMemoryRepositoryAssetRegistry(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.FindAsset(ctx, "WBTC"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}

	entry := domain.AssetEntry{ID: "WBTC", Decimals: 8, FeedID: "wbtc-usd", RegisteredAt: time.Now().UTC()}
	if err := repo.UpsertAsset(ctx, entry); err != nil {
		t.Fatalf("UpsertAsset returned error: %v", err)
	}

	got, err := repo.FindAsset(ctx, "WBTC")
	if err != nil {
		t.Fatalf("FindAsset returned error: %v", err)
	}
	if got.Decimals != 8 || got.FeedID != "wbtc-usd" {
		t.Fatalf("unexpected asset entry %+v", got)
	}

	if err := repo.RemoveAsset(ctx, "WBTC"); err != nil {
		t.Fatalf("RemoveAsset returned error: %v", err)
	}
	if err := repo.RemoveAsset(ctx, "WBTC"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound on second removal, got %v", err)
	}
}

func TestMemoryRepositoryPauseFlag(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	paused, _ := repo.Paused(ctx)
	if paused {
		t.Fatalf("new repository must start unpaused")
	}
	if err := repo.SetPaused(ctx, true); err != nil {
		t.Fatalf("SetPaused returned error: %v", err)
	}
	paused, _ = repo.Paused(ctx)
	if !paused {
		t.Fatalf("pause flag not persisted")
	}
}
