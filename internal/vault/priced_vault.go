/**
 * @description
 * PricedVault is the multi-token vault (the system's V2 semantics). Deposited
 * assets stay on the books in their own native units; an external price feed
 * values each deposit in the accounting currency, and that valuation is what
 * counts against the bank capacity. Withdrawals release the original asset
 * and retire a pro-rata share of the valuation.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and persistence.
 */

package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kipubank/vault-service/internal/domain"
	"github.com/kipubank/vault-service/internal/store"
)

// PricedVault holds multi-asset balances valued through price feeds.
type PricedVault struct {
	ledger
	feed PriceFeed
}

// NewPricedVault validates the configuration and assembles the vault.
func NewPricedVault(cfg Config, repo store.Repository, feed PriceFeed, custody TokenCustody, producer EventPublisher) (*PricedVault, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if feed == nil || repo == nil || custody == nil {
		return nil, fmt.Errorf("%w: repository, price feed and custody are required", ErrInvalidConfig)
	}
	return &PricedVault{
		ledger: ledger{cfg: cfg, repo: repo, custody: custody, producer: producer},
		feed:   feed,
	}, nil
}

// RegisterAsset adds a token to the registry with its decimal precision and
// price feed. Owner-only. The accounting currency is implicitly registered
// and cannot be re-registered with different metadata.
func (v *PricedVault) RegisterAsset(ctx context.Context, caller string, req domain.RegisterAssetRequest) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if req.Asset == "" || req.FeedID == "" {
		return fmt.Errorf("%w: asset and feed id are required", ErrInvalidConfig)
	}
	if req.Asset == v.cfg.AccountingAsset {
		return ErrAssetProtected
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	entry := domain.AssetEntry{
		ID:           req.Asset,
		Decimals:     req.Decimals,
		FeedID:       req.FeedID,
		RegisteredAt: time.Now().UTC(),
	}
	if err := v.repo.UpsertAsset(ctx, entry); err != nil {
		return fmt.Errorf("failed to register asset: %w", err)
	}
	v.publish(ctx, domain.EventAssetRegistered, domain.RegistryEvent{
		Vault:      v.cfg.Name,
		Asset:      req.Asset,
		OccurredAt: entry.RegisteredAt,
	})
	return nil
}

// Deposit pulls `amount` of `asset` from the caller into custody and credits
// the caller's balance in the asset's native units, counting the feed
// valuation against the bank capacity.
func (v *PricedVault) Deposit(ctx context.Context, caller, asset string, amount uint64) (*domain.Operation, error) {
	if asset == v.cfg.NativeAsset && asset != "" {
		return v.DepositNative(ctx, caller, amount)
	}
	return v.deposit(ctx, caller, asset, amount, false)
}

// DepositNative deposits the native currency, valued through the feed fixed
// at construction. The native asset is implicitly convertible and bypasses
// the registry.
func (v *PricedVault) DepositNative(ctx context.Context, caller string, amount uint64) (*domain.Operation, error) {
	if v.cfg.NativeAsset == "" || v.cfg.NativeFeedID == "" {
		return nil, ErrAssetUnsupported
	}
	return v.deposit(ctx, caller, v.cfg.NativeAsset, amount, true)
}

func (v *PricedVault) deposit(ctx context.Context, caller, asset string, amount uint64, native bool) (*domain.Operation, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if err := v.checkDepositRate(ctx, caller); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	paused, err := v.repo.Paused(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pause flag: %w", err)
	}
	if paused {
		return nil, ErrDepositsPaused
	}

	value, err := v.depositValue(ctx, asset, amount, native)
	if err != nil {
		return nil, err
	}

	// The cap is checked with the quoted valuation before any funds move, so
	// a capacity violation never needs a compensating refund.
	total, err := v.repo.TotalDeposited(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read total deposited: %w", err)
	}
	if value > remainingCapacity(v.cfg.Capacity, total) {
		return nil, ErrCapacityExceeded
	}

	if err := v.custody.Pull(ctx, asset, caller, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	m := store.DepositMutation{
		Op:     v.newOperation(caller, domain.OperationDeposit, asset, amount, value),
		Credit: store.BalanceChange{Account: caller, Asset: asset, Native: amount, Accounted: value},
	}
	if err := v.repo.ApplyDeposit(ctx, m); err != nil {
		// Funds are already in custody; send them back before failing.
		if refundErr := v.custody.Release(ctx, asset, caller, amount); refundErr != nil {
			log.Printf("level=error component=vault vault=%s msg=\"CRITICAL: failed to refund deposit after commit failure\" account=%s asset=%s amount=%d err=%v",
				v.cfg.Name, caller, asset, amount, refundErr)
		}
		return nil, fmt.Errorf("failed to commit deposit: %w", err)
	}

	v.publish(ctx, domain.EventDepositCompleted, domain.DepositEvent{
		OperationID: m.Op.ID.String(),
		Vault:       v.cfg.Name,
		Account:     caller,
		Asset:       asset,
		Amount:      amount,
		Value:       value,
		OccurredAt:  m.Op.CreatedAt,
	})
	op := m.Op
	return &op, nil
}

// depositValue resolves the accounting-currency valuation of a deposit. Must
// be called with the vault mutex held.
func (v *PricedVault) depositValue(ctx context.Context, asset string, amount uint64, native bool) (uint64, error) {
	if asset == v.cfg.AccountingAsset {
		// Common case: no oracle dependency for the accounting currency.
		return amount, nil
	}

	feedID := v.cfg.NativeFeedID
	decimals := v.cfg.NativeDecimals
	if !native {
		entry, err := v.repo.FindAsset(ctx, asset)
		if err != nil {
			if errors.Is(err, store.ErrAssetNotFound) {
				return 0, ErrAssetUnsupported
			}
			return 0, fmt.Errorf("failed to look up asset: %w", err)
		}
		feedID = entry.FeedID
		decimals = entry.Decimals
	}

	round, err := v.feed.LatestRound(ctx, feedID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStalePrice, err)
	}
	return valuation(amount, decimals, round, v.cfg.AccountingDecimals)
}

// Withdraw debits the caller's balance in the asset's native units and
// releases the funds. The per-transaction ceiling bounds the accounting
// valuation retired by the withdrawal, so one limit covers every asset
// regardless of its native precision. The debit commits before the external
// release, so a re-entrant withdraw always observes the reduced balance.
func (v *PricedVault) Withdraw(ctx context.Context, caller, asset string, amount uint64) (*domain.Operation, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	v.mu.Lock()
	supported, err := v.IsSupported(ctx, asset)
	if err != nil {
		v.mu.Unlock()
		return nil, err
	}
	if !supported && asset != v.cfg.NativeAsset {
		v.mu.Unlock()
		return nil, ErrAssetUnsupported
	}

	bal, err := v.repo.Balance(ctx, caller, asset)
	if err != nil {
		v.mu.Unlock()
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if bal.Native < amount {
		v.mu.Unlock()
		return nil, ErrInsufficientFunds
	}

	value := proRataValue(bal, amount)
	if value > v.cfg.WithdrawCeiling {
		v.mu.Unlock()
		return nil, ErrWithdrawLimit
	}
	m := store.WithdrawalMutation{
		Op:    v.newOperation(caller, domain.OperationWithdrawal, asset, amount, value),
		Debit: store.BalanceChange{Account: caller, Asset: asset, Native: amount, Accounted: value},
	}
	if err := v.repo.ApplyWithdrawal(ctx, m); err != nil {
		v.mu.Unlock()
		if errors.Is(err, store.ErrInsufficientBalance) {
			return nil, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to commit withdrawal: %w", err)
	}
	v.mu.Unlock()

	return v.releaseWithdrawal(ctx, m)
}
