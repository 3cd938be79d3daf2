/**
 * @description
 * SwapVault is the single-currency vault (the system's V3 semantics). Every
 * balance is denominated in the accounting currency; deposits of any other
 * asset are swapped into it through the external router before being
 * credited, with slippage protection and exact, short-lived allowances.
 * Registration of a new asset performs a dry-run quote so assets without a
 * viable swap path never enter the registry.
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
	"math/big"
	"time"

	"github.com/kipubank/vault-service/internal/domain"
	"github.com/kipubank/vault-service/internal/store"
)

const (
	// Fixed 2% slippage tolerance: actual swap output must reach 98% of the
	// quoted output. Policy constant, not configurable.
	slippageNumerator   = 98
	slippageDenominator = 100

	// swapDeadline bounds how long a submitted swap stays valid.
	swapDeadline = 15 * time.Minute
)

// SwapVault holds accounting-currency balances fed by router swaps.
type SwapVault struct {
	ledger
	router SwapRouter
}

// NewSwapVault validates the configuration and assembles the vault.
func NewSwapVault(cfg Config, repo store.Repository, router SwapRouter, custody TokenCustody, producer EventPublisher) (*SwapVault, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.RouterSpender == "" {
		return nil, fmt.Errorf("%w: router spender is required", ErrInvalidConfig)
	}
	if router == nil || repo == nil || custody == nil {
		return nil, fmt.Errorf("%w: repository, router and custody are required", ErrInvalidConfig)
	}
	return &SwapVault{
		ledger: ledger{cfg: cfg, repo: repo, custody: custody, producer: producer},
		router: router,
	}, nil
}

// RegisterAsset adds a token to the registry after a dry-run quote proves a
// swap path to the accounting currency exists. Owner-only.
func (v *SwapVault) RegisterAsset(ctx context.Context, caller string, req domain.RegisterAssetRequest) error {
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	if req.Asset == "" {
		return fmt.Errorf("%w: asset is required", ErrInvalidConfig)
	}
	if req.Asset == v.cfg.AccountingAsset {
		return ErrAssetProtected
	}

	// Probe with one whole token; a failed or empty quote means no liquidity.
	probe, err := normalizeAmount(1, 0, req.Decimals)
	if err != nil {
		return err
	}
	quoted, err := v.router.QuoteOut(ctx, req.Asset, probe)
	if err != nil {
		return fmt.Errorf("%w: dry-run quote failed: %v", ErrConversionFailed, err)
	}
	if quoted == 0 {
		return fmt.Errorf("%w: dry-run quote returned no output", ErrConversionFailed)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	entry := domain.AssetEntry{
		ID:           req.Asset,
		Decimals:     req.Decimals,
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

// Deposit accepts `amount` of `asset` from the caller. Accounting-currency
// deposits are credited as-is; anything else is swapped through the router
// and the actual swap output is what the caller is credited with.
func (v *SwapVault) Deposit(ctx context.Context, caller, asset string, amount uint64) (*domain.Operation, error) {
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

	if asset == v.cfg.AccountingAsset {
		return v.depositAccounting(ctx, caller, amount)
	}

	// Native-currency deposits bypass the registry; everything else must be
	// registered.
	if asset != v.cfg.NativeAsset || v.cfg.NativeAsset == "" {
		if _, err := v.repo.FindAsset(ctx, asset); err != nil {
			if errors.Is(err, store.ErrAssetNotFound) {
				return nil, ErrAssetUnsupported
			}
			return nil, fmt.Errorf("failed to look up asset: %w", err)
		}
	}
	return v.depositViaSwap(ctx, caller, asset, amount)
}

// DepositNative deposits the native currency, swapped to the accounting
// currency like any other non-accounting asset.
func (v *SwapVault) DepositNative(ctx context.Context, caller string, amount uint64) (*domain.Operation, error) {
	if v.cfg.NativeAsset == "" {
		return nil, ErrAssetUnsupported
	}
	return v.Deposit(ctx, caller, v.cfg.NativeAsset, amount)
}

// depositAccounting credits an accounting-currency deposit without touching
// the router. Must be called with the vault mutex held.
func (v *SwapVault) depositAccounting(ctx context.Context, caller string, amount uint64) (*domain.Operation, error) {
	total, err := v.repo.TotalDeposited(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read total deposited: %w", err)
	}
	if amount > remainingCapacity(v.cfg.Capacity, total) {
		return nil, ErrCapacityExceeded
	}
	if err := v.custody.Pull(ctx, v.cfg.AccountingAsset, caller, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return v.commitDeposit(ctx, caller, v.cfg.AccountingAsset, amount, amount, nil)
}

// depositViaSwap pulls the input asset, swaps it for the accounting currency
// with slippage protection, and credits the actual output. Must be called
// with the vault mutex held.
func (v *SwapVault) depositViaSwap(ctx context.Context, caller, asset string, amount uint64) (*domain.Operation, error) {
	quoted, err := v.router.QuoteOut(ctx, asset, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: quote failed: %v", ErrConversionFailed, err)
	}
	if quoted == 0 {
		return nil, fmt.Errorf("%w: quote returned no output", ErrConversionFailed)
	}

	// Fail early on the quoted output so the common capacity violation is
	// detected before any funds move. The actual output is re-checked after
	// the swap settles.
	total, err := v.repo.TotalDeposited(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read total deposited: %w", err)
	}
	if quoted > remainingCapacity(v.cfg.Capacity, total) {
		return nil, ErrCapacityExceeded
	}

	if err := v.custody.Pull(ctx, asset, caller, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	receipt, err := v.executeSwap(ctx, asset, amount, quoted)
	if err != nil {
		// The input sits in custody unswapped; hand it back before failing.
		if refundErr := v.custody.Release(ctx, asset, caller, amount); refundErr != nil {
			log.Printf("level=error component=vault vault=%s msg=\"CRITICAL: failed to refund input after swap failure\" account=%s asset=%s amount=%d err=%v",
				v.cfg.Name, caller, asset, amount, refundErr)
		}
		refund := v.newOperation(caller, domain.OperationSwapRefund, asset, amount, 0)
		if recErr := v.repo.RecordOperation(ctx, refund); recErr != nil {
			log.Printf("level=warn component=vault vault=%s msg=\"failed to journal swap refund\" err=%v", v.cfg.Name, recErr)
		}
		return nil, err
	}

	if receipt.AmountOut > remainingCapacity(v.cfg.Capacity, total) {
		// The swap settled above the quoted output and over the cap. Return
		// the output to the depositor and reject; the ledger never saw it.
		if refundErr := v.custody.Release(ctx, v.cfg.AccountingAsset, caller, receipt.AmountOut); refundErr != nil {
			log.Printf("level=error component=vault vault=%s msg=\"CRITICAL: failed to refund swap output over capacity\" account=%s amount=%d err=%v",
				v.cfg.Name, caller, receipt.AmountOut, refundErr)
		}
		refund := v.newOperation(caller, domain.OperationCapacityRefund, v.cfg.AccountingAsset, receipt.AmountOut, 0)
		if recErr := v.repo.RecordOperation(ctx, refund); recErr != nil {
			log.Printf("level=warn component=vault vault=%s msg=\"failed to journal capacity refund\" err=%v", v.cfg.Name, recErr)
		}
		return nil, ErrCapacityExceeded
	}

	op, err := v.commitDeposit(ctx, caller, asset, amount, receipt.AmountOut, &receipt)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// executeSwap grants the router an exact allowance, swaps, and always resets
// the allowance to zero afterward. The output must be non-zero and at least
// 98% of the quote.
func (v *SwapVault) executeSwap(ctx context.Context, asset string, amount, quoted uint64) (domain.SwapReceipt, error) {
	if err := v.custody.Approve(ctx, asset, v.cfg.RouterSpender, amount); err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	defer func() {
		if err := v.custody.Approve(ctx, asset, v.cfg.RouterSpender, 0); err != nil {
			log.Printf("level=warn component=vault vault=%s msg=\"failed to reset router allowance\" asset=%s err=%v", v.cfg.Name, asset, err)
		}
	}()

	minOut := slippageFloor(quoted)
	receipt, err := v.router.SwapExactIn(ctx, asset, amount, minOut, time.Now().Add(swapDeadline))
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("%w: swap failed: %v", ErrConversionFailed, err)
	}
	if receipt.AmountOut == 0 {
		return domain.SwapReceipt{}, fmt.Errorf("%w: swap produced zero output", ErrConversionFailed)
	}
	if receipt.AmountOut < minOut {
		return domain.SwapReceipt{}, fmt.Errorf("%w: swap output %d below floor %d", ErrConversionFailed, receipt.AmountOut, minOut)
	}
	return receipt, nil
}

// commitDeposit applies the ledger mutation and publishes events. Must be
// called with the vault mutex held.
func (v *SwapVault) commitDeposit(ctx context.Context, caller, assetIn string, amountIn, credited uint64, receipt *domain.SwapReceipt) (*domain.Operation, error) {
	m := store.DepositMutation{
		Op:     v.newOperation(caller, domain.OperationDeposit, assetIn, amountIn, credited),
		Credit: store.BalanceChange{Account: caller, Asset: v.cfg.AccountingAsset, Native: credited, Accounted: credited},
	}
	if err := v.repo.ApplyDeposit(ctx, m); err != nil {
		// The credited value sits in custody; send it back before failing.
		if refundErr := v.custody.Release(ctx, v.cfg.AccountingAsset, caller, credited); refundErr != nil {
			log.Printf("level=error component=vault vault=%s msg=\"CRITICAL: failed to refund deposit after commit failure\" account=%s amount=%d err=%v",
				v.cfg.Name, caller, credited, refundErr)
		}
		return nil, fmt.Errorf("failed to commit deposit: %w", err)
	}

	v.publish(ctx, domain.EventDepositCompleted, domain.DepositEvent{
		OperationID: m.Op.ID.String(),
		Vault:       v.cfg.Name,
		Account:     caller,
		Asset:       assetIn,
		Amount:      amountIn,
		Value:       credited,
		OccurredAt:  m.Op.CreatedAt,
	})
	if receipt != nil {
		v.publish(ctx, domain.EventSwapExecuted, domain.SwapEvent{
			OperationID: m.Op.ID.String(),
			Vault:       v.cfg.Name,
			Account:     caller,
			AssetIn:     assetIn,
			AmountIn:    receipt.AmountIn,
			AmountOut:   receipt.AmountOut,
			OccurredAt:  m.Op.CreatedAt,
		})
	}
	op := m.Op
	return &op, nil
}

// Withdraw debits the caller's accounting-currency balance and releases the
// funds. The debit commits before the external release, so a re-entrant
// withdraw always observes the reduced balance. Never gated by the pause flag.
func (v *SwapVault) Withdraw(ctx context.Context, caller string, amount uint64) (*domain.Operation, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if amount > v.cfg.WithdrawCeiling {
		return nil, ErrWithdrawLimit
	}

	v.mu.Lock()
	bal, err := v.repo.Balance(ctx, caller, v.cfg.AccountingAsset)
	if err != nil {
		v.mu.Unlock()
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if bal.Native < amount {
		v.mu.Unlock()
		return nil, ErrInsufficientFunds
	}

	m := store.WithdrawalMutation{
		Op:    v.newOperation(caller, domain.OperationWithdrawal, v.cfg.AccountingAsset, amount, amount),
		Debit: store.BalanceChange{Account: caller, Asset: v.cfg.AccountingAsset, Native: amount, Accounted: amount},
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

// slippageFloor computes quoted * 98 / 100 with truncating division, widened
// through math/big so a large quote cannot wrap.
func slippageFloor(quoted uint64) uint64 {
	f := new(big.Int).SetUint64(quoted)
	f.Mul(f, big.NewInt(slippageNumerator))
	f.Quo(f, big.NewInt(slippageDenominator))
	return f.Uint64()
}
