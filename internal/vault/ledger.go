/**
 * @description
 * This file contains the state and behavior shared by both vault versions:
 * the immutable construction-time configuration, the critical section that
 * serializes ledger mutations, owner authorization, the pause flag, the token
 * registry transitions, the read-only accessors, event publishing, and the
 * withdrawal release/compensation flow.
 *
 * Concurrency model: every public operation that mutates ledger state runs
 * its validation and commit inside the vault mutex, so concurrent callers
 * observe the ledger as a sequence of indivisible operations. The external
 * fund release of a withdrawal happens after the debit has committed and
 * outside the critical section; a caller re-entering withdraw during the
 * release therefore sees the already-debited balance.
 *
 * @dependencies
 * - github.com/google/uuid: Operation journal identifiers.
 * - internal/domain, internal/store: Domain models and persistence.
 */

package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kipubank/vault-service/internal/domain"
	"github.com/kipubank/vault-service/internal/store"
)

// eventsExchange is the topic exchange all vault events are published to.
const eventsExchange = "kipubank.events"

// Config carries the immutable vault parameters fixed at construction.
// Capacity and WithdrawCeiling are in accounting-currency smallest units. The
// swap vault compares WithdrawCeiling against the requested amount directly;
// the priced vault compares it against the pro-rata valuation the withdrawal
// retires.
type Config struct {
	Name               string // vault identifier used in events and storage
	Owner              string
	Capacity           uint64
	WithdrawCeiling    uint64
	AccountingAsset    string
	AccountingDecimals uint8

	// Native-currency deposits. Optional for the priced vault; when unset,
	// DepositNative rejects with ErrAssetUnsupported.
	NativeAsset    string
	NativeDecimals uint8
	NativeFeedID   string // priced vault only

	// RouterSpender is the identity granted swap allowances (swap vault only).
	RouterSpender string
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: vault name is required", ErrInvalidConfig)
	}
	if c.Owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidConfig)
	}
	if c.Capacity == 0 {
		return fmt.Errorf("%w: capacity must be greater than zero", ErrInvalidConfig)
	}
	if c.WithdrawCeiling == 0 {
		return fmt.Errorf("%w: withdrawal ceiling must be greater than zero", ErrInvalidConfig)
	}
	if c.AccountingAsset == "" {
		return fmt.Errorf("%w: accounting asset is required", ErrInvalidConfig)
	}
	return nil
}

// ledger is the shared core embedded by both vaults.
type ledger struct {
	mu       sync.Mutex
	cfg      Config
	repo     store.Repository
	custody  TokenCustody
	producer EventPublisher

	limiter         RateLimiter
	depositLimitMin int
}

// SetDepositRateLimiter enables per-caller deposit throttling. A nil limiter
// or non-positive limit disables it.
func (l *ledger) SetDepositRateLimiter(limiter RateLimiter, perMinute int) {
	l.limiter = limiter
	l.depositLimitMin = perMinute
}

func (l *ledger) requireOwner(caller string) error {
	if caller == "" || caller != l.cfg.Owner {
		return ErrUnauthorized
	}
	return nil
}

// checkDepositRate consults the optional limiter before deposit work begins.
// A limiter transport failure is logged and the deposit allowed: throttling
// must never take the exit-and-entry path down with it.
func (l *ledger) checkDepositRate(ctx context.Context, caller string) error {
	if l.limiter == nil || l.depositLimitMin <= 0 {
		return nil
	}
	count, retryAfter, err := l.limiter.ConsumeRateLimit(ctx, l.cfg.Name+":deposit", caller, l.depositLimitMin, time.Minute)
	if err != nil {
		log.Printf("level=warn component=vault vault=%s msg=\"rate limiter unavailable; allowing deposit\" err=%v", l.cfg.Name, err)
		return nil
	}
	if count > l.depositLimitMin {
		return fmt.Errorf("%w: retry after %ds", ErrRateLimited, retryAfter)
	}
	return nil
}

func (l *ledger) newOperation(account, kind, asset string, amount, value uint64) domain.Operation {
	return domain.Operation{
		ID:        uuid.New(),
		Account:   account,
		Kind:      kind,
		Asset:     asset,
		Amount:    amount,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}
}

// publish sends an event to the broker. Failures are logged and swallowed: a
// committed ledger mutation is never rolled back for a notification.
func (l *ledger) publish(ctx context.Context, routingKey string, body interface{}) {
	if l.producer == nil {
		return
	}
	if err := l.producer.Publish(ctx, eventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=vault vault=%s msg=\"event publish failed\" routing_key=%s err=%v", l.cfg.Name, routingKey, err)
	}
}

// remainingCapacity computes how much accounting value the bank can still
// accept, guarding against an aggregate that drifted above capacity.
func remainingCapacity(capacity, total uint64) uint64 {
	if total >= capacity {
		return 0
	}
	return capacity - total
}

// SetPaused toggles the deposit gate. Owner-only. Withdrawals are never
// affected so depositors can always exit.
func (l *ledger) SetPaused(ctx context.Context, caller string, paused bool) error {
	if err := l.requireOwner(caller); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.repo.SetPaused(ctx, paused); err != nil {
		return fmt.Errorf("failed to persist pause flag: %w", err)
	}
	l.publish(ctx, domain.EventPauseChanged, domain.PauseEvent{
		Vault:      l.cfg.Name,
		Paused:     paused,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// DeregisterAsset removes an asset from the registry. Owner-only. The
// accounting currency is implicitly registered and can never leave.
func (l *ledger) DeregisterAsset(ctx context.Context, caller, asset string) error {
	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if asset == l.cfg.AccountingAsset {
		return ErrAssetProtected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.repo.RemoveAsset(ctx, asset); err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			return ErrAssetUnsupported
		}
		return fmt.Errorf("failed to deregister asset: %w", err)
	}
	l.publish(ctx, domain.EventAssetDeregistered, domain.RegistryEvent{
		Vault:      l.cfg.Name,
		Asset:      asset,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// IsSupported reports whether an asset is accepted for deposit. The
// accounting currency is always supported.
func (l *ledger) IsSupported(ctx context.Context, asset string) (bool, error) {
	if asset == l.cfg.AccountingAsset {
		return true, nil
	}
	_, err := l.repo.FindAsset(ctx, asset)
	if errors.Is(err, store.ErrAssetNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up asset: %w", err)
	}
	return true, nil
}

// BalanceOf returns one account's holdings of one asset.
func (l *ledger) BalanceOf(ctx context.Context, account, asset string) (domain.Balance, error) {
	return l.repo.Balance(ctx, account, asset)
}

// Counters returns the account's deposit and withdrawal counts.
func (l *ledger) Counters(ctx context.Context, account string) (domain.Counters, error) {
	return l.repo.Counters(ctx, account)
}

// History returns the account's most recent journal records.
func (l *ledger) History(ctx context.Context, account string, limit int) ([]domain.Operation, error) {
	return l.repo.ListOperations(ctx, account, limit)
}

// Stats returns the aggregate read model for the vault.
func (l *ledger) Stats(ctx context.Context) (domain.VaultStats, error) {
	total, err := l.repo.TotalDeposited(ctx)
	if err != nil {
		return domain.VaultStats{}, err
	}
	paused, err := l.repo.Paused(ctx)
	if err != nil {
		return domain.VaultStats{}, err
	}
	return domain.VaultStats{
		TotalDeposited:    total,
		Capacity:          l.cfg.Capacity,
		RemainingCapacity: remainingCapacity(l.cfg.Capacity, total),
		WithdrawCeiling:   l.cfg.WithdrawCeiling,
		Paused:            paused,
	}, nil
}

// releaseWithdrawal pays out an already-debited withdrawal. Called after the
// debit has committed and the vault mutex has been released. A failed release
// is compensated by restoring the balance and aggregate, then surfaced as
// ErrTransferFailed so the caller sees the ledger as if the withdrawal never
// happened.
func (l *ledger) releaseWithdrawal(ctx context.Context, m store.WithdrawalMutation) (*domain.Operation, error) {
	if err := l.custody.Release(ctx, m.Debit.Asset, m.Debit.Account, m.Debit.Native); err != nil {
		l.mu.Lock()
		rev := m
		rev.Op = l.newOperation(m.Debit.Account, domain.OperationWithdrawalReversal, m.Debit.Asset, m.Debit.Native, m.Debit.Accounted)
		if revErr := l.repo.RevertWithdrawal(ctx, rev); revErr != nil {
			log.Printf("level=error component=vault vault=%s msg=\"CRITICAL: failed to restore balance after release failure\" account=%s asset=%s amount=%d err=%v",
				l.cfg.Name, m.Debit.Account, m.Debit.Asset, m.Debit.Native, revErr)
		}
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	op := m.Op
	l.publish(ctx, domain.EventWithdrawalCompleted, domain.WithdrawalEvent{
		OperationID: op.ID.String(),
		Vault:       l.cfg.Name,
		Account:     op.Account,
		Asset:       op.Asset,
		Amount:      op.Amount,
		Value:       op.Value,
		OccurredAt:  op.CreatedAt,
	})
	return &op, nil
}
