/**
 * @description
 * This file defines the interfaces for the vault's external collaborators:
 * the price feed, the swap router, and the token custody rail. The vaults
 * depend only on these contracts; the pkg/ HTTP clients provide the
 * production implementations and tests substitute stubs. Every call is a
 * fallible remote call — a failure anywhere aborts the whole operation, with
 * no implicit retry.
 */

package vault

import (
	"context"
	"time"

	"github.com/kipubank/vault-service/internal/domain"
)

// PriceFeed reads the latest round from an external price oracle.
type PriceFeed interface {
	LatestRound(ctx context.Context, feedID string) (domain.FeedRound, error)
}

// SwapRouter quotes and executes swaps of an input asset into the accounting
// currency. SwapExactIn must fail rather than settle below minOut, and the
// deadline is a validity bound enforced by the router.
type SwapRouter interface {
	QuoteOut(ctx context.Context, assetIn string, amountIn uint64) (uint64, error)
	SwapExactIn(ctx context.Context, assetIn string, amountIn, minOut uint64, deadline time.Time) (domain.SwapReceipt, error)
}

// TokenCustody moves value between external accounts and the vault's custody.
// Pull draws funds from a depositor, Release pays funds out, and Approve
// grants (or with zero, revokes) a spend allowance to the router.
type TokenCustody interface {
	Pull(ctx context.Context, asset, from string, amount uint64) error
	Release(ctx context.Context, asset, to string, amount uint64) error
	Approve(ctx context.Context, asset, spender string, amount uint64) error
}

// EventPublisher publishes vault events to the message broker. Publishing is
// best-effort: a broker failure never rolls back a committed ledger mutation.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// RateLimiter throttles deposit attempts per caller. Implementations return
// the observed count in the current window and a retry-after hint in seconds.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}
