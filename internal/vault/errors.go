/**
 * @description
 * This file centralizes the domain errors for the vault ledger. Each named
 * failure condition is its own sentinel so callers and tests can match on the
 * specific kind with errors.Is, and the HTTP layer can translate each one to
 * an appropriate status code. No operation ever fails with a generic
 * catch-all: every abort path wraps exactly one of these.
 */

package vault

import "errors"

var (
	// ErrInvalidAmount rejects zero-amount deposits and withdrawals.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidConfig rejects zero or missing construction parameters.
	ErrInvalidConfig = errors.New("invalid vault configuration")

	// ErrUnauthorized rejects owner-gated operations invoked by anyone else.
	ErrUnauthorized = errors.New("caller is not the vault owner")

	// ErrAssetUnsupported rejects assets that are neither the accounting
	// currency nor present in the token registry.
	ErrAssetUnsupported = errors.New("asset is not supported")

	// ErrAssetProtected rejects deregistration of the accounting currency,
	// which is implicitly and permanently registered.
	ErrAssetProtected = errors.New("accounting asset cannot be deregistered")

	// ErrCapacityExceeded rejects deposits that would push the aggregate
	// total above the bank capacity.
	ErrCapacityExceeded = errors.New("deposit would exceed bank capacity")

	// ErrInsufficientFunds rejects withdrawals above the caller's balance.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrWithdrawLimit rejects withdrawals above the per-transaction ceiling.
	ErrWithdrawLimit = errors.New("amount exceeds per-transaction withdrawal limit")

	// ErrDepositsPaused rejects deposits while the pause flag is set.
	// Withdrawals are never gated by the flag.
	ErrDepositsPaused = errors.New("deposits are paused")

	// ErrStalePrice rejects price feed rounds whose freshness or round
	// invariants fail validation.
	ErrStalePrice = errors.New("price feed data is stale")

	// ErrConversionFailed covers conversions that produce no usable value: a
	// swap with zero output, a missing swap path (including the
	// registration-time dry run), or a valuation that overflows the
	// accounting range.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrTransferFailed wraps failures reported by the token custody
	// collaborator while pulling or releasing funds.
	ErrTransferFailed = errors.New("token transfer failed")

	// ErrRateLimited rejects deposits throttled by the optional per-caller
	// rate limiter. This is operational hardening, not part of the ledger
	// state machine.
	ErrRateLimited = errors.New("deposit rate limit exceeded")
)
