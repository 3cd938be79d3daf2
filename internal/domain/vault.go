/**
 * @description
 * This file defines the core domain models for the vault-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `uint64` in the smallest unit of the relevant asset
 *   (6-decimal fixed-point for the accounting currency), which avoids
 *   floating-point inaccuracies with financial data.
 * - Every monetary mutation is mirrored by an `Operation` journal record.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operation kinds recorded in the vault journal.
const (
	OperationDeposit            = "deposit"
	OperationWithdrawal         = "withdrawal"
	OperationWithdrawalReversal = "withdrawal_reversal"
	OperationCapacityRefund     = "capacity_refund"
	OperationSwapRefund         = "swap_refund"
)

// AssetEntry is a token registry record. An asset listed here is accepted for
// deposit. For the priced vault, Decimals and FeedID describe how deposits of
// the asset are valued; the swap vault only needs Decimals for its dry-run
// probe amount at registration time.
type AssetEntry struct {
	ID           string    `json:"id"`
	Decimals     uint8     `json:"decimals"`
	FeedID       string    `json:"feed_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Balance is one account's holdings of one asset. Native is denominated in the
// asset's own smallest unit; Accounted is the accounting-currency valuation
// credited against the bank capacity when the funds entered the vault. For the
// accounting currency itself the two are always equal.
type Balance struct {
	Native    uint64 `json:"native"`
	Accounted uint64 `json:"accounted"`
}

// Counters are the per-account observational operation counts. They increase
// by exactly one per successful operation of their kind and never decrease.
type Counters struct {
	Deposits    uint64 `json:"deposits"`
	Withdrawals uint64 `json:"withdrawals"`
}

// VaultStats is the aggregate read model for a vault.
type VaultStats struct {
	TotalDeposited    uint64 `json:"total_deposited"`
	Capacity          uint64 `json:"capacity"`
	RemainingCapacity uint64 `json:"remaining_capacity"`
	WithdrawCeiling   uint64 `json:"withdraw_ceiling"`
	Paused            bool   `json:"paused"`
}

// Operation is the journal record for a single completed ledger mutation.
// This struct maps directly to the `vault_operations` table in the database.
type Operation struct {
	ID        uuid.UUID `json:"id"`
	Account   string    `json:"account"`
	Kind      string    `json:"kind"`
	Asset     string    `json:"asset"`  // input asset for deposits, released asset for withdrawals
	Amount    uint64    `json:"amount"` // in the asset's native smallest unit
	Value     uint64    `json:"value"`  // accounting-currency valuation applied to the bank aggregate
	CreatedAt time.Time `json:"created_at"`
}

// FeedRound is one observation from an external price feed, in the shape
// reported by Chainlink-style aggregators. UpdatedAt is a unix timestamp in
// seconds; zero means the feed has never answered.
type FeedRound struct {
	RoundID         uint64 `json:"round_id"`
	AnsweredInRound uint64 `json:"answered_in_round"`
	Price           int64  `json:"price"`
	Decimals        uint8  `json:"decimals"`
	UpdatedAt       int64  `json:"updated_at"`
}

// SwapReceipt is the result of an executed swap through the external router.
type SwapReceipt struct {
	AmountIn  uint64 `json:"amount_in"`
	AmountOut uint64 `json:"amount_out"`
}

// DepositRequest is the DTO for incoming deposit API requests.
type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// WithdrawRequest is the DTO for incoming withdrawal API requests. Asset is
// ignored by the swap vault, which releases the accounting currency only.
type WithdrawRequest struct {
	Asset  string `json:"asset,omitempty"`
	Amount uint64 `json:"amount"`
}

// RegisterAssetRequest is the DTO for owner-gated asset registration.
type RegisterAssetRequest struct {
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
	FeedID   string `json:"feed_id,omitempty"`
}

// SetPausedRequest is the DTO for the owner-gated deposit pause toggle.
type SetPausedRequest struct {
	Paused bool `json:"paused"`
}
