package domain

import "time"

// Routing keys for vault events published on the topic exchange.
const (
	EventDepositCompleted    = "vault.deposit.completed"
	EventWithdrawalCompleted = "vault.withdrawal.completed"
	EventSwapExecuted        = "vault.swap.executed"
	EventAssetRegistered     = "vault.asset.registered"
	EventAssetDeregistered   = "vault.asset.deregistered"
	EventPauseChanged        = "vault.pause.changed"
)

// DepositEvent is emitted after a deposit has been credited to the ledger.
type DepositEvent struct {
	OperationID string    `json:"operation_id"`
	Vault       string    `json:"vault"`
	Account     string    `json:"account"`
	Asset       string    `json:"asset"`
	Amount      uint64    `json:"amount"`
	Value       uint64    `json:"value"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// WithdrawalEvent is emitted after funds have been released back to the caller.
type WithdrawalEvent struct {
	OperationID string    `json:"operation_id"`
	Vault       string    `json:"vault"`
	Account     string    `json:"account"`
	Asset       string    `json:"asset"`
	Amount      uint64    `json:"amount"`
	Value       uint64    `json:"value"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// SwapEvent is emitted alongside a deposit that was converted through the
// external router, carrying the input and output amounts of the swap.
type SwapEvent struct {
	OperationID string    `json:"operation_id"`
	Vault       string    `json:"vault"`
	Account     string    `json:"account"`
	AssetIn     string    `json:"asset_in"`
	AmountIn    uint64    `json:"amount_in"`
	AmountOut   uint64    `json:"amount_out"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RegistryEvent is emitted when an asset is registered or deregistered.
type RegistryEvent struct {
	Vault      string    `json:"vault"`
	Asset      string    `json:"asset"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PauseEvent is emitted when the owner toggles the deposit pause flag.
type PauseEvent struct {
	Vault      string    `json:"vault"`
	Paused     bool      `json:"paused"`
	OccurredAt time.Time `json:"occurred_at"`
}
