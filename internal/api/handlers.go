/**
 * @description
 * This file contains the HTTP handlers shared by both vault versions. Handlers
 * are responsible for parsing incoming requests, calling the appropriate
 * methods on the vault, and writing the HTTP response. They act as the bridge
 * between the web layer and the ledger logic.
 *
 * Both vault flavours expose the same read and admin surface, so a single
 * VaultHandlers serves either one behind a VaultService interface; only the
 * withdrawal signature differs and is bridged with a small adapter in the
 * constructors.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/vault, internal/domain, internal/store: For ledger logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kipubank/vault-service/internal/domain"
	"github.com/kipubank/vault-service/internal/store"
	"github.com/kipubank/vault-service/internal/vault"
)

// VaultService is the surface a vault must expose to be served over HTTP.
// Both the priced and the swap vault satisfy it.
type VaultService interface {
	RegisterAsset(ctx context.Context, caller string, req domain.RegisterAssetRequest) error
	DeregisterAsset(ctx context.Context, caller, asset string) error
	SetPaused(ctx context.Context, caller string, paused bool) error
	Deposit(ctx context.Context, caller, asset string, amount uint64) (*domain.Operation, error)
	DepositNative(ctx context.Context, caller string, amount uint64) (*domain.Operation, error)
	IsSupported(ctx context.Context, asset string) (bool, error)
	BalanceOf(ctx context.Context, account, asset string) (domain.Balance, error)
	Counters(ctx context.Context, account string) (domain.Counters, error)
	History(ctx context.Context, account string, limit int) ([]domain.Operation, error)
	Stats(ctx context.Context) (domain.VaultStats, error)
}

// withdrawFunc bridges the two vault withdrawal signatures: the priced vault
// releases any held asset, the swap vault only the accounting currency.
type withdrawFunc func(ctx context.Context, caller, asset string, amount uint64) (*domain.Operation, error)

// VaultHandlers holds the vault that handlers will use.
type VaultHandlers struct {
	name     string
	service  VaultService
	withdraw withdrawFunc
}

// NewPricedVaultHandlers creates handlers for the multi-asset priced vault.
func NewPricedVaultHandlers(v *vault.PricedVault) *VaultHandlers {
	return &VaultHandlers{name: "priced", service: v, withdraw: v.Withdraw}
}

// NewSwapVaultHandlers creates handlers for the swap-settled vault. Withdrawals
// ignore any requested asset since the swap vault only holds the accounting
// currency.
func NewSwapVaultHandlers(v *vault.SwapVault) *VaultHandlers {
	return &VaultHandlers{
		name:    "swap",
		service: v,
		withdraw: func(ctx context.Context, caller, _ string, amount uint64) (*domain.Operation, error) {
			return v.Withdraw(ctx, caller, amount)
		},
	}
}

// operationResponse is sent back to the client after a successful ledger
// mutation. It mirrors the journal record so clients can reconcile without an
// extra read.
type operationResponse struct {
	OperationID string `json:"operation_id"`
	Kind        string `json:"kind"`
	Asset       string `json:"asset"`
	Amount      uint64 `json:"amount"`
	Value       uint64 `json:"value"`
	Message     string `json:"message"`
}

func buildOperationResponse(op *domain.Operation, message string) operationResponse {
	return operationResponse{
		OperationID: op.ID.String(),
		Kind:        op.Kind,
		Asset:       op.Asset,
		Amount:      op.Amount,
		Value:       op.Value,
		Message:     message,
	}
}

// writeVaultError maps ledger sentinel errors to HTTP statuses and writes the
// response. Unknown errors become a 500 without leaking internals.
func (h *VaultHandlers) writeVaultError(w http.ResponseWriter, endpoint, caller string, err error) {
	log.Printf("level=warn component=api vault=%s endpoint=%s outcome=failed account=%s err=%v", h.name, endpoint, caller, err)
	switch {
	case errors.Is(err, vault.ErrInvalidAmount), errors.Is(err, vault.ErrWithdrawLimit), errors.Is(err, vault.ErrAssetProtected):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vault.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, vault.ErrAssetUnsupported), errors.Is(err, store.ErrAssetNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, vault.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, vault.ErrCapacityExceeded):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, vault.ErrDepositsPaused):
		h.writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, vault.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, vault.ErrConversionFailed):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, vault.ErrStalePrice), errors.Is(err, vault.ErrTransferFailed):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// callerAccount resolves the authenticated account or writes the error itself.
func (h *VaultHandlers) callerAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return "", false
	}
	return accountID, true
}

// RegisterAssetHandler handles owner requests to list a new deposit asset.
func (h *VaultHandlers) RegisterAssetHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req domain.RegisterAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api vault=%s endpoint=register_asset outcome=reject reason=invalid_json err=%v", h.name, err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	req.Asset = strings.TrimSpace(req.Asset)
	if req.Asset == "" {
		h.writeError(w, http.StatusBadRequest, "Asset is required")
		return
	}

	if err := h.service.RegisterAsset(r.Context(), caller, req); err != nil {
		h.writeVaultError(w, "register_asset", caller, err)
		return
	}

	log.Printf("level=info component=api vault=%s endpoint=register_asset outcome=accepted asset=%s decimals=%d", h.name, req.Asset, req.Decimals)
	h.writeJSON(w, http.StatusCreated, map[string]string{"asset": req.Asset, "status": "registered"})
}

// DeregisterAssetHandler handles owner requests to delist a deposit asset.
func (h *VaultHandlers) DeregisterAssetHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	asset := strings.TrimSpace(chi.URLParam(r, "asset"))
	if asset == "" {
		h.writeError(w, http.StatusBadRequest, "Asset is required")
		return
	}

	if err := h.service.DeregisterAsset(r.Context(), caller, asset); err != nil {
		h.writeVaultError(w, "deregister_asset", caller, err)
		return
	}

	log.Printf("level=info component=api vault=%s endpoint=deregister_asset outcome=accepted asset=%s", h.name, asset)
	h.writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "status": "deregistered"})
}

// SetPausedHandler handles owner requests to toggle the deposit pause gate.
func (h *VaultHandlers) SetPausedHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req domain.SetPausedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.SetPaused(r.Context(), caller, req.Paused); err != nil {
		h.writeVaultError(w, "set_paused", caller, err)
		return
	}

	log.Printf("level=info component=api vault=%s endpoint=set_paused outcome=accepted paused=%t", h.name, req.Paused)
	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

// BalanceHandler returns the caller's holdings of one asset.
func (h *VaultHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	asset := strings.TrimSpace(chi.URLParam(r, "asset"))
	if asset == "" {
		h.writeError(w, http.StatusBadRequest, "Asset is required")
		return
	}

	bal, err := h.service.BalanceOf(r.Context(), caller, asset)
	if err != nil {
		h.writeVaultError(w, "balance", caller, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bal)
}

// CountersHandler returns the caller's lifetime deposit and withdrawal counts.
func (h *VaultHandlers) CountersHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	counters, err := h.service.Counters(r.Context(), caller)
	if err != nil {
		h.writeVaultError(w, "counters", caller, err)
		return
	}
	h.writeJSON(w, http.StatusOK, counters)
}

// HistoryHandler returns the caller's recent journal entries, newest first.
func (h *VaultHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	ops, err := h.service.History(r.Context(), caller, limit)
	if err != nil {
		h.writeVaultError(w, "history", caller, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"operations": ops, "count": len(ops)})
}

// StatsHandler returns the vault-wide aggregate read model.
func (h *VaultHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Printf("level=error component=api vault=%s endpoint=stats msg=\"stats read failed\" err=%v", h.name, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// AssetSupportedHandler reports whether an asset is accepted for deposit.
func (h *VaultHandlers) AssetSupportedHandler(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(chi.URLParam(r, "asset"))
	if asset == "" {
		h.writeError(w, http.StatusBadRequest, "Asset is required")
		return
	}

	supported, err := h.service.IsSupported(r.Context(), asset)
	if err != nil {
		log.Printf("level=error component=api vault=%s endpoint=asset_supported msg=\"registry read failed\" asset=%s err=%v", h.name, asset, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"asset": asset, "supported": supported})
}

// writeJSON is a helper for writing JSON responses.
func (h *VaultHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *VaultHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
