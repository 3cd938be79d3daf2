/**
 * @description
 * This file contains the HTTP handlers for the money-moving endpoints: deposits,
 * native-asset deposits, and withdrawals. These are the hot paths of the
 * service, so each handler logs an accepted line before calling into the
 * ledger and a warn line on rejection.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/domain: Request DTOs.
 */

package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/kipubank/vault-service/internal/domain"
)

// DepositHandler handles requests to deposit a named asset into the vault.
func (h *VaultHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req domain.DepositRequest
	if !h.decodeFundsRequest(w, r, "deposit", &req) {
		return
	}
	asset := strings.TrimSpace(req.Asset)
	if asset == "" {
		h.writeError(w, http.StatusBadRequest, "Asset is required")
		return
	}

	log.Printf("level=info component=api vault=%s endpoint=deposit outcome=accepted account=%s asset=%s amount=%d", h.name, caller, asset, req.Amount)

	op, err := h.service.Deposit(r.Context(), caller, asset, req.Amount)
	if err != nil {
		h.writeVaultError(w, "deposit", caller, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, buildOperationResponse(op, "Deposit completed"))
}

// DepositNativeHandler handles requests to deposit the chain-native asset.
// The asset is implied, so the body only carries an amount.
func (h *VaultHandlers) DepositNativeHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req domain.DepositRequest
	if !h.decodeFundsRequest(w, r, "deposit_native", &req) {
		return
	}

	log.Printf("level=info component=api vault=%s endpoint=deposit_native outcome=accepted account=%s amount=%d", h.name, caller, req.Amount)

	op, err := h.service.DepositNative(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeVaultError(w, "deposit_native", caller, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, buildOperationResponse(op, "Deposit completed"))
}

// WithdrawHandler handles requests to withdraw funds from the vault.
func (h *VaultHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req domain.WithdrawRequest
	if !h.decodeFundsRequest(w, r, "withdraw", &req) {
		return
	}

	log.Printf("level=info component=api vault=%s endpoint=withdraw outcome=accepted account=%s asset=%s amount=%d", h.name, caller, req.Asset, req.Amount)

	op, err := h.withdraw(r.Context(), caller, strings.TrimSpace(req.Asset), req.Amount)
	if err != nil {
		h.writeVaultError(w, "withdraw", caller, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, buildOperationResponse(op, "Withdrawal completed"))
}

// decodeFundsRequest decodes a JSON body into dst and writes the rejection
// itself on malformed input.
func (h *VaultHandlers) decodeFundsRequest(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("level=warn component=api vault=%s endpoint=%s outcome=reject reason=invalid_json err=%v", h.name, endpoint, err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}
