/**
 * @description
 * This file sets up the HTTP router for the vault-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * The two vault versions share one handler shape, so each is mounted as a
 * subtree under its own prefix with identical routes.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// VaultRoutes creates and returns a new router for the vault service.
func VaultRoutes(priced, swap *VaultHandlers, jwtSecret, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Route("/vault/v2", func(r chi.Router) {
			mountVault(r, priced, internalAPIKey)
		})
		r.Route("/vault/v3", func(r chi.Router) {
			mountVault(r, swap, internalAPIKey)
		})
	})

	return r
}

// mountVault wires one vault's handler set onto a route subtree.
func mountVault(r chi.Router, h *VaultHandlers, internalAPIKey string) {
	// Money movement
	r.Post("/deposits", h.DepositHandler)
	r.Post("/deposits/native", h.DepositNativeHandler)
	r.Post("/withdrawals", h.WithdrawHandler)

	// Read model
	r.Get("/balances/{asset}", h.BalanceHandler)
	r.Get("/counters", h.CountersHandler)
	r.Get("/operations", h.HistoryHandler)
	r.Get("/stats", h.StatsHandler)
	r.Get("/assets/{asset}/supported", h.AssetSupportedHandler)

	// Owner administration, additionally gated by the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/assets", h.RegisterAssetHandler)
		r.Delete("/assets/{asset}", h.DeregisterAssetHandler)
		r.Put("/paused", h.SetPausedHandler)
	})
}
