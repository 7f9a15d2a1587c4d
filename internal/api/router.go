/**
 * @description
 * This file sets up the HTTP router for the switch-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies the necessary middleware: PSP token authentication on the
 * transfer surface, the internal API key on the admin surface.
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

// SwitchRoutes creates and returns the router for the switch service.
func SwitchRoutes(h *SwitchHandlers, jwksURL, internalAPIKey string, limiter TransferRateLimiter, rateLimit int, rateWindow time.Duration) http.Handler {
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

	// PSP-facing endpoints.
	r.Group(func(r chi.Router) {
		r.Use(PSPAuthMiddleware(jwksURL))
		r.Use(PSPRateLimitMiddleware(limiter, rateLimit, rateWindow))

		r.Post("/transfers", h.TransferHandler)
		r.Get("/transactions/{transactionID}", h.GetTransactionHandler)
		r.Get("/transactions/rrn/{rrn}", h.GetTransactionByRRNHandler)
	})

	// Operator endpoints.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Put("/admin/banks", h.UpsertBankHandler)
		r.Get("/admin/banks", h.ListBanksHandler)
		r.Post("/admin/banks/{bankCode}/circuit", h.ForceCircuitHandler)
		r.Delete("/admin/banks/{bankCode}/circuit", h.ClearCircuitHandler)
		r.Get("/admin/routing", h.InspectRouteHandler)
		r.Get("/admin/settlements/{batchID}", h.GetSettlementBatchHandler)
	})

	return r
}
