/**
 * @description
 * This file contains the HTTP handlers for the switch-service's PSP-facing
 * API endpoints. Handlers are responsible for parsing incoming requests,
 * calling the appropriate methods on the application service, and writing
 * the HTTP response. They act as the bridge between the web layer and the
 * orchestration logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/velopay/switch-service/internal/app"
	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/health"
	"github.com/velopay/switch-service/internal/routing"
	"github.com/velopay/switch-service/internal/settlement"
	"github.com/velopay/switch-service/internal/store"
)

// SwitchHandlers holds the components the HTTP layer exposes.
type SwitchHandlers struct {
	service     *app.Service
	registry    *health.Registry
	router      *routing.Engine
	repo        store.Repository
	adapters    *app.ClientRegistry
	settlements *settlement.Engine
}

// NewSwitchHandlers creates a new instance of SwitchHandlers.
func NewSwitchHandlers(service *app.Service, registry *health.Registry, router *routing.Engine, repo store.Repository, adapters *app.ClientRegistry, settlements *settlement.Engine) *SwitchHandlers {
	return &SwitchHandlers{
		service:     service,
		registry:    registry,
		router:      router,
		repo:        repo,
		adapters:    adapters,
		settlements: settlements,
	}
}

// TransferHandler accepts a transfer request and runs it to a definitive
// answer: a terminal state, or a still-resolving response carrying the
// transaction id for later polling.
func (h *SwitchHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	resp, err := h.service.ProcessTransfer(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidSignature):
			h.writeError(w, http.StatusUnauthorized, "Request signature verification failed")
		case errors.Is(err, app.ErrStillResolving):
			h.writeJSON(w, http.StatusAccepted, map[string]string{"message": "transaction still resolving; retry with the same idempotency key"})
		default:
			log.Printf("level=error component=api msg=\"transfer processing failed\" correlation_id=%s err=%v", req.CorrelationID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to process transfer")
		}
		return
	}

	status := http.StatusOK
	if resp.State == string(domain.StateTimeout) || resp.State == string(domain.StateReversing) {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, resp)
}

// GetTransactionHandler returns one transaction by id.
func (h *SwitchHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	txID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api msg=\"transaction lookup failed\" tx_id=%s err=%v", txID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch transaction")
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// GetTransactionByRRNHandler returns one transaction by its retrieval
// reference number, which is what banks quote in disputes.
func (h *SwitchHandlers) GetTransactionByRRNHandler(w http.ResponseWriter, r *http.Request) {
	rrn := chi.URLParam(r, "rrn")
	if rrn == "" {
		h.writeError(w, http.StatusBadRequest, "RRN is required")
		return
	}

	tx, err := h.service.GetTransactionByRRN(r.Context(), rrn)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api msg=\"rrn lookup failed\" rrn=%s err=%v", rrn, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch transaction")
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// writeJSON is a helper for writing JSON responses.
func (h *SwitchHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"response encoding failed\" err=%v", err)
	}
}

// writeError is a helper for writing a JSON error response.
func (h *SwitchHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
