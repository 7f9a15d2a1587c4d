/**
 * @description
 * Operator-facing handlers: bank registration, circuit overrides, routing
 * inspection, and settlement batch lookups. All of these sit behind the
 * internal API key middleware; none are reachable by PSPs.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/velopay/switch-service/internal/domain"
	"github.com/velopay/switch-service/internal/routing"
	"github.com/velopay/switch-service/internal/store"
)

// UpsertBankHandler registers a bank or updates its adapter endpoint,
// fallbacks, or active flag. The cached adapter client for the bank is
// dropped so the new endpoint takes effect immediately.
func (h *SwitchHandlers) UpsertBankHandler(w http.ResponseWriter, r *http.Request) {
	var bank domain.Bank
	if err := json.NewDecoder(r.Body).Decode(&bank); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if bank.Code == "" || bank.EndpointURL == "" {
		h.writeError(w, http.StatusBadRequest, "Bank code and endpoint URL are required")
		return
	}

	if err := h.repo.UpsertBank(r.Context(), &bank); err != nil {
		log.Printf("level=error component=api msg=\"bank upsert failed\" bank=%s err=%v", bank.Code, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to save bank")
		return
	}
	if h.adapters != nil {
		h.adapters.Invalidate(bank.Code)
	}
	log.Printf("level=info component=api msg=\"bank registered\" bank=%s active=%t fallbacks=%d", bank.Code, bank.Active, len(bank.FallbackCodes))
	h.writeJSON(w, http.StatusOK, bank)
}

// ListBanksHandler returns every registered bank with its current health
// snapshot attached.
func (h *SwitchHandlers) ListBanksHandler(w http.ResponseWriter, r *http.Request) {
	banks, err := h.repo.ListBanks(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"bank list failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list banks")
		return
	}

	type bankWithHealth struct {
		domain.Bank
		Health domain.HealthSnapshot `json:"health"`
	}
	out := make([]bankWithHealth, len(banks))
	for i, bank := range banks {
		out[i] = bankWithHealth{Bank: bank}
		if h.registry != nil {
			out[i].Health = h.registry.Snapshot(bank.Code)
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

type circuitOverrideRequest struct {
	State string `json:"state"`
}

// ForceCircuitHandler pins a bank's circuit to the given state. The
// override beats automatic transitions until cleared.
func (h *SwitchHandlers) ForceCircuitHandler(w http.ResponseWriter, r *http.Request) {
	bankCode := chi.URLParam(r, "bankCode")
	var req circuitOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state := domain.CircuitState(req.State)
	switch state {
	case domain.CircuitClosed, domain.CircuitOpen, domain.CircuitHalfOpen:
	default:
		h.writeError(w, http.StatusBadRequest, "State must be CLOSED, OPEN, or HALF_OPEN")
		return
	}

	h.registry.ForceState(bankCode, state)
	log.Printf("level=warn component=api msg=\"circuit override forced\" bank=%s state=%s", bankCode, state)
	h.writeJSON(w, http.StatusOK, h.registry.Snapshot(bankCode))
}

// ClearCircuitHandler removes a circuit override, returning the bank to
// automatic breaker control.
func (h *SwitchHandlers) ClearCircuitHandler(w http.ResponseWriter, r *http.Request) {
	bankCode := chi.URLParam(r, "bankCode")
	h.registry.ClearOverride(bankCode)
	log.Printf("level=info component=api msg=\"circuit override cleared\" bank=%s", bankCode)
	h.writeJSON(w, http.StatusOK, h.registry.Snapshot(bankCode))
}

// InspectRouteHandler replays a routing decision for a payer/payee bank
// pair against the live health snapshot. Used for audit: given the same
// snapshot the engine always answers the same plan.
func (h *SwitchHandlers) InspectRouteHandler(w http.ResponseWriter, r *http.Request) {
	payerCode := r.URL.Query().Get("payer_bank")
	payeeCode := r.URL.Query().Get("payee_bank")
	if payerCode == "" || payeeCode == "" {
		h.writeError(w, http.StatusBadRequest, "payer_bank and payee_bank are required")
		return
	}

	payerBank, err := h.repo.GetBankByCode(r.Context(), payerCode)
	if err != nil && !errors.Is(err, store.ErrBankNotFound) {
		h.writeError(w, http.StatusInternalServerError, "Unable to load payer bank")
		return
	}
	payeeBank, err := h.repo.GetBankByCode(r.Context(), payeeCode)
	if err != nil && !errors.Is(err, store.ErrBankNotFound) {
		h.writeError(w, http.StatusInternalServerError, "Unable to load payee bank")
		return
	}

	var codes []string
	for _, bank := range []*domain.Bank{payerBank, payeeBank} {
		if bank != nil {
			codes = append(codes, bank.Code)
			codes = append(codes, bank.FallbackCodes...)
		}
	}
	var snapshots map[string]domain.HealthSnapshot
	if h.registry != nil {
		snapshots = h.registry.Snapshots(codes...)
	}

	plan, err := h.router.Route(payerBank, payeeBank, snapshots)
	if err != nil {
		if errors.Is(err, routing.ErrNoHealthyRoute) {
			h.writeJSON(w, http.StatusOK, map[string]interface{}{
				"routable":  false,
				"reason":    err.Error(),
				"snapshots": snapshots,
			})
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Unable to compute route")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"routable":  true,
		"plan":      plan,
		"snapshots": snapshots,
	})
}

// GetSettlementBatchHandler returns one settlement batch by id.
func (h *SwitchHandlers) GetSettlementBatchHandler(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	batch, err := h.settlements.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			h.writeError(w, http.StatusNotFound, "Settlement batch not found")
			return
		}
		log.Printf("level=error component=api msg=\"settlement batch lookup failed\" batch_id=%s err=%v", batchID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch settlement batch")
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}
