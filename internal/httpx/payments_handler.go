package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/payments"
)

type PaymentsHandler struct {
	Service *payments.Service
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Post("/payments", h.create)
	r.Get("/payments/{id}", h.get)
	r.Post("/payments/{id}/process", h.process)
	r.Post("/payments/{id}/fail", h.fail)
	r.Get("/payments/order/{orderId}", h.listByOrder)
}

func (h *PaymentsHandler) create(w http.ResponseWriter, r *http.Request) {
	var in payments.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	p, err := h.Service.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PaymentsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type processReq struct {
	TransactionID string            `json:"transaction_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (h *PaymentsHandler) process(w http.ResponseWriter, r *http.Request) {
	var req processReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	p, err := h.Service.Process(r.Context(), chi.URLParam(r, "id"), req.TransactionID, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentsHandler) fail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	p, err := h.Service.Fail(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PaymentsHandler) listByOrder(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
