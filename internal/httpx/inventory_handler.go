package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/inventory"
)

type InventoryHandler struct {
	Service *inventory.Service
}

func (h *InventoryHandler) Register(r *chi.Mux) {
	r.Post("/inventory/items", h.createItem)
	r.Get("/inventory/items/{id}", h.getItem)
	r.Post("/inventory/items/{id}/adjust", h.adjust)
	r.Post("/inventory/reservations", h.reserve)
	r.Get("/inventory/reservations/{id}", h.getReservation)
	r.Put("/inventory/reservations/{id}", h.updateReservation)
	r.Put("/inventory/reservations/{id}/fulfill", h.fulfill)
	r.Put("/inventory/reservations/{id}/cancel", h.cancelReservation)
	r.Delete("/inventory/reservations/{id}", h.cancelReservation)
	r.Post("/inventory/reservations/process-expired", h.processExpired)
}

type createItemReq struct {
	WarehouseID string  `json:"warehouse_id"`
	ProductID   *string `json:"product_id,omitempty"`
	Quantity    int     `json:"quantity"`
	ReorderAt   *int    `json:"reorder_point,omitempty"`
	ReorderQty  *int    `json:"reorder_quantity,omitempty"`
}

func (h *InventoryHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	if req.WarehouseID == "" {
		writeError(w, apperr.Validation("warehouse_id is required"))
		return
	}
	if req.Quantity < 0 {
		writeError(w, apperr.Validation("quantity must be >= 0"))
		return
	}
	it := &inventory.Item{
		ID:           uuid.NewString(),
		WarehouseID:  req.WarehouseID,
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		Status:       inventory.ItemAvailable,
		ReorderPoint: req.ReorderAt,
		ReorderQty:   req.ReorderQty,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := h.Service.Store.CreateItem(r.Context(), it); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *InventoryHandler) getItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Service.Store.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type adjustReq struct {
	Delta int    `json:"delta"`
	Notes string `json:"notes,omitempty"`
	Actor string `json:"actor,omitempty"`
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	if req.Delta == 0 {
		writeError(w, apperr.Validation("delta must be non-zero"))
		return
	}
	it, err := h.Service.Store.AdjustQuantity(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Notes, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type reserveReq struct {
	InventoryItemID string     `json:"inventory_item_id"`
	Quantity        int        `json:"quantity"`
	OrderID         string     `json:"order_id"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	if req.InventoryItemID == "" || req.OrderID == "" {
		writeError(w, apperr.Validation("inventory_item_id and order_id are required"))
		return
	}
	res, err := h.Service.Store.Reserve(r.Context(), req.InventoryItemID, req.Quantity, req.OrderID, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *InventoryHandler) getReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Store.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) updateReservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	res, err := h.Service.Store.UpdateExpiry(r.Context(), chi.URLParam(r, "id"), req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) fulfill(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Fulfill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	res, err := h.Service.Store.CancelReservation(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) processExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.Store.ProcessExpired(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}
