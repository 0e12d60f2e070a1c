package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/orders"
	"github.com/acmeshop/orderflow/internal/redisx"
)

type OrdersHandler struct {
	Service *orders.Service
	Redis   *redis.Client
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.create)
	r.Get("/orders", h.list)
	r.Get("/orders/{id}", h.get)
	r.Get("/orders/number/{orderNumber}", h.getByNumber)
	r.Put("/orders/{id}", h.update)
	r.Post("/orders/{id}/cancel", h.cancel)
}

func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Service.Create(ctx, in)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cache(ctx, o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{
		CustomerID:    q.Get("customerId"),
		Status:        orders.Status(q.Get("status")),
		PaymentStatus: orders.PaymentStatus(q.Get("paymentStatus")),
		Search:        q.Get("search"),
		SortBy:        q.Get("sortBy"),
		SortOrder:     q.Get("sortOrder"),
		Page:          atoi(q.Get("page"), 1),
		Limit:         atoi(q.Get("limit"), 20),
		Include: orders.Include{
			Items:     boolParam(q.Get("includeItems")),
			Addresses: boolParam(q.Get("includeAddresses")),
			History:   boolParam(q.Get("includeHistory")),
			Payments:  boolParam(q.Get("includePayments")),
		},
	}
	page, err := h.Service.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": page.Orders,
		"meta": map[string]any{
			"page":       page.Page,
			"limit":      page.Limit,
			"total":      page.Total,
			"totalPages": page.TotalPages,
		},
	})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key := fmt.Sprintf(redisx.KeyOrder, id)
	if s, err := h.Redis.Get(r.Context(), key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}
	o, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cache(r.Context(), o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.GetByNumber(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type updateOrderReq struct {
	Status         *orders.Status        `json:"status,omitempty"`
	PaymentStatus  *orders.PaymentStatus `json:"payment_status,omitempty"`
	PaymentMethod  *string               `json:"payment_method,omitempty"`
	ShippingMethod *string               `json:"shipping_method,omitempty"`
	Notes          *string               `json:"notes,omitempty"`
	Note           string                `json:"note,omitempty"`
}

func (h *OrdersHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid json"))
		return
	}
	u := orders.Update{
		Status:         req.Status,
		PaymentStatus:  req.PaymentStatus,
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		Notes:          req.Notes,
		Note:           req.Note,
		Actor:          "admin",
	}
	o, err := h.Service.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cache(r.Context(), o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	o, err := h.Service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, "admin")
	if err != nil {
		writeError(w, err)
		return
	}
	h.cache(r.Context(), o)
	writeJSON(w, http.StatusOK, o)
}

// cache refreshes the read cache; best effort.
func (h *OrdersHandler) cache(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrder, o.ID)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLOrderCache).Err()
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		return def
	}
	return i
}

func boolParam(s string) bool {
	return s == "1" || s == "true"
}
