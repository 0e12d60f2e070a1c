package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/orders"
	"github.com/acmeshop/orderflow/internal/payments"
)

// stubOrderStore serves one canned order; everything else panics so a test
// touching an unexpected path fails loudly.
type stubOrderStore struct {
	order *orders.Order
	gets  int
}

func (s *stubOrderStore) GetOrder(_ context.Context, id string, _ orders.Include) (*orders.Order, error) {
	s.gets++
	if s.order == nil || s.order.ID != id {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	cp := *s.order
	return &cp, nil
}

func (s *stubOrderStore) CreateOrder(context.Context, *orders.Order, []orders.OutboxMessage) error {
	panic("unexpected CreateOrder")
}

func (s *stubOrderStore) GetOrderByNumber(context.Context, string, orders.Include) (*orders.Order, error) {
	panic("unexpected GetOrderByNumber")
}

func (s *stubOrderStore) ListOrders(context.Context, orders.ListFilter) ([]orders.Order, int, error) {
	panic("unexpected ListOrders")
}

func (s *stubOrderStore) UpdateOrder(context.Context, string, orders.Update, orders.EventsFn) (*orders.Order, error) {
	panic("unexpected UpdateOrder")
}

func (s *stubOrderStore) CancelOrder(context.Context, string, string, string, orders.EventsFn) (*orders.Order, error) {
	panic("unexpected CancelOrder")
}

func (s *stubOrderStore) AttachReservation(context.Context, string, string, string) error {
	panic("unexpected AttachReservation")
}

func TestGetOrderCachesAggregate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &stubOrderStore{order: &orders.Order{
		ID:          "ord-1",
		OrderNumber: "ORD-20260829-abc123",
		CustomerID:  "cust-1",
		Status:      orders.StatusPending,
		Total:       decimal.RequireFromString("37.50"),
	}}
	h := &OrdersHandler{
		Service: &orders.Service{Store: store, Name: "orders-svc", Log: zap.NewNop()},
		Redis:   rdb,
	}
	r := NewRouter()
	h.Register(r)

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil))
		return rec
	}

	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.gets)

	var body orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ORD-20260829-abc123", body.OrderNumber)

	// second read is served from redis, no store hit
	rec = get()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.gets)
}

func TestGetOrderNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &OrdersHandler{
		Service: &orders.Service{Store: &stubOrderStore{}, Name: "orders-svc", Log: zap.NewNop()},
		Redis:   rdb,
	}
	r := NewRouter()
	h.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// stubPaymentStore lets handler tests drive the apperr -> status mapping.
type stubPaymentStore struct {
	payment *payments.Payment
}

func (s *stubPaymentStore) OrderExists(context.Context, string) (bool, error) { return true, nil }

func (s *stubPaymentStore) CreatePayment(_ context.Context, p *payments.Payment) error {
	cp := *p
	s.payment = &cp
	return nil
}

func (s *stubPaymentStore) GetPayment(_ context.Context, id string) (*payments.Payment, error) {
	if s.payment == nil || s.payment.ID != id {
		return nil, apperr.NotFound("payment not found: %s", id)
	}
	cp := *s.payment
	return &cp, nil
}

func (s *stubPaymentStore) ListByOrder(context.Context, string) ([]payments.Payment, error) {
	if s.payment == nil {
		return nil, nil
	}
	return []payments.Payment{*s.payment}, nil
}

func (s *stubPaymentStore) Settle(_ context.Context, id string, to payments.Status, transactionID *string, _ map[string]string) (*payments.Payment, error) {
	if s.payment == nil || s.payment.ID != id {
		return nil, apperr.NotFound("payment not found: %s", id)
	}
	if s.payment.Status != payments.StatusPending {
		return nil, apperr.Conflict("payment %s is %s, not PENDING", id, s.payment.Status)
	}
	s.payment.Status = to
	if transactionID != nil {
		s.payment.TransactionID = transactionID
	}
	cp := *s.payment
	return &cp, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte) error { return nil }

func paymentsRouter(store *stubPaymentStore) *chiRouter {
	h := &PaymentsHandler{Service: &payments.Service{
		Store: store, Pub: nopPublisher{}, Name: "payments-svc", Log: zap.NewNop(),
	}}
	r := NewRouter()
	h.Register(r)
	return &chiRouter{r}
}

type chiRouter struct{ http.Handler }

func (c *chiRouter) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	c.ServeHTTP(rec, req)
	return rec
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	store := &stubPaymentStore{}
	r := paymentsRouter(store)

	rec := r.do(http.MethodPost, "/payments", `{"order_id":"ord-1","amount":"37.50","method":"card"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created payments.Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, payments.StatusPending, created.Status)

	rec = r.do(http.MethodPost, "/payments/"+created.ID+"/process", `{"transaction_id":"txn-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// settled payments refuse a second settle
	rec = r.do(http.MethodPost, "/payments/"+created.ID+"/process", `{"transaction_id":"txn-2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaymentValidationOverHTTP(t *testing.T) {
	r := paymentsRouter(&stubPaymentStore{})

	rec := r.do(http.MethodPost, "/payments", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = r.do(http.MethodPost, "/payments", `{"order_id":"ord-1","method":"card"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = r.do(http.MethodGet, "/payments/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
