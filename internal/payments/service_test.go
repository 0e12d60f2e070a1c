package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/events"
)

type fakeStore struct {
	orders   map[string]bool
	payments map[string]*Payment
}

func newFakeStore(orderIDs ...string) *fakeStore {
	f := &fakeStore{orders: map[string]bool{}, payments: map[string]*Payment{}}
	for _, id := range orderIDs {
		f.orders[id] = true
	}
	return f
}

func (f *fakeStore) OrderExists(_ context.Context, orderID string) (bool, error) {
	return f.orders[orderID], nil
}

func (f *fakeStore) CreatePayment(_ context.Context, p *Payment) error {
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakeStore) GetPayment(_ context.Context, id string) (*Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment not found: %s", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListByOrder(_ context.Context, orderID string) ([]Payment, error) {
	var out []Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) Settle(_ context.Context, id string, to Status, transactionID *string, metadata map[string]string) (*Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment not found: %s", id)
	}
	if p.Status != StatusPending {
		return nil, apperr.Conflict("payment %s is %s, not PENDING", id, p.Status)
	}
	p.Status = to
	if transactionID != nil {
		p.TransactionID = transactionID
	}
	for k, v := range metadata {
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		p.Metadata[k] = v
	}
	if to == StatusPaid {
		now := time.Now().UTC()
		p.ProcessedAt = &now
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

type fakePublisher struct {
	published map[string][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[string][][]byte{}}
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	f.published[routingKey] = append(f.published[routingKey], body)
	return nil
}

func newTestService(store *fakeStore, pub *fakePublisher) *Service {
	return &Service{Store: store, Pub: pub, Name: "payments-svc", Log: zap.NewNop()}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newFakeStore("ord-1"), newFakePublisher())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Amount: decimal.NewFromInt(10), Method: "card"})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(ctx, CreateInput{OrderID: "ord-1", Amount: decimal.NewFromInt(10)})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Create(ctx, CreateInput{OrderID: "ord-1", Method: "card"})
	assert.True(t, apperr.IsValidation(err), "zero amount")

	_, err = svc.Create(ctx, CreateInput{OrderID: "ord-1", Method: "card", Amount: decimal.NewFromInt(-5)})
	assert.True(t, apperr.IsValidation(err))
}

func TestCreateUnknownOrder(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakePublisher())
	_, err := svc.Create(context.Background(), CreateInput{
		OrderID: "ghost", Method: "card", Amount: decimal.NewFromInt(10),
	})
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreatePending(t *testing.T) {
	store := newFakeStore("ord-1")
	svc := newTestService(store, newFakePublisher())

	p, err := svc.Create(context.Background(), CreateInput{
		OrderID: "ord-1", Method: "card", Amount: decimal.RequireFromString("37.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Nil(t, p.ProcessedAt)
	assert.Contains(t, store.payments, p.ID)
}

func seedPending(t *testing.T, svc *Service) *Payment {
	t.Helper()
	p, err := svc.Create(context.Background(), CreateInput{
		OrderID: "ord-1", Method: "card", Amount: decimal.RequireFromString("37.50"),
	})
	require.NoError(t, err)
	return p
}

func TestProcess(t *testing.T) {
	store := newFakeStore("ord-1")
	pub := newFakePublisher()
	svc := newTestService(store, pub)
	p := seedPending(t, svc)

	got, err := svc.Process(context.Background(), p.ID, "txn-1", map[string]string{"gateway": "stripe"})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, "txn-1", *got.TransactionID)
	assert.NotNil(t, got.ProcessedAt)

	bodies := pub.published[events.KeyPaymentProcessed]
	require.Len(t, bodies, 1)
	env, err := events.DecodeEnvelope(bodies[0])
	require.NoError(t, err)
	assert.Equal(t, "payments-svc", env.Producer)
	pl, err := events.UnwrapPayload[events.PaymentProcessedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", pl.OrderID)
	assert.Equal(t, p.ID, pl.PaymentID)
	assert.Equal(t, "PAID", pl.Status)
	assert.Equal(t, "txn-1", pl.TransactionID)
}

func TestProcessRequiresTransactionID(t *testing.T) {
	svc := newTestService(newFakeStore("ord-1"), newFakePublisher())
	p := seedPending(t, svc)
	_, err := svc.Process(context.Background(), p.ID, "", nil)
	assert.True(t, apperr.IsValidation(err))
}

func TestProcessTwiceConflicts(t *testing.T) {
	pub := newFakePublisher()
	svc := newTestService(newFakeStore("ord-1"), pub)
	p := seedPending(t, svc)

	_, err := svc.Process(context.Background(), p.ID, "txn-1", nil)
	require.NoError(t, err)
	_, err = svc.Process(context.Background(), p.ID, "txn-2", nil)
	assert.True(t, apperr.IsConflict(err))
	assert.Len(t, pub.published[events.KeyPaymentProcessed], 1)
}

func TestFail(t *testing.T) {
	store := newFakeStore("ord-1")
	pub := newFakePublisher()
	svc := newTestService(store, pub)
	p := seedPending(t, svc)

	got, err := svc.Fail(context.Background(), p.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "card declined", got.Metadata["failure_reason"])
	assert.Nil(t, got.ProcessedAt)

	bodies := pub.published[events.KeyPaymentProcessed]
	require.Len(t, bodies, 1)
	env, err := events.DecodeEnvelope(bodies[0])
	require.NoError(t, err)
	pl, err := events.UnwrapPayload[events.PaymentProcessedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", pl.Status)
}

func TestGetUnknown(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakePublisher())
	_, err := svc.Get(context.Background(), uuid.NewString())
	assert.True(t, apperr.IsNotFound(err))
}
