package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/apperr"
	"github.com/acmeshop/orderflow/internal/events"
)

// Store is what the service needs from persistence; *Repo implements it.
type Store interface {
	OrderExists(ctx context.Context, orderID string) (bool, error)
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	Settle(ctx context.Context, id string, to Status, transactionID *string, metadata map[string]string) (*Payment, error)
}

type Service struct {
	Store Store
	Pub   events.Publisher
	Name  string
	Log   *zap.Logger
}

type CreateInput struct {
	OrderID       string            `json:"order_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Method        string            `json:"method"`
	TransactionID *string           `json:"transaction_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Payment, error) {
	if in.OrderID == "" {
		return nil, apperr.Validation("order_id is required")
	}
	if in.Method == "" {
		return nil, apperr.Validation("method is required")
	}
	if in.Amount.IsNegative() || in.Amount.IsZero() {
		return nil, apperr.Validation("amount must be positive")
	}
	ok, err := s.Store.OrderExists(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("order not found: %s", in.OrderID)
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:            uuid.NewString(),
		OrderID:       in.OrderID,
		Amount:        in.Amount,
		Method:        in.Method,
		Status:        StatusPending,
		TransactionID: in.TransactionID,
		Metadata:      in.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Process marks a PENDING payment PAID and broadcasts the outcome; the
// orders service mirrors its payment status off that fact.
func (s *Service) Process(ctx context.Context, id, transactionID string, metadata map[string]string) (*Payment, error) {
	if transactionID == "" {
		return nil, apperr.Validation("transaction_id is required")
	}
	p, err := s.Store.Settle(ctx, id, StatusPaid, &transactionID, metadata)
	if err != nil {
		return nil, err
	}
	s.publishProcessed(ctx, p)
	return p, nil
}

// Fail marks the payment FAILED. Deliberately no compensation here: a
// failed payment is retryable, cancelling the order stays an operator
// decision.
func (s *Service) Fail(ctx context.Context, id, reason string) (*Payment, error) {
	meta := map[string]string{}
	if reason != "" {
		meta["failure_reason"] = reason
	}
	p, err := s.Store.Settle(ctx, id, StatusFailed, nil, meta)
	if err != nil {
		return nil, err
	}
	s.publishProcessed(ctx, p)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.Store.GetPayment(ctx, id)
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return s.Store.ListByOrder(ctx, orderID)
}

// publishProcessed is post-commit fire-and-forget: a publish error is
// logged, the settled payment stands.
func (s *Service) publishProcessed(ctx context.Context, p *Payment) {
	txn := ""
	if p.TransactionID != nil {
		txn = *p.TransactionID
	}
	env := events.New(events.KeyPaymentProcessed, s.Name, p.OrderID, events.PaymentProcessedPayload{
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		Amount:        p.Amount,
		Status:        string(p.Status),
		TransactionID: txn,
	})
	if err := s.Pub.Publish(ctx, events.KeyPaymentProcessed, events.MustMarshal(env)); err != nil {
		s.Log.Error("publish payment.processed", zap.String("payment_id", p.ID), zap.Error(err))
	}
}
