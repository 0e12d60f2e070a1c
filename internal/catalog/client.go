package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/acmeshop/orderflow/internal/apperr"
)

// Product is the snapshot the order captures at creation time. The catalog
// service owns the rest of the product record.
type Product struct {
	ID    string          `json:"id"`
	SKU   string          `json:"sku"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type Client interface {
	Product(ctx context.Context, id string) (*Product, error)
}

// HTTPClient is the only synchronous cross-service call in the system. It
// sits on the critical path of order creation, so it is bounded by a
// timeout and a circuit breaker.
type HTTPClient struct {
	base string
	http *http.Client
	cb   *gobreaker.CircuitBreaker[*Product]
}

func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		base: base,
		http: &http.Client{Timeout: timeout},
		cb: gobreaker.NewCircuitBreaker[*Product](gobreaker.Settings{
			Name:    "catalog",
			Timeout: 10 * time.Second,
		}),
	}
}

func (c *HTTPClient) Product(ctx context.Context, id string) (*Product, error) {
	p, err := c.cb.Execute(func() (*Product, error) {
		return c.fetch(ctx, id)
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindUnknown {
			return nil, err
		}
		return nil, apperr.Integration("catalog lookup", err)
	}
	return p, nil
}

func (c *HTTPClient) fetch(ctx context.Context, id string) (*Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/products/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var p Product
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", id, err)
		}
		return &p, nil
	case http.StatusNotFound:
		return nil, apperr.Validation("product not found: %s", id)
	default:
		return nil, fmt.Errorf("catalog returned %d for product %s", resp.StatusCode, id)
	}
}
