package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acmeshop/orderflow/internal/apperr"
)

func catalogStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/products/p1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p1","sku":"SKU-1","name":"Widget","price":19.99}`))
	})
	mux.HandleFunc("/products/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProductFetch(t *testing.T) {
	srv := catalogStub(t)
	c := NewHTTPClient(srv.URL, time.Second)

	p, err := c.Product(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "SKU-1", p.SKU)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("19.99")))
}

func TestProductNotFound(t *testing.T) {
	srv := catalogStub(t)
	c := NewHTTPClient(srv.URL, time.Second)

	_, err := c.Product(context.Background(), "ghost")
	assert.True(t, apperr.IsValidation(err))
}

func TestProductUpstreamError(t *testing.T) {
	srv := catalogStub(t)
	c := NewHTTPClient(srv.URL, time.Second)

	_, err := c.Product(context.Background(), "boom")
	assert.True(t, apperr.IsIntegration(err))
}

func TestProductUnreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Product(context.Background(), "p1")
	assert.True(t, apperr.IsIntegration(err))
}
