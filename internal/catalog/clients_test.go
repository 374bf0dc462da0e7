package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newProductServer serves GET /products/:id and
// POST /products/:id/stock/{decrement,increment} keeping stock in memory.
func newProductServer(t *testing.T, initial Product) (*httptest.Server, *Product) {
	t.Helper()
	var mu sync.Mutex
	state := initial

	mux := http.NewServeMux()
	mux.HandleFunc("/products/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		rest := strings.TrimPrefix(r.URL.Path, "/products/")
		id, action, _ := strings.Cut(rest, "/")
		if id != state.ID {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		switch {
		case r.Method == http.MethodGet && action == "":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(state)
		case r.Method == http.MethodPost && action == "stock/decrement":
			var body struct {
				Quantity int `json:"quantity"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Quantity <= 0 {
				http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
				return
			}
			if state.StockQuantity < body.Quantity {
				http.Error(w, `{"error":"insufficient stock"}`, http.StatusConflict)
				return
			}
			state.StockQuantity -= body.Quantity
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && action == "stock/increment":
			var body struct {
				Quantity int `json:"quantity"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Quantity <= 0 {
				http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
				return
			}
			state.StockQuantity += body.Quantity
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &state
}

func newTestClient(srv *httptest.Server) *HTTPClient {
	return &HTTPClient{HTTP: &http.Client{Timeout: 2 * time.Second}, BaseURL: srv.URL}
}

func TestHTTPClient_GetProduct(t *testing.T) {
	tax := decimal.NewFromInt(10)
	srv, _ := newProductServer(t, Product{ID: "7", Name: "Lamp", SKU: "LMP-7", Price: decimal.NewFromInt(50), TaxRate: &tax, StockQuantity: 4})
	c := newTestClient(srv)

	p, err := c.GetProductByID(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "LMP-7", p.SKU)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, p.TaxRate)
	assert.True(t, p.TaxRate.Equal(tax))

	_, err = c.GetProductByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPClient_Decrement(t *testing.T) {
	srv, state := newProductServer(t, Product{ID: "7", Price: decimal.NewFromInt(50), StockQuantity: 3})
	c := newTestClient(srv)

	require.NoError(t, c.DecrementStockIfAvailable(context.Background(), "7", 2))
	assert.Equal(t, 1, state.StockQuantity)

	err := c.DecrementStockIfAvailable(context.Background(), "7", 2)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 1, state.StockQuantity)

	require.NoError(t, c.RestoreStock(context.Background(), "7", 2))
	assert.Equal(t, 3, state.StockQuantity)
	assert.ErrorIs(t, c.RestoreStock(context.Background(), "other", 1), ErrNotFound)
}
