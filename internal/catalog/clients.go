package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

// HTTPClient talks to a remote product service.
type HTTPClient struct {
	HTTP    *http.Client
	BaseURL string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		BaseURL: baseURL,
	}
}

func (c *HTTPClient) GetProductByID(ctx context.Context, id string) (*Product, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/products/%s", c.BaseURL, id), nil)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperr.Persistence("fetch product", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, apperr.Persistence("fetch product", fmt.Errorf("unexpected status %s", res.Status))
	}
	var p Product
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return nil, apperr.Persistence("decode product", err)
	}
	return &p, nil
}

func (c *HTTPClient) RestoreStock(ctx context.Context, id string, qty int) error {
	return c.postStock(ctx, id, "increment", qty)
}

// DecrementStockIfAvailable asks the product service to take qty units in a
// single conditional call; the service answers 409 when stock is short.
func (c *HTTPClient) DecrementStockIfAvailable(ctx context.Context, id string, qty int) error {
	return c.postStock(ctx, id, "decrement", qty)
}

func (c *HTTPClient) postStock(ctx context.Context, id, action string, qty int) error {
	body, _ := json.Marshal(map[string]int{"quantity": qty})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/products/%s/stock/%s", c.BaseURL, id, action),
		bytes.NewReader(body),
	)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return apperr.Persistence(action+" stock", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrInsufficientStock
	default:
		return apperr.Persistence(action+" stock", fmt.Errorf("unexpected status %s", res.Status))
	}
}
