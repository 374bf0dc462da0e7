// Package catalog provides read access to products and the atomic stock
// decrement used when an order is placed.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

var (
	ErrNotFound          = apperr.NotFound("product not found")
	ErrInsufficientStock = apperr.InvalidInput("insufficient stock")
)

// Catalog is the collaborator contract consumed by the cart and the order
// lifecycle. DecrementStockIfAvailable must be atomic: it either removes qty
// units or fails with ErrInsufficientStock, never clamping. RestoreStock
// gives back units taken by a decrement that could not be completed.
type Catalog interface {
	GetProductByID(ctx context.Context, id string) (*Product, error)
	DecrementStockIfAvailable(ctx context.Context, id string, qty int) error
	RestoreStock(ctx context.Context, id string, qty int) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) GetProductByID(ctx context.Context, id string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		p                   Product
		price               string
		discounted, taxRate *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, name, sku, slug, price::text, discounted_price::text, tax_rate::text, stock, is_digital
		FROM products WHERE id=$1
	`, id).Scan(&p.ID, &p.Name, &p.SKU, &p.Slug, &price, &discounted, &taxRate, &p.StockQuantity, &p.IsDigital)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("load product", err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, apperr.Persistence("parse product price", err)
	}
	if p.DiscountedPrice, err = parseOptional(discounted); err != nil {
		return nil, apperr.Persistence("parse discounted price", err)
	}
	if p.TaxRate, err = parseOptional(taxRate); err != nil {
		return nil, apperr.Persistence("parse tax rate", err)
	}
	return &p, nil
}

func parseOptional(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PGRepo) DecrementStockIfAvailable(ctx context.Context, id string, qty int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`, id, qty)
	if err != nil {
		return apperr.Persistence("decrement stock", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Distinguish a missing product from a short one.
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, id).Scan(&exists); err != nil {
		return apperr.Persistence("decrement stock", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInsufficientStock
}

func (r *PGRepo) RestoreStock(ctx context.Context, id string, qty int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1
	`, id, qty)
	if err != nil {
		return apperr.Persistence("restore stock", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryCatalog keeps products in process. Used by tests and when the
// service runs without Postgres.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]*Product
}

func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]*Product)}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

func (c *MemoryCatalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := p
	c.products[p.ID] = &cp
}

func (c *MemoryCatalog) GetProductByID(_ context.Context, id string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *MemoryCatalog) DecrementStockIfAvailable(_ context.Context, id string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return ErrNotFound
	}
	if qty <= 0 || p.StockQuantity < qty {
		return ErrInsufficientStock
	}
	p.StockQuantity -= qty
	return nil
}

func (c *MemoryCatalog) RestoreStock(_ context.Context, id string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return ErrNotFound
	}
	p.StockQuantity += qty
	return nil
}

// Stock reports the current stock for id, or -1 when unknown.
func (c *MemoryCatalog) Stock(id string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.products[id]; ok {
		return p.StockQuantity
	}
	return -1
}
