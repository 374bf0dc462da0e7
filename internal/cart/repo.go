// Package cart holds shopping carts in memory and keeps their totals
// consistent with their lines.
package cart

import (
	"context"
	"sync"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

var (
	ErrNotFound     = apperr.NotFound("cart not found")
	ErrItemNotFound = apperr.NotFound("cart item not found")
	ErrExists       = apperr.Conflict("cart already exists")
)

// Repository stores carts. Update runs fn against a private copy of the cart
// while holding that cart's lock and stores the copy only when fn succeeds,
// so concurrent mutations of one cart are serialised and a failed mutation
// leaves the stored cart untouched.
type Repository interface {
	Create(ctx context.Context, c *Cart) error
	Get(ctx context.Context, id string) (*Cart, error)
	Update(ctx context.Context, id string, fn func(*Cart) error) (*Cart, error)
	Delete(ctx context.Context, id string) error
}

type entry struct {
	mu   sync.Mutex
	cart *Cart // nil once deleted
}

type MemoryRepo struct {
	mu    sync.RWMutex
	carts map[string]*entry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{carts: make(map[string]*entry)}
}

func (r *MemoryRepo) Create(_ context.Context, c *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.carts[c.ID]; ok {
		return ErrExists
	}
	r.carts[c.ID] = &entry{cart: c.clone()}
	return nil
}

func (r *MemoryRepo) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.carts[id]
}

func (r *MemoryRepo) Get(_ context.Context, id string) (*Cart, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cart == nil {
		return nil, ErrNotFound
	}
	return e.cart.clone(), nil
}

func (r *MemoryRepo) Update(_ context.Context, id string, fn func(*Cart) error) (*Cart, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cart == nil {
		return nil, ErrNotFound
	}
	work := e.cart.clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	e.cart = work
	return work.clone(), nil
}

func (r *MemoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.carts[id]
	delete(r.carts, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.cart = nil
	e.mu.Unlock()
	return nil
}

func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.carts)
}
