// Package customer resolves shoppers and stores their addresses.
package customer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

var ErrNotFound = apperr.NotFound("customer not found")

// Directory is the collaborator contract used by checkout.
type Directory interface {
	EnsureCustomer(ctx context.Context, info Info) (string, error)
	CreateAddress(ctx context.Context, customerID string, kind AddressKind, addr Address) (string, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

// EnsureCustomer returns the id of the customer with info.Email, creating it
// when absent. Names and phone are refreshed only when provided.
func (r *PGRepo) EnsureCustomer(ctx context.Context, info Info) (string, error) {
	info = info.Normalized()
	if err := info.Validate(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var id string
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (id, email, first_name, last_name, phone, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
		ON CONFLICT (email) DO UPDATE
		SET first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), customers.first_name),
		    last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), customers.last_name),
		    phone      = COALESCE(NULLIF(EXCLUDED.phone, ''), customers.phone),
		    updated_at = NOW()
		RETURNING id
	`, uuid.NewString(), info.Email, info.FirstName, info.LastName, info.Phone).Scan(&id)
	if err != nil {
		return "", apperr.Persistence("ensure customer", err)
	}
	return id, nil
}

func (r *PGRepo) CreateAddress(ctx context.Context, customerID string, kind AddressKind, a Address) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	id := uuid.NewString()
	_, err := r.db.Exec(ctx, `
		INSERT INTO addresses (id, customer_id, kind, first_name, last_name, line1, line2, city, state, postal_code, country, phone, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
	`, id, customerID, string(kind), a.FirstName, a.LastName, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.Phone)
	if err != nil {
		return "", apperr.Persistence("create address", err)
	}
	return id, nil
}

type storedAddress struct {
	CustomerID string
	Kind       AddressKind
	Address    Address
}

// MemoryDirectory is the in-process Directory.
type MemoryDirectory struct {
	mu        sync.Mutex
	byEmail   map[string]*Customer
	addresses map[string]storedAddress
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byEmail:   make(map[string]*Customer),
		addresses: make(map[string]storedAddress),
	}
}

func (d *MemoryDirectory) EnsureCustomer(_ context.Context, info Info) (string, error) {
	info = info.Normalized()
	if err := info.Validate(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	if c, ok := d.byEmail[info.Email]; ok {
		if info.FirstName != "" {
			c.FirstName = info.FirstName
		}
		if info.LastName != "" {
			c.LastName = info.LastName
		}
		if info.Phone != "" {
			c.Phone = info.Phone
		}
		c.UpdatedAt = now
		return c.ID, nil
	}
	c := &Customer{
		ID:        uuid.NewString(),
		Email:     info.Email,
		FirstName: info.FirstName,
		LastName:  info.LastName,
		Phone:     info.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.byEmail[c.Email] = c
	return c.ID, nil
}

func (d *MemoryDirectory) CreateAddress(_ context.Context, customerID string, kind AddressKind, a Address) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.NewString()
	d.addresses[id] = storedAddress{CustomerID: customerID, Kind: kind, Address: a}
	return id, nil
}

func (d *MemoryDirectory) CustomerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byEmail)
}

func (d *MemoryDirectory) Address(id string) (Address, AddressKind, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.addresses[id]
	return a.Address, a.Kind, ok
}
