// Package payment holds the payment gateway strategy, its registry and the
// payment records written at checkout.
package payment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

var ErrNotFound = apperr.NotFound("payment not found")

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	UpdateStatus(ctx context.Context, id string, status Status, proofURL *string) error
	SetProofURL(ctx context.Context, id, url string) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Create(ctx context.Context, p *Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw []byte
	if len(p.GatewayResponse) > 0 {
		raw = p.GatewayResponse
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO payments (id, order_id, customer_id, amount, currency, payment_method, status,
		                      transaction_id, gateway_response, payment_proof_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
	`, p.ID, p.OrderID, p.CustomerID, p.Amount.StringFixed(2), p.Currency, p.PaymentMethod, string(p.Status),
		p.TransactionID, raw, p.PaymentProofURL)
	if err != nil {
		return apperr.Persistence("create payment", err)
	}
	return nil
}

const paymentColumns = `id, order_id, customer_id, amount::text, currency, payment_method, status,
	transaction_id, gateway_response, payment_proof_url, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p      Payment
		amount string
		status string
		raw    []byte
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.CustomerID, &amount, &p.Currency, &p.PaymentMethod, &status,
		&p.TransactionID, &raw, &p.PaymentProofURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	p.Amount = d
	p.Status = Status(status)
	p.GatewayResponse = raw
	return &p, nil
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("load payment", err)
	}
	return p, nil
}

func (r *PGRepo) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, apperr.Persistence("list payments", err)
	}
	defer rows.Close()

	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, apperr.Persistence("scan payment", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list payments", err)
	}
	return out, nil
}

func (r *PGRepo) UpdateStatus(ctx context.Context, id string, status Status, proofURL *string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = $2, payment_proof_url = COALESCE($3, payment_proof_url), updated_at = NOW()
		WHERE id = $1
	`, id, string(status), proofURL)
	if err != nil {
		return apperr.Persistence("update payment", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) SetProofURL(ctx context.Context, id, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `UPDATE payments SET payment_proof_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	if err != nil {
		return apperr.Persistence("set payment proof", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type MemoryRepo struct {
	mu       sync.RWMutex
	payments map[string]*Payment
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{payments: make(map[string]*Payment)}
}

func (r *MemoryRepo) Create(_ context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.payments[p.ID] = &cp
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepo) ListByOrder(_ context.Context, orderID string) ([]Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Payment{}
	for _, p := range r.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, id string, status Status, proofURL *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	if proofURL != nil {
		u := *proofURL
		p.PaymentProofURL = &u
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) SetProofURL(_ context.Context, id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return ErrNotFound
	}
	p.PaymentProofURL = &url
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.payments)
}
