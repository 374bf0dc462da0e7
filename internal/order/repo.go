// Package order manages orders from creation at checkout through payment,
// cancellation and pickup scheduling.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

var (
	ErrNotFound        = apperr.NotFound("order not found")
	ErrCancelled       = apperr.Conflict("order is cancelled")
	ErrDuplicateNumber = apperr.Conflict("order number already in use")
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByCheckoutAttempt(ctx context.Context, attemptID string) (*Order, error)
	AddItems(ctx context.Context, orderID string, items []Item) error
	GetItems(ctx context.Context, orderID string) ([]Item, error)
	MarkPaid(ctx context.Context, id string) error
	Cancel(ctx context.Context, id, reason string) error
	SetPaymentDeadline(ctx context.Context, id string, deadline time.Time) error
	SetPickupDetails(ctx context.Context, id string, d PickupDetails) error
	ListExpiredPaymentDeadline(ctx context.Context, now time.Time, limit int) ([]Order, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Create(ctx context.Context, o *Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	t := o.Totals
	_, err := r.db.Exec(ctx, `
    INSERT INTO orders (id, order_number, customer_id, shipping_address_id, billing_address_id, notes,
                        subtotal, tax_amount, shipping_amount, discount_amount, total_amount, currency,
                        status, payment_status, payment_method, checkout_attempt_id, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
  `, o.ID, o.OrderNumber, o.CustomerID, o.ShippingAddressID, o.BillingAddressID, o.Notes,
		t.Subtotal.StringFixed(2), t.TaxAmount.StringFixed(2), t.ShippingAmount.StringFixed(2),
		t.DiscountAmount.StringFixed(2), t.TotalAmount.StringFixed(2), t.Currency,
		string(o.Status), string(o.PaymentStatus), o.PaymentMethod, o.CheckoutAttemptID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_number_key" {
		return ErrDuplicateNumber
	}
	if err != nil {
		return apperr.Persistence("create order", err)
	}
	return nil
}

const orderColumns = `id, order_number, customer_id, shipping_address_id, billing_address_id, notes,
    subtotal::text, tax_amount::text, shipping_amount::text, discount_amount::text, total_amount::text, currency,
    status, payment_status, payment_method, payment_deadline, pickup_details, cancellation_reason,
    checkout_attempt_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                           Order
		sub, tax, ship, disc, total string
		status, paymentStatus       string
		pickup                      []byte
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.ShippingAddressID, &o.BillingAddressID, &o.Notes,
		&sub, &tax, &ship, &disc, &total, &o.Totals.Currency,
		&status, &paymentStatus, &o.PaymentMethod, &o.PaymentDeadline, &pickup, &o.CancellationReason,
		&o.CheckoutAttemptID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.Totals.Subtotal, sub}, {&o.Totals.TaxAmount, tax}, {&o.Totals.ShippingAmount, ship},
		{&o.Totals.DiscountAmount, disc}, {&o.Totals.TotalAmount, total},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse totals: %w", err)
		}
		*f.dst = d
	}
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	if len(pickup) > 0 {
		var d PickupDetails
		if err := json.Unmarshal(pickup, &d); err != nil {
			return nil, fmt.Errorf("parse pickup details: %w", err)
		}
		o.Pickup = &d
	}
	return &o, nil
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("load order", err)
	}
	return o, nil
}

func (r *PGRepo) GetByCheckoutAttempt(ctx context.Context, attemptID string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+`
    FROM orders WHERE checkout_attempt_id = $1 AND checkout_attempt_id <> ''
    ORDER BY created_at LIMIT 1`, attemptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("load order by attempt", err)
	}
	return o, nil
}

func (r *PGRepo) AddItems(ctx context.Context, orderID string, items []Item) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Persistence("add order items", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		snap, err := json.Marshal(it.Snapshot)
		if err != nil {
			return apperr.Persistence("encode snapshot", err)
		}
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, total_price, snapshot)
      VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, it.ID, orderID, it.ProductID, it.Quantity, it.UnitPrice.StringFixed(2), it.TotalPrice.StringFixed(2), snap); err != nil {
			return apperr.Persistence("add order items", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Persistence("add order items", err)
	}
	return nil
}

func (r *PGRepo) GetItems(ctx context.Context, orderID string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, product_id, quantity, unit_price::text, total_price::text, snapshot
    FROM order_items
    WHERE order_id = $1
    ORDER BY id
  `, orderID)
	if err != nil {
		return nil, apperr.Persistence("list order items", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var (
			it          Item
			unit, total string
			snap        []byte
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &unit, &total, &snap); err != nil {
			return nil, apperr.Persistence("scan order item", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, apperr.Persistence("parse unit price", err)
		}
		if it.TotalPrice, err = decimal.NewFromString(total); err != nil {
			return nil, apperr.Persistence("parse total price", err)
		}
		if err := json.Unmarshal(snap, &it.Snapshot); err != nil {
			return nil, apperr.Persistence("parse snapshot", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list order items", err)
	}
	return items, nil
}

// exists separates "no such order" from "guard rejected the update".
func (r *PGRepo) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&ok)
	return ok, err
}

func (r *PGRepo) MarkPaid(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = $2, payment_status = $3, updated_at = NOW()
    WHERE id = $1 AND status <> $4
  `, id, string(StatusConfirmed), string(PaymentPaid), string(StatusCancelled))
	if err != nil {
		return apperr.Persistence("mark order paid", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	ok, err := r.exists(ctx, id)
	if err != nil {
		return apperr.Persistence("mark order paid", err)
	}
	if !ok {
		return ErrNotFound
	}
	return ErrCancelled
}

// Cancel is terminal; cancelling an already cancelled order changes nothing.
func (r *PGRepo) Cancel(ctx context.Context, id, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = $2, payment_status = $3, cancellation_reason = $4, updated_at = NOW()
    WHERE id = $1 AND status <> $2
  `, id, string(StatusCancelled), string(PaymentCancelled), reason)
	if err != nil {
		return apperr.Persistence("cancel order", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	ok, err := r.exists(ctx, id)
	if err != nil {
		return apperr.Persistence("cancel order", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) SetPaymentDeadline(ctx context.Context, id string, deadline time.Time) error {
	return r.update(ctx, "set payment deadline",
		`UPDATE orders SET payment_deadline = $2, updated_at = NOW() WHERE id = $1`, id, deadline)
}

func (r *PGRepo) SetPickupDetails(ctx context.Context, id string, d PickupDetails) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return apperr.Persistence("encode pickup details", err)
	}
	return r.update(ctx, "set pickup details",
		`UPDATE orders SET pickup_details = $2, updated_at = NOW() WHERE id = $1`, id, raw)
}

func (r *PGRepo) update(ctx context.Context, op, sql string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return apperr.Persistence(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) ListExpiredPaymentDeadline(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+`
    FROM orders
    WHERE payment_deadline IS NOT NULL AND payment_deadline < $1
      AND payment_status = $2 AND status <> $3
    ORDER BY payment_deadline
    LIMIT $4
  `, now, string(PaymentPending), string(StatusCancelled), limit)
	if err != nil {
		return nil, apperr.Persistence("list expired orders", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Persistence("scan order", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list expired orders", err)
	}
	return out, nil
}

// MemoryRepo is the in-process Repository.
type MemoryRepo struct {
	mu      sync.RWMutex
	orders  map[string]*Order
	numbers map[string]string
	items   map[string][]Item
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:  make(map[string]*Order),
		numbers: make(map[string]string),
		items:   make(map[string][]Item),
	}
}

func cloneOrder(o *Order) *Order {
	cp := *o
	if o.Pickup != nil {
		p := *o.Pickup
		cp.Pickup = &p
	}
	if o.PaymentDeadline != nil {
		d := *o.PaymentDeadline
		cp.PaymentDeadline = &d
	}
	return &cp
}

func (r *MemoryRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.numbers[o.OrderNumber]; taken {
		return ErrDuplicateNumber
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	r.orders[o.ID] = cloneOrder(o)
	r.numbers[o.OrderNumber] = o.ID
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepo) GetByCheckoutAttempt(_ context.Context, attemptID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if attemptID == "" {
		return nil, ErrNotFound
	}
	for _, o := range r.orders {
		if o.CheckoutAttemptID == attemptID {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) AddItems(_ context.Context, orderID string, items []Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[orderID]; !ok {
		return ErrNotFound
	}
	r.items[orderID] = append(r.items[orderID], items...)
	return nil
}

func (r *MemoryRepo) GetItems(_ context.Context, orderID string) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Item{}, r.items[orderID]...), nil
}

func (r *MemoryRepo) mutate(id string, fn func(o *Order) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(o); err != nil {
		return err
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) MarkPaid(_ context.Context, id string) error {
	return r.mutate(id, func(o *Order) error {
		if o.IsCancelled() {
			return ErrCancelled
		}
		o.Status, o.PaymentStatus = StatusConfirmed, PaymentPaid
		return nil
	})
}

func (r *MemoryRepo) Cancel(_ context.Context, id, reason string) error {
	return r.mutate(id, func(o *Order) error {
		if o.IsCancelled() {
			return nil
		}
		o.Status, o.PaymentStatus = StatusCancelled, PaymentCancelled
		o.CancellationReason = &reason
		return nil
	})
}

func (r *MemoryRepo) SetPaymentDeadline(_ context.Context, id string, deadline time.Time) error {
	return r.mutate(id, func(o *Order) error {
		o.PaymentDeadline = &deadline
		return nil
	})
}

func (r *MemoryRepo) SetPickupDetails(_ context.Context, id string, d PickupDetails) error {
	return r.mutate(id, func(o *Order) error {
		o.Pickup = &d
		return nil
	})
}

func (r *MemoryRepo) ListExpiredPaymentDeadline(_ context.Context, now time.Time, limit int) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := []Order{}
	for _, o := range r.orders {
		if o.PaymentDeadline != nil && o.PaymentDeadline.Before(now) &&
			o.PaymentStatus == PaymentPending && !o.IsCancelled() {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentDeadline.Before(*out[j].PaymentDeadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}
