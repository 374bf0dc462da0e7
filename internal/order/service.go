package order

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
	"github.com/MikeMC777/storefront-checkout/internal/cart"
)

const numberAttempts = 5

// StockKeeper is the part of the catalog the order manager mutates.
type StockKeeper interface {
	DecrementStockIfAvailable(ctx context.Context, productID string, qty int) error
	RestoreStock(ctx context.Context, productID string, qty int) error
}

// Manager owns the (status, payment status) state machine of orders.
type Manager struct {
	repo  Repository
	stock StockKeeper
	log   *zap.Logger
	now   func() time.Time
}

func NewManager(repo Repository, stock StockKeeper, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{repo: repo, stock: stock, log: log, now: time.Now}
}

// GenerateOrderNumber returns ORD-YYYYMMDD-XXXXXX with a random suffix.
func GenerateOrderNumber(now time.Time) (string, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	suffix := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b[:])[:6]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix), nil
}

// CreateOrder persists a new order in (pending, pending) with frozen totals.
func (m *Manager) CreateOrder(ctx context.Context, in NewOrder) (*Order, error) {
	if in.CustomerID == "" {
		return nil, apperr.InvalidInput("customer id is required")
	}
	if strings.TrimSpace(in.PaymentMethod) == "" {
		return nil, apperr.InvalidInput("payment method is required")
	}
	for i := 0; i < numberAttempts; i++ {
		number, err := GenerateOrderNumber(m.now())
		if err != nil {
			return nil, apperr.Persistence("generate order number", err)
		}
		o := &Order{
			ID:                uuid.NewString(),
			OrderNumber:       number,
			CustomerID:        in.CustomerID,
			ShippingAddressID: in.ShippingAddressID,
			BillingAddressID:  in.BillingAddressID,
			Notes:             in.Notes,
			Totals:            in.Totals,
			Status:            StatusPending,
			PaymentStatus:     PaymentPending,
			PaymentMethod:     in.PaymentMethod,
			CheckoutAttemptID: in.CheckoutAttemptID,
		}
		err = m.repo.Create(ctx, o)
		if errors.Is(err, ErrDuplicateNumber) {
			m.log.Warn("order number collision", zap.String("order_number", number))
			continue
		}
		if err != nil {
			return nil, err
		}
		m.log.Info("order created",
			zap.String("order_id", o.ID),
			zap.String("order_number", o.OrderNumber),
			zap.String("total", o.Totals.TotalAmount.StringFixed(2)))
		return o, nil
	}
	return nil, apperr.Persistence("could not allocate a unique order number", ErrDuplicateNumber)
}

// AddOrderItems reserves stock for every cart line and then records the
// lines with frozen prices. A shortfall on any product releases what was
// already reserved and fails with cart.ErrInsufficientStock. Calling it
// again for an order that already has items returns those items.
func (m *Manager) AddOrderItems(ctx context.Context, orderID string, lines []cart.Item) ([]Item, error) {
	o, err := m.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.IsCancelled() {
		return nil, ErrCancelled
	}
	existing, err := m.repo.GetItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	reserved := make([]cart.Item, 0, len(lines))
	for _, line := range lines {
		if err := m.stock.DecrementStockIfAvailable(ctx, line.ProductID, line.Quantity); err != nil {
			m.log.Warn("stock reservation failed",
				zap.String("order_id", orderID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
			m.release(ctx, orderID, reserved)
			if errors.Is(err, cart.ErrInsufficientStock) {
				return nil, apperr.Wrap(cart.ErrInsufficientStock,
					fmt.Errorf("product %s: %w", line.ProductID, err))
			}
			return nil, err
		}
		reserved = append(reserved, line)
	}

	items := make([]Item, 0, len(lines))
	for _, line := range lines {
		items = append(items, Item{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.Subtotal,
			Snapshot:   line.Product,
		})
	}
	if err := m.repo.AddItems(ctx, orderID, items); err != nil {
		m.release(ctx, orderID, reserved)
		return nil, err
	}
	return items, nil
}

// release gives back reserved stock; it runs detached from the caller's
// deadline because the caller is usually failing already.
func (m *Manager) release(ctx context.Context, orderID string, lines []cart.Item) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, line := range lines {
		if err := m.stock.RestoreStock(ctx, line.ProductID, line.Quantity); err != nil {
			m.log.Error("stock release failed",
				zap.String("order_id", orderID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		}
	}
}

// MarkOrderPaid moves the order to (confirmed, paid). Cancelled orders are
// rejected with a conflict.
func (m *Manager) MarkOrderPaid(ctx context.Context, orderID string) (*Order, error) {
	if err := m.repo.MarkPaid(ctx, orderID); err != nil {
		return nil, err
	}
	m.log.Info("order paid", zap.String("order_id", orderID))
	return m.repo.GetByID(ctx, orderID)
}

// SetPaymentDeadline stamps now+hours on the order and returns the deadline.
func (m *Manager) SetPaymentDeadline(ctx context.Context, orderID string, hours int) (time.Time, error) {
	if hours <= 0 {
		return time.Time{}, apperr.InvalidInput("deadline hours must be positive")
	}
	deadline := m.now().UTC().Add(time.Duration(hours) * time.Hour)
	if err := m.repo.SetPaymentDeadline(ctx, orderID, deadline); err != nil {
		return time.Time{}, err
	}
	return deadline, nil
}

// CancelOrder is terminal. Cancelling a cancelled order returns it unchanged.
func (m *Manager) CancelOrder(ctx context.Context, orderID, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	if err := m.repo.Cancel(ctx, orderID, reason); err != nil {
		return nil, err
	}
	m.log.Info("order cancelled", zap.String("order_id", orderID), zap.String("reason", reason))
	return m.repo.GetByID(ctx, orderID)
}

// UpdateOrderWithPickupDetails records who collects the order; status is
// left untouched.
func (m *Manager) UpdateOrderWithPickupDetails(ctx context.Context, orderID string, d PickupDetails) (*Order, error) {
	if strings.TrimSpace(d.CollectorName) == "" {
		return nil, apperr.InvalidInput("collector name is required")
	}
	if err := m.repo.SetPickupDetails(ctx, orderID, d); err != nil {
		return nil, err
	}
	return m.repo.GetByID(ctx, orderID)
}

// GetOrdersWithExpiredPaymentDeadline lists unpaid, uncancelled orders whose
// deadline is before now. Acting on them is left to the caller.
func (m *Manager) GetOrdersWithExpiredPaymentDeadline(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	return m.repo.ListExpiredPaymentDeadline(ctx, now, limit)
}

// VerifyPayment marks the order paid when verified is true. A false
// verification changes nothing and returns the current order.
func (m *Manager) VerifyPayment(ctx context.Context, orderID string, verified bool) (*Order, error) {
	if !verified {
		return m.repo.GetByID(ctx, orderID)
	}
	return m.MarkOrderPaid(ctx, orderID)
}

// FindByCheckoutAttempt returns the order a checkout attempt created, if any.
func (m *Manager) FindByCheckoutAttempt(ctx context.Context, attemptID string) (*Order, error) {
	return m.repo.GetByCheckoutAttempt(ctx, attemptID)
}

func (m *Manager) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return m.repo.GetByID(ctx, orderID)
}

func (m *Manager) GetOrderItems(ctx context.Context, orderID string) ([]Item, error) {
	if _, err := m.repo.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return m.repo.GetItems(ctx, orderID)
}
