package order

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
	"github.com/MikeMC777/storefront-checkout/internal/cart"
	"github.com/MikeMC777/storefront-checkout/internal/catalog"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestManager(products ...catalog.Product) (*Manager, *MemoryRepo, *catalog.MemoryCatalog) {
	repo := NewMemoryRepo()
	cat := catalog.NewMemoryCatalog(products...)
	return NewManager(repo, cat, nil), repo, cat
}

func sampleOrder() NewOrder {
	return NewOrder{
		CustomerID:    "cust-1",
		PaymentMethod: "bank_transfer",
		Totals: Totals{
			Subtotal:       dec("100"),
			TaxAmount:      dec("10"),
			ShippingAmount: decimal.Zero,
			DiscountAmount: decimal.Zero,
			TotalAmount:    dec("110"),
			Currency:       "USD",
		},
	}
}

func line(productID string, qty int, unit string) cart.Item {
	u := dec(unit)
	return cart.Item{
		ID:        "line-" + productID,
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: u,
		Subtotal:  u.Mul(decimal.NewFromInt(int64(qty))),
		Product:   cart.ProductSnapshot{ID: productID, Name: "P" + productID, Price: u},
	}
}

var orderNumberRE = regexp.MustCompile(`^ORD-\d{8}-[A-Z2-7]{6}$`)

func TestGenerateOrderNumber_Format(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		n, err := GenerateOrderNumber(now)
		require.NoError(t, err)
		assert.Regexp(t, orderNumberRE, n)
		assert.Contains(t, n, "ORD-20260309-")
		seen[n] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestCreateOrder_StartsPendingPending(t *testing.T) {
	m, _, _ := newTestManager()
	o, err := m.CreateOrder(context.Background(), sampleOrder())
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.True(t, o.Totals.TotalAmount.Equal(dec("110")))
	assert.Regexp(t, orderNumberRE, o.OrderNumber)
}

func TestCreateOrder_Validation(t *testing.T) {
	m, _, _ := newTestManager()
	in := sampleOrder()
	in.CustomerID = ""
	_, err := m.CreateOrder(context.Background(), in)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

// collidingRepo rejects the first n creates as duplicates.
type collidingRepo struct {
	*MemoryRepo
	collisions int
}

func (r *collidingRepo) Create(ctx context.Context, o *Order) error {
	if r.collisions > 0 {
		r.collisions--
		return ErrDuplicateNumber
	}
	return r.MemoryRepo.Create(ctx, o)
}

func TestCreateOrder_RetriesOnNumberCollision(t *testing.T) {
	repo := &collidingRepo{MemoryRepo: NewMemoryRepo(), collisions: 3}
	m := NewManager(repo, catalog.NewMemoryCatalog(), nil)

	o, err := m.CreateOrder(context.Background(), sampleOrder())
	require.NoError(t, err)
	assert.NotEmpty(t, o.OrderNumber)
	assert.Equal(t, 1, repo.Count())
}

func TestCreateOrder_GivesUpAfterRepeatedCollisions(t *testing.T) {
	repo := &collidingRepo{MemoryRepo: NewMemoryRepo(), collisions: 10}
	m := NewManager(repo, catalog.NewMemoryCatalog(), nil)

	_, err := m.CreateOrder(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistenceFailure, apperr.KindOf(err))
	assert.Equal(t, 0, repo.Count())
}

func TestAddOrderItems_FreezesPricesAndDecrementsStock(t *testing.T) {
	m, _, cat := newTestManager(
		catalog.Product{ID: "a", Price: dec("10"), StockQuantity: 5},
		catalog.Product{ID: "b", Price: dec("2.50"), StockQuantity: 3},
	)
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)

	items, err := m.AddOrderItems(ctx, o.ID, []cart.Item{line("a", 2, "10"), line("b", 3, "2.50")})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].TotalPrice.Equal(dec("20")))
	assert.True(t, items[1].TotalPrice.Equal(dec("7.50")))
	assert.Equal(t, "Pa", items[0].Snapshot.Name)

	assert.Equal(t, 3, cat.Stock("a"))
	assert.Equal(t, 0, cat.Stock("b"))
}

func TestAddOrderItems_ShortfallReleasesReservedStock(t *testing.T) {
	m, repo, cat := newTestManager(
		catalog.Product{ID: "a", Price: dec("10"), StockQuantity: 5},
		catalog.Product{ID: "b", Price: dec("1"), StockQuantity: 1},
	)
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)

	_, err = m.AddOrderItems(ctx, o.ID, []cart.Item{line("a", 2, "10"), line("b", 4, "1")})
	require.Error(t, err)
	assert.ErrorIs(t, err, cart.ErrInsufficientStock)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	assert.Equal(t, 5, cat.Stock("a"), "reserved stock is returned")
	assert.Equal(t, 1, cat.Stock("b"), "stock is never clamped")
	got, _ := repo.GetItems(ctx, o.ID)
	assert.Empty(t, got)
}

func TestAddOrderItems_SecondCallReturnsExistingItems(t *testing.T) {
	m, _, cat := newTestManager(catalog.Product{ID: "a", Price: dec("10"), StockQuantity: 5})
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, sampleOrder())
	require.NoError(t, err)

	first, err := m.AddOrderItems(ctx, o.ID, []cart.Item{line("a", 2, "10")})
	require.NoError(t, err)
	again, err := m.AddOrderItems(ctx, o.ID, []cart.Item{line("a", 2, "10")})
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, 3, cat.Stock("a"))
}

func TestAddOrderItems_LastUnitGoesToOneOrder(t *testing.T) {
	m, _, cat := newTestManager(catalog.Product{ID: "a", Price: dec("10"), StockQuantity: 1})
	ctx := context.Background()
	o1, _ := m.CreateOrder(ctx, sampleOrder())
	o2, _ := m.CreateOrder(ctx, sampleOrder())

	_, err1 := m.AddOrderItems(ctx, o1.ID, []cart.Item{line("a", 1, "10")})
	_, err2 := m.AddOrderItems(ctx, o2.ID, []cart.Item{line("a", 1, "10")})

	assert.NoError(t, err1)
	assert.ErrorIs(t, err2, cart.ErrInsufficientStock)
	assert.Equal(t, 0, cat.Stock("a"))
}

func TestMarkOrderPaid_ConfirmsOrder(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, sampleOrder())

	paid, err := m.MarkOrderPaid(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, paid.Status)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
}

func TestMarkOrderPaid_RejectsCancelledOrder(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, sampleOrder())
	_, err := m.CancelOrder(ctx, o.ID, "fraud")
	require.NoError(t, err)

	_, err = m.MarkOrderPaid(ctx, o.ID)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, _ := m.GetOrder(ctx, o.ID)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestCancelOrder_TerminalAndRepeatable(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, sampleOrder())

	c1, err := m.CancelOrder(ctx, o.ID, "out of stock")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, c1.Status)
	assert.Equal(t, PaymentCancelled, c1.PaymentStatus)
	require.NotNil(t, c1.CancellationReason)
	assert.Equal(t, "out of stock", *c1.CancellationReason)

	c2, err := m.CancelOrder(ctx, o.ID, "other reason")
	require.NoError(t, err)
	assert.Equal(t, "out of stock", *c2.CancellationReason)

	_, err = m.CancelOrder(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetPaymentDeadline(t *testing.T) {
	m, _, _ := newTestManager()
	fixed := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, sampleOrder())

	deadline, err := m.SetPaymentDeadline(ctx, o.ID, 24)
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(24*time.Hour), deadline)

	got, _ := m.GetOrder(ctx, o.ID)
	require.NotNil(t, got.PaymentDeadline)
	assert.True(t, got.PaymentDeadline.Equal(deadline))
	assert.Equal(t, StatusPending, got.Status, "deadline does not change state")

	_, err = m.SetPaymentDeadline(ctx, o.ID, 0)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestGetOrdersWithExpiredPaymentDeadline(t *testing.T) {
	m, _, _ := newTestManager()
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }
	ctx := context.Background()

	expired, _ := m.CreateOrder(ctx, sampleOrder())
	_, _ = m.SetPaymentDeadline(ctx, expired.ID, 1)

	paid, _ := m.CreateOrder(ctx, sampleOrder())
	_, _ = m.SetPaymentDeadline(ctx, paid.ID, 1)
	_, _ = m.MarkOrderPaid(ctx, paid.ID)

	cancelled, _ := m.CreateOrder(ctx, sampleOrder())
	_, _ = m.SetPaymentDeadline(ctx, cancelled.ID, 1)
	_, _ = m.CancelOrder(ctx, cancelled.ID, "")

	future, _ := m.CreateOrder(ctx, sampleOrder())
	_, _ = m.SetPaymentDeadline(ctx, future.ID, 48)

	_, _ = m.CreateOrder(ctx, sampleOrder()) // no deadline

	got, err := m.GetOrdersWithExpiredPaymentDeadline(ctx, start.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)
}

func TestVerifyPayment(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, sampleOrder())

	same, err := m.VerifyPayment(ctx, o.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, same.Status)
	assert.Equal(t, PaymentPending, same.PaymentStatus)

	paid, err := m.VerifyPayment(ctx, o.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, paid.Status)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)

	_, err = m.VerifyPayment(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateOrderWithPickupDetails_KeepsStatus(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, sampleOrder())

	_, err := m.UpdateOrderWithPickupDetails(ctx, o.ID, PickupDetails{})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	got, err := m.UpdateOrderWithPickupDetails(ctx, o.ID, PickupDetails{CollectorName: "Ana", IDType: "passport"})
	require.NoError(t, err)
	require.NotNil(t, got.Pickup)
	assert.Equal(t, "Ana", got.Pickup.CollectorName)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, PaymentPending, got.PaymentStatus)
}

func TestGetOrderItems_UnknownOrder(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.GetOrderItems(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByCheckoutAttempt(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	in := sampleOrder()
	in.CheckoutAttemptID = "att-1"
	o, err := m.CreateOrder(ctx, in)
	require.NoError(t, err)

	got, err := m.FindByCheckoutAttempt(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = m.FindByCheckoutAttempt(ctx, "att-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
