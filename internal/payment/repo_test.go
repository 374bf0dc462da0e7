package payment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/storefront-checkout/internal/db/dbtest"
	"github.com/MikeMC777/storefront-checkout/internal/order"
)

func TestPGRepo_Payments(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()

	o := &order.Order{
		ID: uuid.NewString(), OrderNumber: "ORD-20260101-PAY001", CustomerID: "c1",
		Totals:        order.Totals{Subtotal: dec("10"), TaxAmount: dec("0"), ShippingAmount: dec("0"), DiscountAmount: dec("0"), TotalAmount: dec("10"), Currency: "USD"},
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		PaymentMethod: MethodBankTransfer,
	}
	require.NoError(t, order.NewPGRepo(pool).Create(ctx, o))

	r := NewPGRepo(pool)
	tx := "BT-1"
	p := &Payment{
		ID: uuid.NewString(), OrderID: o.ID, CustomerID: "c1", Amount: dec("10"), Currency: "USD",
		PaymentMethod: MethodBankTransfer, Status: StatusPending, TransactionID: &tx,
		GatewayResponse: []byte(`{"gateway":"bank_transfer"}`),
	}
	require.NoError(t, r.Create(ctx, p))

	got, err := r.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("10")))
	assert.JSONEq(t, `{"gateway":"bank_transfer"}`, string(got.GatewayResponse))

	require.NoError(t, r.SetProofURL(ctx, p.ID, "http://x/uploads/proofs/a.png"))
	require.NoError(t, r.UpdateStatus(ctx, p.ID, StatusCompleted, nil))
	got, _ = r.GetByID(ctx, p.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.PaymentProofURL)
	assert.Equal(t, "http://x/uploads/proofs/a.png", *got.PaymentProofURL)

	list, err := r.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, r.UpdateStatus(ctx, "missing", StatusFailed, nil), ErrNotFound)
	_, err = r.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
