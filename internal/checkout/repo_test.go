package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
	"github.com/MikeMC777/storefront-checkout/internal/db/dbtest"
	"github.com/MikeMC777/storefront-checkout/internal/order"
)

func sampleAttempt(key string) *Attempt {
	return &Attempt{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		CartID:         "cart-1",
		Step:           StepStarted,
		Status:         StatusInProgress,
		State: State{
			Request: Request{CartID: "cart-1", PaymentMethod: "mock", IdempotencyKey: key},
			Totals:  order.Totals{TotalAmount: dec("110.00"), Currency: "USD"},
		},
	}
}

func exerciseAttemptRepo(t *testing.T, r AttemptRepository) {
	t.Helper()
	ctx := context.Background()
	key := "key-" + uuid.NewString()

	a := sampleAttempt(key)
	require.NoError(t, r.Create(ctx, a))
	assert.False(t, a.CreatedAt.IsZero())
	assert.ErrorIs(t, r.Create(ctx, sampleAttempt(key)), ErrAttemptExists)

	a.Step = StepOrderCreated
	a.State.OrderID, a.State.OrderNumber = "o-1", "ORD-20261015-ABCDEF"
	a.Status, a.ErrorKind, a.ErrorMessage = StatusFailed, apperr.KindGatewayFailure, "gateway down"
	require.NoError(t, r.Save(ctx, a))

	got, err := r.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, StepOrderCreated, got.Step)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "ORD-20261015-ABCDEF", got.State.OrderNumber)
	assert.True(t, got.State.Totals.TotalAmount.Equal(dec("110")))
	assert.Equal(t, apperr.KindGatewayFailure, apperr.KindOf(got.storedError()))

	_, err = r.GetByKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	assert.ErrorIs(t, r.Save(ctx, sampleAttempt("missing")), ErrAttemptNotFound)

	later := time.Now().Add(time.Minute)
	list, err := r.ListIncomplete(ctx, later, 10)
	require.NoError(t, err)
	for _, it := range list {
		assert.NotEqual(t, key, it.IdempotencyKey, "failed attempts are not resumed in the background")
	}

	got.Status = StatusInProgress
	require.NoError(t, r.Save(ctx, got))
	list, err = r.ListIncomplete(ctx, later, 10)
	require.NoError(t, err)
	found := false
	for _, it := range list {
		found = found || it.IdempotencyKey == key
	}
	assert.True(t, found)

	list, err = r.ListIncomplete(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	for _, it := range list {
		assert.NotEqual(t, key, it.IdempotencyKey, "recently touched attempts are leased")
	}
}

func TestMemoryRepo_Attempts(t *testing.T) {
	exerciseAttemptRepo(t, NewMemoryRepo())
}

func TestMemoryRepo_StateIsNotShared(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	a := sampleAttempt("k")
	require.NoError(t, r.Create(ctx, a))
	a.State.OrderID = "changed-after-create"

	got, err := r.GetByKey(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got.State.OrderID)
}

func TestPGRepo_Attempts(t *testing.T) {
	exerciseAttemptRepo(t, NewPGRepo(dbtest.NewPool(t)))
}

func TestStepNext(t *testing.T) {
	assert.Equal(t, []Step{StepCartCleared, StepCompleted}, StepNotified.next())
	assert.Empty(t, StepCompleted.next())
	assert.Len(t, StepStarted.next(), len(stepOrder)-1)
}
