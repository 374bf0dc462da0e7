package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MikeMC777/storefront-checkout/internal/order"
	"github.com/MikeMC777/storefront-checkout/internal/settings"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

func TestKafkaDispatcher_BankTransfer(t *testing.T) {
	w := &fakeWriter{}
	d := &KafkaDispatcher{w: w}
	deadline := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	err := d.SendBankTransferInstructions(context.Background(), BankTransferInstructions{
		OrderNumber: "ORD-20260430-ABCDEF",
		Amount:      decimal.RequireFromString("110"),
		Currency:    "USD",
		Bank:        settings.BankDetails{BankName: "Storefront Bank", DeadlineHours: 24},
		Deadline:    deadline,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, TopicBankTransfer, msg.Topic)
	assert.Equal(t, "ORD-20260430-ABCDEF", string(msg.Key))

	var body BankTransferInstructions
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.True(t, body.Deadline.Equal(deadline))
	assert.Equal(t, "Storefront Bank", body.Bank.BankName)

	require.NoError(t, d.Close())
	assert.True(t, w.closed)
}

func TestKafkaDispatcher_Pickup(t *testing.T) {
	w := &fakeWriter{}
	d := &KafkaDispatcher{w: w}

	err := d.SendCashOnPickupNotification(context.Background(), PickupNotification{
		OrderNumber: "ORD-1",
		Pickup:      order.PickupDetails{CollectorName: "Ana"},
		Items:       []LineItem{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, TopicCashOnPickup, w.msgs[0].Topic)
	assert.Contains(t, string(w.msgs[0].Value), `"collectorName":"Ana"`)
}

func TestLogDispatcher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := NewLogDispatcher(zap.New(core))

	require.NoError(t, d.SendBankTransferInstructions(context.Background(), BankTransferInstructions{OrderNumber: "ORD-1"}))
	require.NoError(t, d.SendCashOnPickupNotification(context.Background(), PickupNotification{OrderNumber: "ORD-2"}))

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "ORD-1", logs.All()[0].ContextMap()["order_number"])
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &fakeWriter{}
	bad := &fakeWriter{err: errors.New("broker down")}
	m := Multi{&KafkaDispatcher{w: bad}, &KafkaDispatcher{w: ok}}

	err := m.SendBankTransferInstructions(context.Background(), BankTransferInstructions{OrderNumber: "ORD-1"})
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.msgs, 1, "later dispatchers still run")
}
