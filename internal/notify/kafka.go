package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicBankTransfer = "notifications.bank_transfer"
	TopicCashOnPickup = "notifications.cash_on_pickup"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes notifications as JSON keyed by order number so
// all messages of one order land on the same partition.
type KafkaDispatcher struct {
	w messageWriter
}

func NewKafkaDispatcher(brokers []string) *KafkaDispatcher {
	return &KafkaDispatcher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (d *KafkaDispatcher) publish(ctx context.Context, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return d.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now().UTC(),
	})
}

func (d *KafkaDispatcher) SendBankTransferInstructions(ctx context.Context, n BankTransferInstructions) error {
	return d.publish(ctx, TopicBankTransfer, n.OrderNumber, n)
}

func (d *KafkaDispatcher) SendCashOnPickupNotification(ctx context.Context, n PickupNotification) error {
	return d.publish(ctx, TopicCashOnPickup, n.OrderNumber, n)
}

func (d *KafkaDispatcher) Close() error { return d.w.Close() }
