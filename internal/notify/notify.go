// Package notify delivers checkout notifications. Delivery is fire and
// forget: nothing reports back into order state.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-checkout/internal/order"
	"github.com/MikeMC777/storefront-checkout/internal/settings"
)

type LineItem struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type BankTransferInstructions struct {
	OrderID       string               `json:"orderId"`
	OrderNumber   string               `json:"orderNumber"`
	CustomerEmail string               `json:"customerEmail"`
	CustomerName  string               `json:"customerName"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	Bank          settings.BankDetails `json:"bankDetails"`
	Deadline      time.Time            `json:"paymentDeadline"`
}

type PickupNotification struct {
	OrderID       string              `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	CustomerEmail string              `json:"customerEmail"`
	CustomerName  string              `json:"customerName"`
	Pickup        order.PickupDetails `json:"pickup"`
	Items         []LineItem          `json:"items"`
	Total         decimal.Decimal     `json:"total"`
	Currency      string              `json:"currency"`
}

type Dispatcher interface {
	SendBankTransferInstructions(ctx context.Context, n BankTransferInstructions) error
	SendCashOnPickupNotification(ctx context.Context, n PickupNotification) error
}

// LogDispatcher writes notifications to the structured log.
type LogDispatcher struct{ log *zap.Logger }

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) SendBankTransferInstructions(_ context.Context, n BankTransferInstructions) error {
	d.log.Info("bank transfer instructions",
		zap.String("order_number", n.OrderNumber),
		zap.String("email", n.CustomerEmail),
		zap.String("amount", n.Amount.StringFixed(2)),
		zap.String("currency", n.Currency),
		zap.String("bank", n.Bank.BankName),
		zap.Time("deadline", n.Deadline))
	return nil
}

func (d *LogDispatcher) SendCashOnPickupNotification(_ context.Context, n PickupNotification) error {
	d.log.Info("cash on pickup order",
		zap.String("order_number", n.OrderNumber),
		zap.String("collector", n.Pickup.CollectorName),
		zap.String("pickup_date", n.Pickup.PickupDate),
		zap.String("pickup_time", n.Pickup.PickupTime),
		zap.Int("lines", len(n.Items)),
		zap.String("total", n.Total.StringFixed(2)))
	return nil
}

// Multi sends to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) SendBankTransferInstructions(ctx context.Context, n BankTransferInstructions) error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.SendBankTransferInstructions(ctx, n))
	}
	return errors.Join(errs...)
}

func (m Multi) SendCashOnPickupNotification(ctx context.Context, n PickupNotification) error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.SendCashOnPickupNotification(ctx, n))
	}
	return errors.Join(errs...)
}
