package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-checkout/internal/cart"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Totals is frozen when the order is created and never recomputed.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ShippingAmount decimal.Decimal `json:"shipping_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
}

// TotalsFromCart snapshots a cart. Shipping and discounts are not priced by
// this service and are recorded as zero.
func TotalsFromCart(c *cart.Cart) Totals {
	return Totals{
		Subtotal:       c.Subtotal,
		TaxAmount:      c.TaxTotal,
		ShippingAmount: decimal.Zero,
		DiscountAmount: decimal.Zero,
		TotalAmount:    c.Total,
		Currency:       c.Currency,
	}
}

// PickupDetails describes who collects a cash-on-pickup order and when.
// swagger:model PickupDetails
type PickupDetails struct {
	PickupDate            string `json:"pickupDate,omitempty"  example:"2026-10-20"`
	PickupTime            string `json:"pickupTime,omitempty"  example:"15:30"`
	CollectorName         string `json:"collectorName"         example:"Ana Pérez"`
	CollectorPhone        string `json:"collectorPhone,omitempty"`
	CollectorRelationship string `json:"collectorRelationship,omitempty" example:"self"`
	IDType                string `json:"idType,omitempty"      example:"passport"`
	IDNumber              string `json:"idNumber,omitempty"`
	VehicleInfo           string `json:"vehicleInfo,omitempty"`
	SpecialInstructions   string `json:"specialInstructions,omitempty"`
}

type Order struct {
	ID                 string         `json:"id"`
	OrderNumber        string         `json:"order_number"`
	CustomerID         string         `json:"customer_id"`
	ShippingAddressID  *string        `json:"shipping_address_id,omitempty"`
	BillingAddressID   *string        `json:"billing_address_id,omitempty"`
	Notes              string         `json:"notes,omitempty"`
	Totals             Totals         `json:"totals"`
	Status             Status         `json:"status"`
	PaymentStatus      PaymentStatus  `json:"payment_status"`
	PaymentMethod      string         `json:"payment_method"`
	PaymentDeadline    *time.Time     `json:"payment_deadline,omitempty"`
	Pickup             *PickupDetails `json:"pickup_details,omitempty"`
	CancellationReason *string        `json:"cancellation_reason,omitempty"`
	CheckoutAttemptID  string         `json:"checkout_attempt_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (o *Order) IsCancelled() bool { return o.Status == StatusCancelled }

type Item struct {
	ID         string               `json:"id"`
	OrderID    string               `json:"order_id"`
	ProductID  string               `json:"product_id"`
	Quantity   int                  `json:"quantity"`
	UnitPrice  decimal.Decimal      `json:"unit_price"`
	TotalPrice decimal.Decimal      `json:"total_price"`
	Snapshot   cart.ProductSnapshot `json:"product_snapshot"`
}
