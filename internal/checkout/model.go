// Package checkout turns a cart into an order as a resumable saga. Every
// attempt is persisted with a step cursor and keyed by an idempotency key,
// so a retried request replays or resumes instead of duplicating work.
package checkout

import (
	"time"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
	"github.com/MikeMC777/storefront-checkout/internal/cart"
	"github.com/MikeMC777/storefront-checkout/internal/customer"
	"github.com/MikeMC777/storefront-checkout/internal/order"
	"github.com/MikeMC777/storefront-checkout/internal/payment"
)

// ErrEmptyCart is returned before anything is written.
var ErrEmptyCart = apperr.InvalidInput("cart is empty")

// Step is the cursor of an attempt: the last step that completed.
type Step string

const (
	StepStarted      Step = "started"
	StepCustomer     Step = "customer"
	StepOrderCreated Step = "order_created"
	StepItemsAdded   Step = "items_added"
	StepPayment      Step = "payment"
	StepNotified     Step = "notified"
	StepCartCleared  Step = "cart_cleared"
	StepCompleted    Step = "completed"
)

var stepOrder = []Step{
	StepStarted, StepCustomer, StepOrderCreated, StepItemsAdded,
	StepPayment, StepNotified, StepCartCleared, StepCompleted,
}

// next returns the steps still to run after s.
func (s Step) next() []Step {
	for i, st := range stepOrder {
		if st == s {
			return stepOrder[i+1:]
		}
	}
	return stepOrder
}

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	// StatusFailed attempts resume from their cursor on the next request
	// with the same key.
	StatusFailed Status = "failed"
	// StatusAborted attempts are terminal; retries get the stored error.
	StatusAborted Status = "aborted"
)

// Request is one checkout submission.
// swagger:model CheckoutRequest
type Request struct {
	CartID          string               `json:"cartId"          example:"7b6c3c1e-2f0a-4e43-9a55-0f0b8f5a1d11"`
	Customer        customer.Info        `json:"customer"`
	ShippingAddress *customer.Address    `json:"shippingAddress,omitempty"`
	BillingAddress  *customer.Address    `json:"billingAddress,omitempty"`
	PaymentMethod   string               `json:"paymentMethod"   example:"bank_transfer"`
	Notes           string               `json:"notes,omitempty"`
	PickupDetails   *order.PickupDetails `json:"pickupDetails,omitempty"`
	IdempotencyKey  string               `json:"idempotencyKey,omitempty"`
}

// Result is what a completed checkout returns, and what a replay returns
// again.
// swagger:model CheckoutResult
type Result struct {
	AttemptID       string         `json:"attemptId"`
	OrderID         string         `json:"orderId"`
	OrderNumber     string         `json:"orderNumber"     example:"ORD-20261015-K7Q2ZD"`
	PaymentStatus   payment.Status `json:"paymentStatus"   example:"pending"`
	PaymentID       string         `json:"paymentId,omitempty"`
	Totals          order.Totals   `json:"totals"`
	PaymentDeadline *time.Time     `json:"paymentDeadline,omitempty"`
	RedirectURL     string         `json:"redirectUrl,omitempty"`
	RequiresAction  bool           `json:"requiresAction,omitempty"`
}

// State is everything a resumed attempt needs. The cart is the snapshot
// taken when the attempt started.
type State struct {
	Request           Request      `json:"request"`
	Cart              cart.Cart    `json:"cart"`
	CustomerID        string       `json:"customerId,omitempty"`
	ShippingAddressID *string      `json:"shippingAddressId,omitempty"`
	BillingAddressID  *string      `json:"billingAddressId,omitempty"`
	OrderID           string       `json:"orderId,omitempty"`
	OrderNumber       string       `json:"orderNumber,omitempty"`
	Totals            order.Totals `json:"totals"`
	// Intent is the gateway answer, saved before the payment row is
	// written so a resumed attempt records it instead of charging again.
	Intent          *payment.IntentResult `json:"intent,omitempty"`
	PaymentID       string                `json:"paymentId,omitempty"`
	PaymentStatus   payment.Status        `json:"paymentStatus,omitempty"`
	PaymentDeadline *time.Time            `json:"paymentDeadline,omitempty"`
	RedirectURL     string                `json:"redirectUrl,omitempty"`
	RequiresAction  bool                  `json:"requiresAction,omitempty"`
	Result          *Result               `json:"result,omitempty"`
}

// Attempt is the persisted saga record.
// swagger:model CheckoutAttempt
type Attempt struct {
	ID             string      `json:"id"`
	IdempotencyKey string      `json:"idempotencyKey"`
	CartID         string      `json:"cartId"`
	Step           Step        `json:"step"`
	Status         Status      `json:"status"`
	State          State       `json:"state"`
	ErrorKind      apperr.Kind `json:"errorKind,omitempty"`
	ErrorMessage   string      `json:"errorMessage,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

func (a *Attempt) storedError() error {
	return apperr.New(a.ErrorKind, a.ErrorMessage)
}
