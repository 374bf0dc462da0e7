package order

// VerifyPaymentRequest payload of manual payment verification.
// swagger:model VerifyPaymentRequest
type VerifyPaymentRequest struct {
	Verified *bool `json:"verified" example:"true"`
}

// CancelOrderRequest payload of cancellation.
// swagger:model CancelOrderRequest
type CancelOrderRequest struct {
	Reason string `json:"reason" example:"customer request"`
}

// NewOrder is what checkout knows when it creates an order.
type NewOrder struct {
	CustomerID        string
	ShippingAddressID *string
	BillingAddressID  *string
	Notes             string
	Totals            Totals
	PaymentMethod     string
	CheckoutAttemptID string
}
