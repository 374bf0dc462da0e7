package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

// Payment method names accepted at checkout.
const (
	MethodBankTransfer = "bank_transfer"
	MethodCashOnPickup = "cash_on_pickup"
	MethodMock         = "mock"
	MethodCardTest     = "card_test"
)

type IntentStatus string

const (
	IntentApproved IntentStatus = "approved"
	IntentPending  IntentStatus = "pending"
	IntentFailed   IntentStatus = "failed"
)

type IntentRequest struct {
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	// IdempotencyKey is stable across retries of one logical attempt.
	IdempotencyKey string
	Metadata       map[string]string
}

type IntentResult struct {
	Status         IntentStatus    `json:"status"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
	RedirectURL    string          `json:"redirect_url,omitempty"`
	RequiresAction bool            `json:"requires_action,omitempty"`
}

// Gateway creates one payment intent per call.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
}

// ErrTransient marks gateway errors that are safe to retry with the same
// idempotency key.
var ErrTransient = errors.New("transient gateway error")

// DeriveStatus maps a gateway outcome onto the stored payment status.
func DeriveStatus(s IntentStatus) Status {
	switch s {
	case IntentApproved:
		return StatusCompleted
	case IntentPending:
		return StatusPending
	default:
		return StatusFailed
	}
}

// BankTransferGateway never leaves the process: funds are confirmed later by
// manual verification, so every intent is pending.
type BankTransferGateway struct {
	now func() time.Time
}

func NewBankTransferGateway() *BankTransferGateway {
	return &BankTransferGateway{now: time.Now}
}

func (g *BankTransferGateway) CreateIntent(_ context.Context, req IntentRequest) (*IntentResult, error) {
	txID := fmt.Sprintf("BT-%d-%s", g.now().UnixMilli(), strings.ToUpper(uuid.NewString()[:8]))
	raw, _ := json.Marshal(map[string]any{
		"gateway":         MethodBankTransfer,
		"amount":          req.Amount.StringFixed(2),
		"currency":        req.Currency,
		"idempotency_key": req.IdempotencyKey,
		"note":            "awaiting manual transfer verification",
	})
	return &IntentResult{Status: IntentPending, TransactionID: txID, Raw: raw}, nil
}

// MockGateway answers immediately. It approves unless Decline is set.
type MockGateway struct {
	Decline bool

	mu    sync.Mutex
	calls int
}

func (g *MockGateway) CreateIntent(_ context.Context, req IntentRequest) (*IntentResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	status := IntentApproved
	if g.Decline {
		status = IntentFailed
	}
	raw, _ := json.Marshal(map[string]any{
		"gateway":         "mock",
		"status":          status,
		"idempotency_key": req.IdempotencyKey,
	})
	return &IntentResult{Status: status, TransactionID: "MOCK-" + uuid.NewString(), Raw: raw}, nil
}

func (g *MockGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Registry resolves a gateway by payment method name for each checkout.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(method string, g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[method] = g
}

func (r *Registry) Resolve(method string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[method]
	if !ok {
		return nil, apperr.InvalidInput(fmt.Sprintf("unsupported payment method %q", method))
	}
	return g, nil
}

// Supports reports whether method is either a registered gateway or
// cash on pickup.
func (r *Registry) Supports(method string) bool {
	if method == MethodCashOnPickup {
		return true
	}
	_, err := r.Resolve(method)
	return err == nil
}

var ErrMethodDisabled = apperr.InvalidInput("payment method is disabled")

// Switchable refuses intents while enabled reports false, so a setting can
// turn test gateways off at runtime.
type Switchable struct {
	next    Gateway
	enabled func(ctx context.Context) (bool, error)
}

func NewSwitchable(next Gateway, enabled func(ctx context.Context) (bool, error)) *Switchable {
	return &Switchable{next: next, enabled: enabled}
}

func (s *Switchable) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	on, err := s.enabled(ctx)
	if err != nil {
		return nil, err
	}
	if !on {
		return nil, ErrMethodDisabled
	}
	return s.next.CreateIntent(ctx, req)
}
