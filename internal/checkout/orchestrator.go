package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
	"github.com/MikeMC777/storefront-checkout/internal/cart"
	"github.com/MikeMC777/storefront-checkout/internal/customer"
	"github.com/MikeMC777/storefront-checkout/internal/notify"
	"github.com/MikeMC777/storefront-checkout/internal/order"
	"github.com/MikeMC777/storefront-checkout/internal/payment"
	"github.com/MikeMC777/storefront-checkout/internal/settings"
)

type Carts interface {
	GetCart(ctx context.Context, cartID string) (*cart.Cart, error)
	DeleteCart(ctx context.Context, cartID string) error
}

type Orders interface {
	CreateOrder(ctx context.Context, in order.NewOrder) (*order.Order, error)
	FindByCheckoutAttempt(ctx context.Context, attemptID string) (*order.Order, error)
	AddOrderItems(ctx context.Context, orderID string, lines []cart.Item) ([]order.Item, error)
	MarkOrderPaid(ctx context.Context, orderID string) (*order.Order, error)
	SetPaymentDeadline(ctx context.Context, orderID string, hours int) (time.Time, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*order.Order, error)
	UpdateOrderWithPickupDetails(ctx context.Context, orderID string, d order.PickupDetails) (*order.Order, error)
}

type Payments interface {
	RecordIntent(ctx context.Context, rec payment.Record) (*payment.Payment, error)
	GetPaymentsByOrder(ctx context.Context, orderID string) ([]payment.Payment, error)
}

type Gateways interface {
	Resolve(method string) (payment.Gateway, error)
	Supports(method string) bool
}

type Settings interface {
	PaymentDeadlineHours(ctx context.Context) (int, error)
	BankDetails(ctx context.Context) (settings.BankDetails, error)
}

type Config struct {
	Timeout     time.Duration
	StepTimeout time.Duration
}

type Deps struct {
	Carts     Carts
	Customers customer.Directory
	Orders    Orders
	Payments  Payments
	Gateways  Gateways
	Settings  Settings
	Notifier  notify.Dispatcher
	Attempts  AttemptRepository
	Metrics   *Metrics
	Log       *zap.Logger
}

type Orchestrator struct {
	Deps
	cfg    Config
	tracer trace.Tracer
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewOrchestrator(d Deps, cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 5 * time.Second
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Orchestrator{
		Deps:     d,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/MikeMC777/storefront-checkout/internal/checkout"),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

func (o *Orchestrator) acquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	delete(o.inflight, key)
	o.mu.Unlock()
}

var errInFlight = apperr.Conflict("checkout already in progress for this idempotency key")

// ProcessCheckout runs, replays or resumes the attempt identified by the
// request's idempotency key. A request without a key gets a fresh one.
func (o *Orchestrator) ProcessCheckout(ctx context.Context, req Request) (*Result, error) {
	start := o.now()
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if !o.acquire(req.IdempotencyKey) {
		return nil, errInFlight
	}
	defer o.release(req.IdempotencyKey)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	res, err := o.process(ctx, req)
	outcome := "completed"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	o.Metrics.Duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res, err
}

func (o *Orchestrator) process(ctx context.Context, req Request) (*Result, error) {
	a, err := o.Attempts.GetByKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		return o.continueAttempt(ctx, a, req)
	case !errors.Is(err, ErrAttemptNotFound):
		return nil, err
	}

	a, err = o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, a)
}

func (o *Orchestrator) continueAttempt(ctx context.Context, a *Attempt, req Request) (*Result, error) {
	if req.CartID != "" && req.CartID != a.CartID {
		return nil, apperr.Conflict("idempotency key was used for a different cart")
	}
	switch a.Status {
	case StatusCompleted:
		o.Log.Info("checkout replayed", zap.String("attempt_id", a.ID), zap.String("order_number", a.State.OrderNumber))
		res := *a.State.Result
		return &res, nil
	case StatusAborted:
		return nil, a.storedError()
	case StatusInProgress:
		// Another instance may still be driving it.
		if o.now().Sub(a.UpdatedAt) < o.cfg.Timeout {
			return nil, errInFlight
		}
	}
	o.Log.Info("checkout resumed",
		zap.String("attempt_id", a.ID),
		zap.String("step", string(a.Step)),
		zap.String("status", string(a.Status)))
	return o.run(ctx, a)
}

// begin validates the request and loads the cart. Nothing is written
// unless every check passes.
func (o *Orchestrator) begin(ctx context.Context, req Request) (*Attempt, error) {
	if strings.TrimSpace(req.CartID) == "" {
		return nil, apperr.InvalidInput("cartId is required")
	}
	req.Customer = req.Customer.Normalized()
	if err := req.Customer.Validate(); err != nil {
		return nil, err
	}
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		return nil, apperr.InvalidInput("paymentMethod is required")
	}
	if !o.Gateways.Supports(req.PaymentMethod) {
		return nil, apperr.InvalidInput(fmt.Sprintf("unsupported payment method %q", req.PaymentMethod))
	}

	c, err := o.Carts.GetCart(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	pickup := req.PaymentMethod == payment.MethodCashOnPickup
	if req.ShippingAddress == nil && !pickup && !c.AllDigital() {
		return nil, apperr.InvalidInput("shipping address is required for physical items")
	}
	for _, addr := range []*customer.Address{req.ShippingAddress, req.BillingAddress} {
		if addr == nil {
			continue
		}
		if err := addr.Validate(); err != nil {
			return nil, err
		}
	}
	if pickup && (req.PickupDetails == nil || strings.TrimSpace(req.PickupDetails.CollectorName) == "") {
		return nil, apperr.InvalidInput("pickup details with a collector name are required for cash on pickup")
	}

	a := &Attempt{
		ID:             uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		CartID:         req.CartID,
		Step:           StepStarted,
		Status:         StatusInProgress,
		State: State{
			Request: req,
			Cart:    *c,
			Totals:  order.TotalsFromCart(c),
		},
	}
	if err := o.Attempts.Create(ctx, a); err != nil {
		if errors.Is(err, ErrAttemptExists) {
			return nil, errInFlight
		}
		return nil, err
	}
	o.Metrics.Steps.WithLabelValues(string(StepStarted), "ok").Inc()
	o.Log.Info("checkout started",
		zap.String("attempt_id", a.ID),
		zap.String("cart_id", a.CartID),
		zap.String("payment_method", req.PaymentMethod),
		zap.String("total", a.State.Totals.TotalAmount.StringFixed(2)))
	return a, nil
}

// errAbort marks failures after which the attempt must not be resumed.
type errAbort struct{ err error }

func (e errAbort) Error() string { return e.err.Error() }
func (e errAbort) Unwrap() error { return e.err }

func (o *Orchestrator) run(ctx context.Context, a *Attempt) (*Result, error) {
	if a.Status != StatusInProgress {
		a.Status, a.ErrorKind, a.ErrorMessage = StatusInProgress, "", ""
		if err := o.Attempts.Save(ctx, a); err != nil {
			return nil, err
		}
	}
	for _, step := range a.Step.next() {
		if err := o.runStep(ctx, a, step); err != nil {
			return nil, o.fail(ctx, a, step, err)
		}
		a.Step = step
		if step == StepCompleted {
			a.Status = StatusCompleted
		}
		if err := o.Attempts.Save(ctx, a); err != nil {
			return nil, o.fail(ctx, a, step, err)
		}
	}
	res := *a.State.Result
	o.Log.Info("checkout completed",
		zap.String("attempt_id", a.ID),
		zap.String("order_number", res.OrderNumber),
		zap.String("payment_status", string(res.PaymentStatus)))
	return &res, nil
}

func (o *Orchestrator) runStep(ctx context.Context, a *Attempt, step Step) error {
	ctx, span := o.tracer.Start(ctx, "checkout."+string(step), trace.WithAttributes(
		attribute.String("checkout.attempt_id", a.ID),
		attribute.String("checkout.payment_method", a.State.Request.PaymentMethod),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	err := o.stepFunc(step)(ctx, a)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !isTaxonomy(err) {
		err = &apperr.Error{
			Kind:    apperr.KindPersistenceFailure,
			Message: fmt.Sprintf("checkout step %s timed out", step),
			Err:     err,
		}
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.Metrics.Steps.WithLabelValues(string(step), outcome).Inc()
	return err
}

func isTaxonomy(err error) bool {
	var ae *apperr.Error
	return errors.As(err, &ae)
}

// fail records the failure on the attempt with a context that outlives the
// request, and returns the error the caller should see.
func (o *Orchestrator) fail(ctx context.Context, a *Attempt, step Step, err error) error {
	var abort errAbort
	if errors.As(err, &abort) {
		a.Status = StatusAborted
		err = abort.err
	} else {
		a.Status = StatusFailed
	}
	a.ErrorKind, a.ErrorMessage = apperr.KindOf(err), apperr.MessageOf(err)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := o.Attempts.Save(saveCtx, a); serr != nil {
		o.Log.Error("checkout attempt not saved", zap.String("attempt_id", a.ID), zap.Error(serr))
	}
	o.Log.Warn("checkout step failed",
		zap.String("attempt_id", a.ID),
		zap.String("step", string(step)),
		zap.String("status", string(a.Status)),
		zap.String("kind", string(a.ErrorKind)),
		zap.Error(err))
	return err
}

func (o *Orchestrator) stepFunc(step Step) func(context.Context, *Attempt) error {
	switch step {
	case StepCustomer:
		return o.resolveCustomer
	case StepOrderCreated:
		return o.createOrder
	case StepItemsAdded:
		return o.addItems
	case StepPayment:
		return o.collectPayment
	case StepNotified:
		return o.sendNotifications
	case StepCartCleared:
		return o.clearCart
	case StepCompleted:
		return o.complete
	}
	return func(context.Context, *Attempt) error { return nil }
}

func (o *Orchestrator) resolveCustomer(ctx context.Context, a *Attempt) error {
	req := a.State.Request
	customerID, err := o.Customers.EnsureCustomer(ctx, req.Customer)
	if err != nil {
		return err
	}
	var shippingID, billingID *string
	if req.ShippingAddress != nil {
		id, err := o.Customers.CreateAddress(ctx, customerID, customer.AddressShipping, *req.ShippingAddress)
		if err != nil {
			return err
		}
		shippingID = &id
	}
	billing := req.BillingAddress
	if billing == nil {
		billing = req.ShippingAddress
	}
	if billing != nil {
		id, err := o.Customers.CreateAddress(ctx, customerID, customer.AddressBilling, *billing)
		if err != nil {
			return err
		}
		billingID = &id
	}
	a.State.CustomerID, a.State.ShippingAddressID, a.State.BillingAddressID = customerID, shippingID, billingID
	return nil
}

func (o *Orchestrator) createOrder(ctx context.Context, a *Attempt) error {
	existing, err := o.Orders.FindByCheckoutAttempt(ctx, a.ID)
	switch {
	case err == nil:
		a.State.OrderID, a.State.OrderNumber = existing.ID, existing.OrderNumber
		return nil
	case !errors.Is(err, order.ErrNotFound):
		return err
	}
	req := a.State.Request
	created, err := o.Orders.CreateOrder(ctx, order.NewOrder{
		CustomerID:        a.State.CustomerID,
		ShippingAddressID: a.State.ShippingAddressID,
		BillingAddressID:  a.State.BillingAddressID,
		Notes:             req.Notes,
		Totals:            a.State.Totals,
		PaymentMethod:     req.PaymentMethod,
		CheckoutAttemptID: a.ID,
	})
	if err != nil {
		return err
	}
	a.State.OrderID, a.State.OrderNumber = created.ID, created.OrderNumber
	return nil
}

// addItems reserves stock. A shortfall cancels the order and aborts the
// attempt: retrying cannot succeed without a new cart.
func (o *Orchestrator) addItems(ctx context.Context, a *Attempt) error {
	_, err := o.Orders.AddOrderItems(ctx, a.State.OrderID, a.State.Cart.Items)
	if err == nil {
		return nil
	}
	if !errors.Is(err, cart.ErrInsufficientStock) {
		return err
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, cerr := o.Orders.CancelOrder(cctx, a.State.OrderID, "insufficient stock at checkout"); cerr != nil {
		o.Log.Error("order not cancelled after stock shortfall",
			zap.String("order_id", a.State.OrderID), zap.Error(cerr))
		return err
	}
	return errAbort{err}
}

func (o *Orchestrator) collectPayment(ctx context.Context, a *Attempt) error {
	req := a.State.Request
	if req.PaymentMethod == payment.MethodCashOnPickup {
		if _, err := o.Orders.UpdateOrderWithPickupDetails(ctx, a.State.OrderID, *req.PickupDetails); err != nil {
			return err
		}
		a.State.PaymentStatus = payment.StatusPending
		return nil
	}

	p, err := o.paymentFor(ctx, a)
	if err != nil {
		return err
	}
	a.State.PaymentID, a.State.PaymentStatus = p.ID, p.Status

	switch {
	case p.Status == payment.StatusCompleted:
		if _, err := o.Orders.MarkOrderPaid(ctx, a.State.OrderID); err != nil {
			return err
		}
	case p.Status == payment.StatusPending && req.PaymentMethod == payment.MethodBankTransfer:
		if a.State.PaymentDeadline != nil {
			return nil
		}
		hours, err := o.Settings.PaymentDeadlineHours(ctx)
		if err != nil {
			return err
		}
		deadline, err := o.Orders.SetPaymentDeadline(ctx, a.State.OrderID, hours)
		if err != nil {
			return err
		}
		a.State.PaymentDeadline = &deadline
	}
	return nil
}

// paymentFor calls the gateway at most once per attempt: a payment already
// recorded for the order is reused, and an intent the gateway already
// returned is recorded without a second call.
func (o *Orchestrator) paymentFor(ctx context.Context, a *Attempt) (*payment.Payment, error) {
	existing, err := o.Payments.GetPaymentsByOrder(ctx, a.State.OrderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}
	req := a.State.Request
	if a.State.Intent == nil {
		res, err := o.createIntent(ctx, a)
		if err != nil {
			return nil, err
		}
		a.State.Intent = res
		a.State.RedirectURL, a.State.RequiresAction = res.RedirectURL, res.RequiresAction

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = o.Attempts.Save(saveCtx, a)
		cancel()
		if err != nil {
			return nil, err
		}
	}
	return o.Payments.RecordIntent(ctx, payment.Record{
		OrderID:       a.State.OrderID,
		CustomerID:    a.State.CustomerID,
		Amount:        a.State.Totals.TotalAmount,
		Currency:      a.State.Totals.Currency,
		PaymentMethod: req.PaymentMethod,
		Result:        a.State.Intent,
	})
}

func (o *Orchestrator) createIntent(ctx context.Context, a *Attempt) (*payment.IntentResult, error) {
	req := a.State.Request
	gw, err := o.Gateways.Resolve(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	res, err := gw.CreateIntent(ctx, payment.IntentRequest{
		Amount:         a.State.Totals.TotalAmount,
		Currency:       a.State.Totals.Currency,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: a.IdempotencyKey,
		Metadata: map[string]string{
			"order_id":     a.State.OrderID,
			"order_number": a.State.OrderNumber,
			"customer_id":  a.State.CustomerID,
		},
	})
	if err != nil {
		if !isTaxonomy(err) {
			err = apperr.Gateway("payment intent creation failed", err)
		}
		return nil, err
	}
	return res, nil
}

// sendNotifications is fire and forget: dispatch errors are logged, never returned.
// Reading the bank details is part of the step and can fail it.
func (o *Orchestrator) sendNotifications(ctx context.Context, a *Attempt) error {
	req := a.State.Request
	name := strings.TrimSpace(req.Customer.FirstName + " " + req.Customer.LastName)
	var err error
	switch {
	case req.PaymentMethod == payment.MethodCashOnPickup:
		err = o.Notifier.SendCashOnPickupNotification(ctx, notify.PickupNotification{
			OrderID:       a.State.OrderID,
			OrderNumber:   a.State.OrderNumber,
			CustomerEmail: req.Customer.Email,
			CustomerName:  name,
			Pickup:        *req.PickupDetails,
			Items:         lineItems(a.State.Cart.Items),
			Total:         a.State.Totals.TotalAmount,
			Currency:      a.State.Totals.Currency,
		})
	case req.PaymentMethod == payment.MethodBankTransfer && a.State.PaymentDeadline != nil:
		bank, berr := o.Settings.BankDetails(ctx)
		if berr != nil {
			return berr
		}
		err = o.Notifier.SendBankTransferInstructions(ctx, notify.BankTransferInstructions{
			OrderID:       a.State.OrderID,
			OrderNumber:   a.State.OrderNumber,
			CustomerEmail: req.Customer.Email,
			CustomerName:  name,
			Amount:        a.State.Totals.TotalAmount,
			Currency:      a.State.Totals.Currency,
			Bank:          bank,
			Deadline:      *a.State.PaymentDeadline,
		})
	}
	if err != nil {
		o.Log.Warn("checkout notification failed",
			zap.String("order_number", a.State.OrderNumber), zap.Error(err))
	}
	return nil
}

func lineItems(items []cart.Item) []notify.LineItem {
	out := make([]notify.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, notify.LineItem{
			ProductID:  it.ProductID,
			Name:       it.Product.Name,
			SKU:        it.Product.SKU,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.Subtotal,
		})
	}
	return out
}

func (o *Orchestrator) clearCart(ctx context.Context, a *Attempt) error {
	err := o.Carts.DeleteCart(ctx, a.CartID)
	if errors.Is(err, cart.ErrNotFound) {
		return nil
	}
	return err
}

func (o *Orchestrator) complete(_ context.Context, a *Attempt) error {
	a.State.Result = &Result{
		AttemptID:       a.ID,
		OrderID:         a.State.OrderID,
		OrderNumber:     a.State.OrderNumber,
		PaymentStatus:   a.State.PaymentStatus,
		PaymentID:       a.State.PaymentID,
		Totals:          a.State.Totals,
		PaymentDeadline: a.State.PaymentDeadline,
		RedirectURL:     a.State.RedirectURL,
		RequiresAction:  a.State.RequiresAction,
	}
	return nil
}

func (o *Orchestrator) GetAttempt(ctx context.Context, key string) (*Attempt, error) {
	return o.Attempts.GetByKey(ctx, key)
}

// ResumeIncomplete re-drives in-progress attempts that nobody has touched
// for longer than the checkout timeout, e.g. after a crash. It returns how
// many were resumed.
func (o *Orchestrator) ResumeIncomplete(ctx context.Context) (int, error) {
	stale, err := o.Attempts.ListIncomplete(ctx, o.now().Add(-o.cfg.Timeout), 100)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for i := range stale {
		a := &stale[i]
		if !o.acquire(a.IdempotencyKey) {
			continue
		}
		actx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		_, err := o.run(actx, a)
		cancel()
		o.release(a.IdempotencyKey)
		if err != nil {
			o.Log.Warn("resumed checkout failed", zap.String("attempt_id", a.ID), zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed, nil
}
