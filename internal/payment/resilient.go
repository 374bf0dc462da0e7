package payment

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

// Resilient wraps a gateway with a circuit breaker and bounded retries of
// transient errors. Every retry reuses the request's idempotency key, so the
// gateway sees one logical intent.
type Resilient struct {
	next       Gateway
	cb         *gobreaker.CircuitBreaker[*IntentResult]
	maxRetries uint
	backoff    func() backoff.BackOff
}

func NewResilient(name string, next Gateway, maxRetries int) *Resilient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Resilient{
		next: next,
		cb: gobreaker.NewCircuitBreaker[*IntentResult](gobreaker.Settings{
			Name:        "gateway:" + name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		maxRetries: uint(maxRetries),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
}

func (r *Resilient) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	op := func() (*IntentResult, error) {
		res, err := r.cb.Execute(func() (*IntentResult, error) {
			return r.next.CreateIntent(ctx, req)
		})
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrTransient) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.backoff()),
		backoff.WithMaxTries(r.maxRetries+1),
	)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.Gateway("payment intent creation failed", err)
	}
	return res, nil
}
