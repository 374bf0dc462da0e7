package settings

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const InvalidationChannel = "settings:invalidate"

// Invalidator tells other instances that a setting changed.
type Invalidator interface {
	Publish(ctx context.Context, category, key string) error
}

// RedisInvalidator broadcasts invalidations over Redis pub/sub. Messages are
// "<origin>|<category>/<key>"; an instance ignores its own messages.
type RedisInvalidator struct {
	client  redis.UniversalClient
	channel string
	origin  string
	log     *zap.Logger
	retry   func() backoff.BackOff
}

func NewRedisInvalidator(client redis.UniversalClient, log *zap.Logger) *RedisInvalidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisInvalidator{
		client:  client,
		channel: InvalidationChannel,
		origin:  uuid.NewString(),
		log:     log,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

func (r *RedisInvalidator) Publish(ctx context.Context, category, key string) error {
	return r.client.Publish(ctx, r.channel, r.origin+"|"+cacheKey(category, key)).Err()
}

// Listen applies remote invalidations to cache until ctx is done. ready, if
// not nil, is closed once the subscription is confirmed.
func (r *RedisInvalidator) Listen(ctx context.Context, cache *Cache, ready chan<- struct{}) error {
	return r.listen(ctx, cache, func() {
		if ready != nil {
			close(ready)
		}
	})
}

// Run keeps a subscription alive until ctx is done, subscribing again with
// exponential backoff whenever it cannot subscribe or the subscription
// ends. ready, if not nil, is closed after the first successful subscribe.
func (r *RedisInvalidator) Run(ctx context.Context, cache *Cache, ready chan<- struct{}) {
	var once sync.Once
	b := r.retry()
	for {
		subscribed := false
		err := r.listen(ctx, cache, func() {
			subscribed = true
			once.Do(func() {
				if ready != nil {
					close(ready)
				}
			})
		})
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = 30 * time.Second
		}
		r.log.Warn("settings invalidation subscription lost, retrying",
			zap.Duration("in", wait), zap.Error(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (r *RedisInvalidator) listen(ctx context.Context, cache *Cache, onReady func()) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	onReady()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			origin, k, found := strings.Cut(msg.Payload, "|")
			if !found || origin == r.origin {
				continue
			}
			cache.Invalidate(k)
			r.log.Debug("settings invalidated by peer", zap.String("key", k))
		}
	}
}
