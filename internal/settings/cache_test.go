package settings

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	c := NewCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	loads := 0
	load := func(context.Context) (*Setting, error) {
		loads++
		return &Setting{Key: "k", Value: "v"}, nil
	}

	_, err := c.Load(ctx, "a/k", load)
	require.NoError(t, err)
	_, _ = c.Load(ctx, "a/k", load)
	assert.Equal(t, 1, loads)

	now = now.Add(time.Minute)
	_, _ = c.Load(ctx, "a/k", load)
	assert.Equal(t, 2, loads)
}

func TestCache_AbsentIsNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewCache(time.Minute)
	loads := 0
	for i := 0; i < 3; i++ {
		row, err := c.Load(ctx, "a/missing", func(context.Context) (*Setting, error) {
			loads++
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, row)
	}
	assert.Equal(t, 3, loads)
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	ctx := context.Background()
	c := NewCache(time.Minute)
	var loads atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, err := c.Load(ctx, "a/k", func(context.Context) (*Setting, error) {
				loads.Add(1)
				<-release
				return &Setting{Value: "v"}, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "v", row.Value)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, loads.Load(), int32(20))
	_, _ = c.Load(ctx, "a/k", func(context.Context) (*Setting, error) {
		loads.Add(100)
		return nil, nil
	})
	assert.Less(t, loads.Load(), int32(100), "value is cached after the shared load")
}

func TestCache_InvalidationDuringLoadIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	c := NewCache(time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = c.Load(ctx, "a/k", func(context.Context) (*Setting, error) {
			close(started)
			<-release
			return &Setting{Value: "old"}, nil
		})
	}()
	<-started
	c.Invalidate("a/k")
	close(release)
	<-done

	row, err := c.Load(ctx, "a/k", func(context.Context) (*Setting, error) { return &Setting{Value: "new"}, nil })
	require.NoError(t, err)
	assert.Equal(t, "new", row.Value)
}

func TestCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	c := NewCache(time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (*Setting, error) {
		close(started)
		select {
		case <-release:
			return &Setting{Value: "v"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Load(first, "a/k", load)
		firstErr <- err
	}()
	<-started

	second := make(chan *Setting, 1)
	go func() {
		row, err := c.Load(context.Background(), "a/k", func(context.Context) (*Setting, error) {
			t.Error("second caller should join the running load")
			return nil, nil
		})
		assert.NoError(t, err)
		second <- row
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	row := <-second
	require.NotNil(t, row)
	assert.Equal(t, "v", row.Value)
}
