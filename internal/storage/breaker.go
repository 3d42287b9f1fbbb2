package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
)

// BreakerStore short-circuits calls to an unhealthy store. Once the breaker opens,
// every call returns ErrUnavailable immediately until the probe interval passes,
// so an outage does not cost each request a network timeout.
type BreakerStore struct {
	next    Store
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerStore(next Store, breaker *circuitbreaker.CircuitBreaker) *BreakerStore {
	return &BreakerStore{next: next, breaker: breaker}
}

func (b *BreakerStore) Breaker() *circuitbreaker.CircuitBreaker {
	return b.breaker
}

func (b *BreakerStore) guard(fn func() error) error {
	if err := b.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	err := fn()
	switch {
	case err == nil:
		b.breaker.Record(nil)
		return nil
	case errors.Is(err, context.Canceled):
		// The caller went away; says nothing about the store
		b.breaker.Record(nil)
		return err
	default:
		b.breaker.Record(err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func (b *BreakerStore) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var (
		count int64
		ttl   time.Duration
	)
	err := b.guard(func() (err error) {
		count, ttl, err = b.next.IncrWithExpiry(ctx, key, window)
		return err
	})
	return count, ttl, err
}

func (b *BreakerStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := b.guard(func() (err error) {
		ok, err = b.next.SetNX(ctx, key, value, ttl)
		return err
	})
	return ok, err
}

func (b *BreakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		val   string
		found bool
	)
	err := b.guard(func() (err error) {
		val, found, err = b.next.Get(ctx, key)
		return err
	})
	return val, found, err
}

func (b *BreakerStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.guard(func() error {
		return b.next.Set(ctx, key, value, ttl)
	})
}

func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	return b.guard(func() error {
		return b.next.Delete(ctx, key)
	})
}

// Ping bypasses the breaker so health checks always see the real state
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *BreakerStore) Close() error {
	return b.next.Close()
}
