package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
)

// FixedWindowLimiter counts requests per tracking key and endpoint group in a
// store-side counter that expires one window after its first increment.
// Up to one window's worth of extra requests can pass around a boundary.
type FixedWindowLimiter struct {
	store  storage.Store
	prefix string
	now    func() time.Time
}

func NewFixedWindow(store storage.Store, prefix string) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		store:  store,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock replaces the time source used to compute reset times
func (f *FixedWindowLimiter) WithClock(now func() time.Time) *FixedWindowLimiter {
	f.now = now
	return f
}

// CounterKey is the store key for a tracking key and group
func (f *FixedWindowLimiter) CounterKey(trackingKey string, group policy.EndpointGroup) string {
	return f.prefix + trackingKey + ":" + string(group)
}

func (f *FixedWindowLimiter) Check(ctx context.Context, trackingKey string, group policy.EndpointGroup, tier policy.Tier) (Result, error) {
	window := tier.Window()
	limit := int(tier.MaxRequests)

	count, ttl, err := f.store.IncrWithExpiry(ctx, f.CounterKey(trackingKey, group), window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check for %s: %w", trackingKey, err)
	}

	if ttl <= 0 {
		ttl = window
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:       count <= int64(limit),
		Limit:         limit,
		Remaining:     remaining,
		ResetAt:       f.now().Add(ttl),
		TotalRequests: count,
	}, nil
}
