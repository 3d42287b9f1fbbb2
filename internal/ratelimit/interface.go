package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/policy"
)

// Result of counting one request against its tier
type Result struct {
	Allowed       bool      `json:"allowed"`
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	TotalRequests int64     `json:"total_requests"`
}

// RetryAfter is the whole number of seconds until the window resets, never negative
func (r Result) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

type Limiter interface {
	// Check counts the request and reports whether it fits the tier.
	// An error means the shared store could not be consulted.
	Check(ctx context.Context, trackingKey string, group policy.EndpointGroup, tier policy.Tier) (Result, error)
}
