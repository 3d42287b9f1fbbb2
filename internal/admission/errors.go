package admission

import (
	"net/http"
	"time"
)

const (
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
)

type RateLimitDetails struct {
	Limit      int    `json:"limit"`
	TTL        uint   `json:"ttl"`
	RetryAfter int    `json:"retryAfter"`
	ResetAt    string `json:"resetAt"`
}

// RateLimitBody is the 429 payload
type RateLimitBody struct {
	StatusCode int              `json:"statusCode"`
	Code       string           `json:"code"`
	Message    string           `json:"message"`
	Error      string           `json:"error"`
	Details    RateLimitDetails `json:"details"`
}

// ConflictBody is the 409 payload for an in-flight idempotency key
type ConflictBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// NewRateLimitBody builds the 429 payload for a denied decision
func NewRateLimitBody(d Decision, now time.Time) RateLimitBody {
	body := RateLimitBody{
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "Too many requests. Please try again later.",
		Error:      http.StatusText(http.StatusTooManyRequests),
		Details: RateLimitDetails{
			TTL: d.Resolution.Tier.WindowSeconds,
		},
	}

	if d.RateLimit != nil {
		body.Details.Limit = d.RateLimit.Limit
		body.Details.RetryAfter = d.RateLimit.RetryAfter(now)
		body.Details.ResetAt = d.RateLimit.ResetAt.UTC().Format(time.RFC3339)
	}

	return body
}

func NewConflictBody(requestID string) ConflictBody {
	return ConflictBody{
		Code:      CodeIdempotencyConflict,
		Message:   "A request with this idempotency key is already being processed. Retry after it completes.",
		RequestID: requestID,
	}
}
