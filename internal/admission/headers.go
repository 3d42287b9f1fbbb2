package admission

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"

	HeaderDraftLimit     = "RateLimit-Limit"
	HeaderDraftRemaining = "RateLimit-Remaining"
	HeaderDraftReset     = "RateLimit-Reset"

	HeaderRetryAfter     = "Retry-After"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// SetRateLimitHeaders writes both header families. Reset is Unix seconds in both.
func SetRateLimitHeaders(h http.Header, res ratelimit.Result) {
	limit := strconv.Itoa(res.Limit)
	remaining := strconv.Itoa(res.Remaining)
	reset := strconv.FormatInt(res.ResetAt.Unix(), 10)

	h.Set(HeaderLimit, limit)
	h.Set(HeaderRemaining, remaining)
	h.Set(HeaderReset, reset)
	h.Set(HeaderDraftLimit, limit)
	h.Set(HeaderDraftRemaining, remaining)
	h.Set(HeaderDraftReset, reset)
}

// SetRetryAfter writes the seconds until reset on a denied response
func SetRetryAfter(h http.Header, res ratelimit.Result, now time.Time) {
	h.Set(HeaderRetryAfter, strconv.Itoa(res.RetryAfter(now)))
}

var perRequestHeaders = []string{
	HeaderLimit, HeaderRemaining, HeaderReset,
	HeaderDraftLimit, HeaderDraftRemaining, HeaderDraftReset,
	HeaderRetryAfter,
}

// IsRateLimitHeader reports headers that belong to the current request only and
// must not be replayed from a cached response. Names match case-insensitively.
func IsRateLimitHeader(name string) bool {
	for _, h := range perRequestHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
