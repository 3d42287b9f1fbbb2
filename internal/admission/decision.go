package admission

import (
	"errors"

	"github.com/aman-churiwal/admission-gateway/internal/idempotency"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
)

var (
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrIdempotencyConflict = errors.New("idempotency key is already being processed")
)

type Verdict int

const (
	VerdictAllowed Verdict = iota
	VerdictSkipped
	VerdictDenied
	VerdictConflict
	VerdictReplayed
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllowed:
		return "allowed"
	case VerdictSkipped:
		return "skipped"
	case VerdictDenied:
		return "denied"
	case VerdictConflict:
		return "conflict"
	case VerdictReplayed:
		return "replayed"
	default:
		return "unknown"
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Decision is the tagged outcome of running a request through the gate.
// RateLimit is nil for skipped routes and when the limiter failed open.
// Replay is set only for VerdictReplayed.
type Decision struct {
	Verdict    Verdict
	Annotation policy.Annotation
	Resolution policy.Resolution
	RateLimit  *ratelimit.Result
	FailedOpen bool
	Replay     *idempotency.Response
}

// Err maps rejecting verdicts to their sentinel error
func (d Decision) Err() error {
	switch d.Verdict {
	case VerdictDenied:
		return ErrRateLimitExceeded
	case VerdictConflict:
		return ErrIdempotencyConflict
	default:
		return nil
	}
}

// Proceeds reports whether the downstream handler may run
func (d Decision) Proceeds() bool {
	return d.Verdict == VerdictAllowed || d.Verdict == VerdictSkipped
}
