package idempotency

import (
	"net/http"
	"time"
)

const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
)

// LockRecord is stored under <composite>:lock
type LockRecord struct {
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Response is a handler result as cached under <composite>:response and replayed verbatim
type Response struct {
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body"`
}

// Succeeded reports whether the response is worth caching. Error responses
// release the key so the client can retry with it.
func (r *Response) Succeeded() bool {
	return r != nil && r.StatusCode > 0 && r.StatusCode < http.StatusBadRequest
}

// Key identifies one logical operation
type Key struct {
	Actor     string // user id; empty for anonymous callers
	Method    string
	Path      string
	ClientKey string // Idempotency-Key header value
}

func (k Key) Composite(prefix string) string {
	actor := k.Actor
	if actor == "" {
		actor = "anonymous"
	}
	return prefix + actor + ":" + k.Method + ":" + k.Path + ":" + k.ClientKey
}

type OutcomeKind int

const (
	// Handler ran under the lock
	OutcomeExecuted OutcomeKind = iota
	// Cached response of an earlier execution
	OutcomeReplayed
	// Another execution holds the lock and has not finished
	OutcomeConflict
	// Store unreachable; handler ran without deduplication
	OutcomeUnprotected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeExecuted:
		return "executed"
	case OutcomeReplayed:
		return "replayed"
	case OutcomeConflict:
		return "conflict"
	case OutcomeUnprotected:
		return "unprotected"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind     OutcomeKind
	Response *Response // set for Executed, Replayed and Unprotected
}
