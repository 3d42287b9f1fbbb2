package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/logging"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	log "github.com/sirupsen/logrus"
)

const DefaultTTL = 24 * time.Hour

// Handler runs the protected operation and returns what it sent to the client
type Handler func(ctx context.Context) (*Response, error)

// Coordinator makes at most one execution of a keyed operation run, and replays
// its response to later callers with the same key. Locks expire only through TTL.
type Coordinator struct {
	store  storage.Store
	prefix string
	ttl    time.Duration
	now    func() time.Time
	warn   *logging.Throttled
}

func NewCoordinator(store storage.Store, prefix string, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		store:  store,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
		warn:   logging.NewThrottled(10*time.Second, 3),
	}
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// Execute runs handler at most once per key while the key's records live.
// The returned error is the handler's own; store failures never surface.
func (c *Coordinator) Execute(ctx context.Context, key Key, handler Handler) (Outcome, error) {
	composite := key.Composite(c.prefix)
	lockKey := composite + ":lock"
	responseKey := composite + ":response"
	entry := log.WithField("idempotency_key", composite)

	started := c.now().UTC()
	lock, err := c.encode(LockRecord{Status: StatusProcessing, StartedAt: started})
	if err != nil {
		return c.unprotected(ctx, entry, err, handler)
	}

	acquired, err := c.store.SetNX(ctx, lockKey, lock, c.ttl)
	if err != nil {
		return c.unprotected(ctx, entry, err, handler)
	}

	if !acquired {
		return c.lookup(ctx, entry, responseKey, handler)
	}

	defer func() {
		if r := recover(); r != nil {
			c.release(ctx, entry, lockKey)
			panic(r)
		}
	}()

	resp, err := handler(ctx)
	if err != nil || !resp.Succeeded() {
		c.release(ctx, entry, lockKey)
		return Outcome{Kind: OutcomeExecuted, Response: resp}, err
	}

	c.complete(context.WithoutCancel(ctx), entry, lockKey, responseKey, started, resp)
	return Outcome{Kind: OutcomeExecuted, Response: resp}, nil
}

// release lets the client retry a failed operation under the same key
func (c *Coordinator) release(ctx context.Context, entry *log.Entry, lockKey string) {
	if err := c.store.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
		entry.WithError(err).Warn("idempotency: failed to release lock after handler failure")
	}
}

// lookup handles a caller that lost the lock race
func (c *Coordinator) lookup(ctx context.Context, entry *log.Entry, responseKey string, handler Handler) (Outcome, error) {
	cached, found, err := c.store.Get(ctx, responseKey)
	if err != nil {
		return c.unprotected(ctx, entry, err, handler)
	}
	if !found {
		return Outcome{Kind: OutcomeConflict}, nil
	}

	var resp Response
	if err := json.Unmarshal([]byte(cached), &resp); err != nil {
		entry.WithError(err).Error("idempotency: cached response is unreadable, treating key as in flight")
		return Outcome{Kind: OutcomeConflict}, nil
	}

	return Outcome{Kind: OutcomeReplayed, Response: &resp}, nil
}

// complete caches the response, then marks the lock completed. Failures are
// logged and dropped: the client already has its response.
func (c *Coordinator) complete(ctx context.Context, entry *log.Entry, lockKey, responseKey string, started time.Time, resp *Response) {
	encoded, err := c.encode(resp)
	if err != nil {
		entry.WithError(err).Error("idempotency: failed to encode response for caching")
		return
	}

	if err := c.store.Set(ctx, responseKey, encoded, c.ttl); err != nil {
		entry.WithError(err).Warn("idempotency: failed to cache response")
		return
	}

	done := c.now().UTC()
	lock, err := c.encode(LockRecord{Status: StatusCompleted, StartedAt: started, CompletedAt: &done})
	if err != nil {
		entry.WithError(err).Error("idempotency: failed to encode completed lock")
		return
	}
	if err := c.store.Set(ctx, lockKey, lock, c.ttl); err != nil {
		entry.WithError(err).Warn("idempotency: failed to mark lock completed")
	}
}

func (c *Coordinator) unprotected(ctx context.Context, entry *log.Entry, cause error, handler Handler) (Outcome, error) {
	c.warn.Warn(entry.WithError(cause), "idempotency: store unavailable, running handler without deduplication")
	resp, err := handler(ctx)
	return Outcome{Kind: OutcomeUnprotected, Response: resp}, err
}

func (c *Coordinator) encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode idempotency record: %w", err)
	}
	return string(raw), nil
}
