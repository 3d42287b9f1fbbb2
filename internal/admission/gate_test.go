package admission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/idempotency"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	gate     *Gate
	store    *storage.MemoryStore
	recorder *stats.MemoryRecorder
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) fixture {
	t.Helper()

	cfg := config.Default().RateLimit
	cfg.Anonymous = config.TierConfig{Window: 60, Limit: 10}
	table, err := policy.NewTable(cfg)
	require.NoError(t, err)

	store := storage.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	if limiter == nil {
		limiter = ratelimit.NewFixedWindow(store, "rl:")
	}

	routes := policy.NewRouteTable()
	routes.Annotate("GET", "/health", policy.Annotation{Skip: true})
	routes.Annotate("", "/orders", policy.Annotation{Group: policy.GroupAPI, Idempotent: true})
	routes.Annotate("GET", "/orders", policy.Annotation{Group: policy.GroupAPI, Operation: policy.OperationRead})

	recorder := stats.NewMemoryRecorder()
	gate := New(Options{
		Routes:           routes,
		Resolver:         policy.NewResolver(table),
		Limiter:          limiter,
		Coordinator:      idempotency.NewCoordinator(store, "idem:", time.Hour),
		Recorder:         recorder,
		RateLimitEnabled: true,
	})

	return fixture{gate: gate, store: store, recorder: recorder}
}

func anonGet(path string) Request {
	return Request{Request: policy.Request{
		Method:       http.MethodGet,
		Path:         path,
		RoutePattern: path,
		Header:       http.Header{},
		RemoteAddr:   "198.51.100.10:40000",
	}}
}

func TestGate_TenThenDeny(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d := f.gate.Admit(ctx, anonGet("/orders"))
		require.Equal(t, VerdictAllowed, d.Verdict, "request %d", i)
		require.NotNil(t, d.RateLimit)
		assert.Equal(t, 10, d.RateLimit.Limit)
		assert.Equal(t, 10-i, d.RateLimit.Remaining)
		assert.Equal(t, "ip:198.51.100.10", d.Resolution.TrackingKey)
	}

	d := f.gate.Admit(ctx, anonGet("/orders"))
	assert.Equal(t, VerdictDenied, d.Verdict)
	assert.False(t, d.Proceeds())
	assert.ErrorIs(t, d.Err(), ErrRateLimitExceeded)
	assert.Equal(t, 0, d.RateLimit.Remaining)

	body := NewRateLimitBody(d, time.Now())
	assert.Equal(t, http.StatusTooManyRequests, body.StatusCode)
	assert.Equal(t, CodeRateLimitExceeded, body.Code)
	assert.Equal(t, "Too Many Requests", body.Error)
	assert.Equal(t, 10, body.Details.Limit)
	assert.Equal(t, uint(60), body.Details.TTL)
	assert.InDelta(t, 60, body.Details.RetryAfter, 1)
	_, err := time.Parse(time.RFC3339, body.Details.ResetAt)
	assert.NoError(t, err)

	snap, _ := f.recorder.Snapshot(ctx)
	assert.Equal(t, int64(1), snap["API:denied"])
}

func TestGate_SkipRouteIsNeverCounted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d := f.gate.Admit(ctx, anonGet("/health"))
		require.Equal(t, VerdictSkipped, d.Verdict)
		assert.Nil(t, d.RateLimit)
		assert.True(t, d.Proceeds())
	}
	assert.Equal(t, 0, f.store.Len())
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, policy.EndpointGroup, policy.Tier) (ratelimit.Result, error) {
	return ratelimit.Result{}, storage.ErrUnavailable
}

func TestGate_FailsOpenWhenLimiterErrors(t *testing.T) {
	f := newFixture(t, failingLimiter{})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		d := f.gate.Admit(ctx, anonGet("/orders"))
		require.Equal(t, VerdictAllowed, d.Verdict)
		assert.True(t, d.FailedOpen)
		assert.Nil(t, d.RateLimit)
	}
}

func TestGate_DisabledRateLimitStillResolves(t *testing.T) {
	f := newFixture(t, nil)
	f.gate.enabled = false

	d := f.gate.Admit(context.Background(), anonGet("/orders"))
	assert.Equal(t, VerdictAllowed, d.Verdict)
	assert.Nil(t, d.RateLimit)
	assert.Equal(t, policy.GroupAPI, d.Resolution.Group)
	assert.Equal(t, 0, f.store.Len())
}

func postOrder(key string) Request {
	r := anonGet("/orders")
	r.Method = http.MethodPost
	r.Identity = &policy.Identity{UserID: "u-7"}
	r.IdempotencyKey = key
	return r
}

func TestGate_ProceedReplaysIdempotentRequests(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	runs := 0
	next := func(context.Context) (*idempotency.Response, error) {
		runs++
		return &idempotency.Response{StatusCode: http.StatusCreated, Body: []byte(`{"id":1}`)}, nil
	}

	req := postOrder("key-1")
	d, err := f.gate.Proceed(ctx, req, f.gate.Admit(ctx, req), next)
	require.NoError(t, err)
	assert.Equal(t, VerdictAllowed, d.Verdict)

	d, err = f.gate.Proceed(ctx, req, f.gate.Admit(ctx, req), next)
	require.NoError(t, err)
	assert.Equal(t, VerdictReplayed, d.Verdict)
	require.NotNil(t, d.Replay)
	assert.Equal(t, []byte(`{"id":1}`), d.Replay.Body)
	assert.Equal(t, 1, runs)

	// the composite key is scoped to the authenticated user
	_, found, _ := f.store.Get(ctx, "idem:u-7:POST:/orders:key-1:response")
	assert.True(t, found)
}

func TestGate_ProceedConflictWhileInFlight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	lock, _ := json.Marshal(idempotency.LockRecord{Status: idempotency.StatusProcessing, StartedAt: time.Now()})
	require.NoError(t, f.store.Set(ctx, "idem:u-7:POST:/orders:key-2:lock", string(lock), time.Hour))

	req := postOrder("key-2")
	d, err := f.gate.Proceed(ctx, req, f.gate.Admit(ctx, req), func(context.Context) (*idempotency.Response, error) {
		t.Fatal("handler must not run while the key is in flight")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, VerdictConflict, d.Verdict)
	assert.ErrorIs(t, d.Err(), ErrIdempotencyConflict)

	body := NewConflictBody("req-1")
	assert.Equal(t, CodeIdempotencyConflict, body.Code)
	assert.Equal(t, "req-1", body.RequestID)
}

func TestGate_ProceedWithoutKeyOrOptInRunsDirectly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	boom := errors.New("downstream failed")

	runs := 0
	next := func(context.Context) (*idempotency.Response, error) {
		runs++
		return nil, boom
	}

	// no key
	req := postOrder("")
	_, err := f.gate.Proceed(ctx, req, f.gate.Admit(ctx, req), next)
	assert.ErrorIs(t, err, boom)

	// route not opted in
	req = postOrder("key-3")
	req.Path, req.RoutePattern = "/payments", "/payments"
	d, err := f.gate.Proceed(ctx, req, f.gate.Admit(ctx, req), next)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, VerdictAllowed, d.Verdict)

	assert.Equal(t, 2, runs)
	_, found, _ := f.store.Get(ctx, "idem:u-7:POST:/payments:key-3:lock")
	assert.False(t, found)
}

func TestSetRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	reset := time.Unix(1_800_000_000, 0)
	SetRateLimitHeaders(h, ratelimit.Result{Limit: 10, Remaining: 3, ResetAt: reset})
	SetRetryAfter(h, ratelimit.Result{ResetAt: reset}, reset.Add(-42*time.Second))

	assert.Equal(t, "10", h.Get("X-RateLimit-Limit"))
	assert.Equal(t, "3", h.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1800000000", h.Get("X-RateLimit-Reset"))
	assert.Equal(t, "10", h.Get("RateLimit-Limit"))
	assert.Equal(t, "3", h.Get("RateLimit-Remaining"))
	assert.Equal(t, "1800000000", h.Get("RateLimit-Reset"))
	assert.Equal(t, "42", h.Get("Retry-After"))

	assert.True(t, IsRateLimitHeader("x-ratelimit-remaining"))
	assert.False(t, IsRateLimitHeader("Content-Type"))
}

func TestIsRateLimitHeader_MatchesStoredKeys(t *testing.T) {
	h := http.Header{}
	SetRateLimitHeaders(h, ratelimit.Result{Limit: 10, Remaining: 3, ResetAt: time.Now()})
	SetRetryAfter(h, ratelimit.Result{ResetAt: time.Now().Add(time.Second)}, time.Now())
	h.Set("X-Order", "created")

	// keys as http.Header stores them, e.g. X-Ratelimit-Limit
	var kept []string
	for name := range h {
		if !IsRateLimitHeader(name) {
			kept = append(kept, name)
		}
	}
	assert.Equal(t, []string{"X-Order"}, kept)
	assert.True(t, IsRateLimitHeader("RATELIMIT-RESET"))
}
