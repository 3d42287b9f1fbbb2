package admission

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/idempotency"
	"github.com/aman-churiwal/admission-gateway/internal/logging"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	log "github.com/sirupsen/logrus"
)

// Request is one inbound request as the gate sees it
type Request struct {
	policy.Request
	IdempotencyKey string
}

type Options struct {
	Routes      *policy.RouteTable
	Resolver    *policy.Resolver
	Limiter     ratelimit.Limiter
	Coordinator *idempotency.Coordinator // nil disables idempotency
	Recorder    stats.Recorder           // nil records nothing

	// false skips counting but still resolves policy
	RateLimitEnabled bool
}

// Gate orders admission for every request: skip check, policy resolution,
// rate limiting, then idempotency around the downstream handler. It keeps no
// request state of its own; the shared store orders concurrent admissions.
type Gate struct {
	routes      *policy.RouteTable
	resolver    *policy.Resolver
	limiter     ratelimit.Limiter
	coordinator *idempotency.Coordinator
	recorder    stats.Recorder
	enabled     bool
	warn        *logging.Throttled
}

func New(opts Options) *Gate {
	routes := opts.Routes
	if routes == nil {
		routes = policy.NewRouteTable()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = stats.Nop{}
	}

	return &Gate{
		routes:      routes,
		resolver:    opts.Resolver,
		limiter:     opts.Limiter,
		coordinator: opts.Coordinator,
		recorder:    recorder,
		enabled:     opts.RateLimitEnabled,
		warn:        logging.NewThrottled(10*time.Second, 3),
	}
}

func (g *Gate) Routes() *policy.RouteTable {
	return g.routes
}

// Admit decides whether the request may reach the handler. Store failures
// admit the request with FailedOpen set.
func (g *Gate) Admit(ctx context.Context, req Request) Decision {
	ann, _ := g.routes.Lookup(req.Method, req.RoutePattern)
	if ann.Skip {
		return Decision{Verdict: VerdictSkipped, Annotation: ann}
	}

	res := g.resolver.Resolve(req.Request, ann)
	d := Decision{Verdict: VerdictAllowed, Annotation: ann, Resolution: res}

	if !g.enabled || g.limiter == nil {
		return d
	}

	result, err := g.limiter.Check(ctx, res.TrackingKey, res.Group, res.Tier)
	if err != nil {
		g.warn.Warn(log.WithError(err).WithFields(log.Fields{
			"tracking_key": res.TrackingKey,
			"group":        res.Group,
		}), "rate limit: store unavailable, failing open")
		d.FailedOpen = true
		return d
	}

	d.RateLimit = &result
	if !result.Allowed {
		d.Verdict = VerdictDenied
		g.record(d)
	}

	return d
}

// Proceed runs next for an admitted request, under the idempotency coordinator
// when the route opted in and the client sent a key. It returns the final
// decision (Allowed, Replayed or Conflict) and next's error.
func (g *Gate) Proceed(ctx context.Context, req Request, d Decision, next idempotency.Handler) (Decision, error) {
	if !g.Protects(req, d) {
		_, err := next(ctx)
		g.record(d)
		return d, err
	}

	key := idempotency.Key{
		Method:    req.Method,
		Path:      req.Path,
		ClientKey: req.IdempotencyKey,
	}
	if req.Identity != nil {
		key.Actor = req.Identity.UserID
	}

	outcome, err := g.coordinator.Execute(ctx, key, next)
	switch outcome.Kind {
	case idempotency.OutcomeReplayed:
		d.Verdict = VerdictReplayed
		d.Replay = outcome.Response
	case idempotency.OutcomeConflict:
		d.Verdict = VerdictConflict
	}

	g.record(d)
	return d, err
}

// Protects reports whether Proceed will run next under the idempotency coordinator
func (g *Gate) Protects(req Request, d Decision) bool {
	return g.coordinator != nil &&
		d.Verdict == VerdictAllowed &&
		d.Annotation.Idempotent &&
		req.IdempotencyKey != ""
}

func (g *Gate) record(d Decision) {
	group := string(d.Resolution.Group)
	if group == "" {
		group = "NONE"
	}
	g.recorder.Record(group, d.Verdict.String())
}
