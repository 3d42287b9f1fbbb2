package policy

import (
	"net"
	"net/http"
	"strings"
)

// Request is the slice of an HTTP request the resolver looks at
type Request struct {
	Method       string
	Path         string
	RoutePattern string
	Header       http.Header
	RemoteAddr   string
	Identity     *Identity
}

// Resolution is everything the rate limit engine needs for one request
type Resolution struct {
	TrackingKey   string        `json:"tracking_key"`
	Group         EndpointGroup `json:"group"`
	Operation     OperationType `json:"operation"`
	Plan          UserPlan      `json:"plan"`
	Authenticated bool          `json:"authenticated"`
	Tier          Tier          `json:"tier"`
}

type Resolver struct {
	table *Table
}

func NewResolver(table *Table) *Resolver {
	return &Resolver{table: table}
}

func (r *Resolver) Resolve(req Request, ann Annotation) Resolution {
	authenticated := req.Identity != nil && req.Identity.UserID != ""

	group := ann.Group
	if group == "" {
		group = ClassifyPath(req.Method, req.Path)
	}

	op := ann.Operation
	if op == "" {
		op = OperationFromMethod(req.Method)
	}

	plan := PlanFree
	if authenticated {
		plan = ResolvePlan(*req.Identity)
	}

	return Resolution{
		TrackingKey:   TrackingKey(req),
		Group:         group,
		Operation:     op,
		Plan:          plan,
		Authenticated: authenticated,
		Tier:          r.table.Lookup(group, authenticated, plan, op),
	}
}

// TrackingKey identifies who a counter belongs to: the user when known, the client address otherwise
func TrackingKey(req Request) string {
	if req.Identity != nil && req.Identity.UserID != "" {
		return "user:" + req.Identity.UserID
	}
	return "ip:" + ClientIP(req.Header, req.RemoteAddr)
}

// ClientIP checks X-Forwarded-For (first hop), X-Real-IP, CF-Connecting-IP, then the socket address
func ClientIP(h http.Header, remoteAddr string) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	for _, name := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if ip := strings.TrimSpace(h.Get(name)); ip != "" {
			return ip
		}
	}

	if remoteAddr != "" {
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
			return host
		}
		return remoteAddr
	}

	return "unknown"
}

// ClassifyPath guesses the endpoint group from the path. First match wins.
func ClassifyPath(method, path string) EndpointGroup {
	p := strings.ToLower(path)

	switch {
	case containsAny(p, "auth", "login", "register"):
		return GroupAuth
	case containsAny(p, "webhook", "hooks"):
		return GroupWebhooks
	case strings.Contains(p, "admin"):
		return GroupAdmin
	case strings.Contains(p, "search") && !strings.Contains(p, "visual-search"):
		return GroupSearch
	case strings.EqualFold(method, http.MethodGet) && strings.Contains(p, "products"):
		return GroupSearch
	case containsAny(p, "upload", "files"):
		return GroupUpload
	case hasSegment(p, "ai") || containsAny(p, "content-generation", "visual-search"):
		return GroupAI
	default:
		return GroupAPI
	}
}

// ResolvePlan: explicit plan, then subscription tier keywords, then role, then FREE
func ResolvePlan(id Identity) UserPlan {
	if plan, ok := ParsePlan(id.Plan); ok {
		return plan
	}

	sub := strings.ToLower(id.SubscriptionTier)
	switch {
	case strings.Contains(sub, "enterprise"):
		return PlanEnterprise
	case strings.Contains(sub, "premium"):
		return PlanPremium
	case strings.Contains(sub, "basic"), strings.Contains(sub, "starter"):
		return PlanBasic
	}

	switch strings.ToUpper(id.Role) {
	case "ADMIN", "VENDOR":
		return PlanBasic
	}

	return PlanFree
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasSegment(path, segment string) bool {
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
