package policy

import (
	"net/http"
	"testing"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, "10.0.0.2:5555", "203.0.113.7"},
		{"empty forwarded falls through", map[string]string{"X-Forwarded-For": " ,10.0.0.1", "X-Real-IP": "198.51.100.4"}, "", "198.51.100.4"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:5555", "198.51.100.4"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "192.0.2.9"}, "10.0.0.2:5555", "192.0.2.9"},
		{"socket address", nil, "10.0.0.2:5555", "10.0.0.2"},
		{"ipv6 socket", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"socket without port", nil, "10.0.0.3", "10.0.0.3"},
		{"nothing", nil, "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(h, tt.remoteAddr))
		})
	}
}

func TestTrackingKey(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-For", "203.0.113.7")

	assert.Equal(t, "user:42", TrackingKey(Request{Header: h, Identity: &Identity{UserID: "42"}}))
	assert.Equal(t, "ip:203.0.113.7", TrackingKey(Request{Header: h}))
	assert.Equal(t, "ip:203.0.113.7", TrackingKey(Request{Header: h, Identity: &Identity{}}))
}

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   EndpointGroup
	}{
		{"POST", "/api/auth/refresh", GroupAuth},
		{"POST", "/login", GroupAuth},
		{"POST", "/users/register", GroupAuth},
		{"POST", "/payments/webhook/stripe", GroupWebhooks},
		{"POST", "/integrations/hooks/github", GroupWebhooks},
		{"GET", "/admin/users", GroupAdmin},
		{"GET", "/catalog/search", GroupSearch},
		{"GET", "/products/123", GroupSearch},
		{"POST", "/products", GroupAPI},
		{"POST", "/media/upload", GroupUpload},
		{"GET", "/files/abc", GroupUpload},
		{"POST", "/ai/describe", GroupAI},
		{"POST", "/content-generation/title", GroupAI},
		{"POST", "/visual-search", GroupAI},
		{"GET", "/orders/ai", GroupAI},
		{"GET", "/orders/details", GroupAPI},
		{"GET", "/orders", GroupAPI},
		// auth outranks admin
		{"GET", "/admin/auth/keys", GroupAuth},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPath(tt.method, tt.path))
		})
	}
}

func TestResolvePlan(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want UserPlan
	}{
		{"explicit plan wins", Identity{Plan: "premium", SubscriptionTier: "starter"}, PlanPremium},
		{"unknown explicit plan ignored", Identity{Plan: "gold", SubscriptionTier: "enterprise-annual"}, PlanEnterprise},
		{"premium keyword", Identity{SubscriptionTier: "Premium Monthly"}, PlanPremium},
		{"starter maps to basic", Identity{SubscriptionTier: "starter"}, PlanBasic},
		{"basic keyword", Identity{SubscriptionTier: "basic_v2"}, PlanBasic},
		{"admin role", Identity{Role: "admin"}, PlanBasic},
		{"vendor role", Identity{Role: "VENDOR"}, PlanBasic},
		{"subscription beats role", Identity{Role: "admin", SubscriptionTier: "enterprise"}, PlanEnterprise},
		{"customer default", Identity{Role: "customer"}, PlanFree},
		{"unmapped subscription", Identity{SubscriptionTier: "trial"}, PlanFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePlan(tt.id))
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	table, err := NewTable(config.Default().RateLimit)
	require.NoError(t, err)
	r := NewResolver(table)

	t.Run("anonymous auth write uses group override and halves", func(t *testing.T) {
		res := r.Resolve(Request{Method: "POST", Path: "/auth/login", RemoteAddr: "10.1.1.1:1000"}, Annotation{})

		assert.Equal(t, "ip:10.1.1.1", res.TrackingKey)
		assert.Equal(t, GroupAuth, res.Group)
		assert.Equal(t, OperationWrite, res.Operation)
		assert.False(t, res.Authenticated)
		assert.Equal(t, Tier{WindowSeconds: 900, MaxRequests: 5}, res.Tier)
	})

	t.Run("anonymous api read uses anonymous fallback", func(t *testing.T) {
		res := r.Resolve(Request{Method: "GET", Path: "/orders"}, Annotation{})
		assert.Equal(t, Tier{WindowSeconds: 60, MaxRequests: 30}, res.Tier)
	})

	t.Run("authenticated premium search", func(t *testing.T) {
		res := r.Resolve(Request{
			Method:   "GET",
			Path:     "/catalog/search",
			Identity: &Identity{UserID: "u1", Plan: "PREMIUM"},
		}, Annotation{})

		assert.Equal(t, "user:u1", res.TrackingKey)
		assert.Equal(t, PlanPremium, res.Plan)
		assert.Equal(t, Tier{WindowSeconds: 60, MaxRequests: 500}, res.Tier)
	})

	t.Run("annotation overrides heuristic and method", func(t *testing.T) {
		res := r.Resolve(Request{
			Method:   "POST",
			Path:     "/graphql",
			Identity: &Identity{UserID: "u1", Role: "vendor"},
		}, Annotation{Group: GroupSearch, Operation: OperationRead})

		assert.Equal(t, GroupSearch, res.Group)
		assert.Equal(t, OperationRead, res.Operation)
		assert.Equal(t, Tier{WindowSeconds: 60, MaxRequests: 200}, res.Tier)
	})
}
