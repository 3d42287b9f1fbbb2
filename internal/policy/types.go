package policy

import (
	"net/http"
	"strings"
	"time"
)

type EndpointGroup string

const (
	GroupAuth     EndpointGroup = "AUTH"
	GroupAPI      EndpointGroup = "API"
	GroupWebhooks EndpointGroup = "WEBHOOKS"
	GroupAdmin    EndpointGroup = "ADMIN"
	GroupSearch   EndpointGroup = "SEARCH"
	GroupUpload   EndpointGroup = "UPLOAD"
	GroupAI       EndpointGroup = "AI"
)

var AllGroups = []EndpointGroup{GroupAuth, GroupAPI, GroupWebhooks, GroupAdmin, GroupSearch, GroupUpload, GroupAI}

// ParseEndpointGroup is case-insensitive
func ParseEndpointGroup(s string) (EndpointGroup, bool) {
	g := EndpointGroup(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllGroups {
		if g == known {
			return g, true
		}
	}
	return "", false
}

type OperationType string

const (
	OperationRead  OperationType = "READ"
	OperationWrite OperationType = "WRITE"
)

func ParseOperation(s string) (OperationType, bool) {
	switch OperationType(strings.ToUpper(strings.TrimSpace(s))) {
	case OperationRead:
		return OperationRead, true
	case OperationWrite:
		return OperationWrite, true
	default:
		return "", false
	}
}

// Safe methods read, everything else writes
func OperationFromMethod(method string) OperationType {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return OperationRead
	default:
		return OperationWrite
	}
}

// UserPlan is ordered: a higher plan never gets a smaller tier in the default tables
type UserPlan int

const (
	PlanFree UserPlan = iota
	PlanBasic
	PlanPremium
	PlanEnterprise
)

var AllPlans = []UserPlan{PlanFree, PlanBasic, PlanPremium, PlanEnterprise}

func (p UserPlan) String() string {
	switch p {
	case PlanFree:
		return "FREE"
	case PlanBasic:
		return "BASIC"
	case PlanPremium:
		return "PREMIUM"
	case PlanEnterprise:
		return "ENTERPRISE"
	default:
		return "UNKNOWN"
	}
}

func (p UserPlan) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePlan accepts exact plan names only, case-insensitive
func ParsePlan(s string) (UserPlan, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FREE":
		return PlanFree, true
	case "BASIC":
		return PlanBasic, true
	case "PREMIUM":
		return PlanPremium, true
	case "ENTERPRISE":
		return PlanEnterprise, true
	default:
		return PlanFree, false
	}
}

// Tier is a fixed-window quota: MaxRequests per WindowSeconds
type Tier struct {
	WindowSeconds uint `json:"window_seconds"`
	MaxRequests   uint `json:"max_requests"`
}

func (t Tier) Window() time.Duration {
	return time.Duration(t.WindowSeconds) * time.Second
}

// Identity is what a prior authentication step established about the caller
type Identity struct {
	UserID           string
	Role             string
	Plan             string
	SubscriptionTier string
}
