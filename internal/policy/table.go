package policy

import (
	"fmt"
	"math"

	"github.com/aman-churiwal/admission-gateway/internal/config"
)

// Table holds the tier lookup tables. It is built once at startup and only read afterwards.
type Table struct {
	anonymous     map[EndpointGroup]Tier
	authenticated map[EndpointGroup]map[UserPlan]Tier

	fallbackAuthenticated Tier
	fallbackAnonymous     Tier

	multipliers map[OperationType]float64
}

func NewTable(cfg config.RateLimitConfig) (*Table, error) {
	t := &Table{
		anonymous:             make(map[EndpointGroup]Tier),
		authenticated:         make(map[EndpointGroup]map[UserPlan]Tier),
		fallbackAuthenticated: tierFromConfig(cfg.Default),
		fallbackAnonymous:     tierFromConfig(cfg.Anonymous),
		multipliers: map[OperationType]float64{
			OperationRead:  cfg.ReadMultiplier,
			OperationWrite: cfg.WriteMultiplier,
		},
	}

	for name, tc := range cfg.GroupAnonymous {
		group, ok := ParseEndpointGroup(name)
		if !ok {
			return nil, fmt.Errorf("unknown endpoint group %q in anonymous tiers", name)
		}
		t.anonymous[group] = tierFromConfig(tc)
	}

	for name, plans := range cfg.Plans {
		group, ok := ParseEndpointGroup(name)
		if !ok {
			return nil, fmt.Errorf("unknown endpoint group %q in plan tiers", name)
		}
		byPlan := make(map[UserPlan]Tier, len(plans))
		for planName, tc := range plans {
			plan, ok := ParsePlan(planName)
			if !ok {
				return nil, fmt.Errorf("unknown plan %q for group %s", planName, group)
			}
			byPlan[plan] = tierFromConfig(tc)
		}
		t.authenticated[group] = byPlan
	}

	return t, nil
}

func tierFromConfig(tc config.TierConfig) Tier {
	return Tier{WindowSeconds: tc.Window, MaxRequests: tc.Limit}
}

// Base returns the tier before the operation multiplier
func (t *Table) Base(group EndpointGroup, authenticated bool, plan UserPlan) Tier {
	if !authenticated {
		if tier, ok := t.anonymous[group]; ok {
			return tier
		}
		return t.fallbackAnonymous
	}

	if byPlan, ok := t.authenticated[group]; ok {
		if tier, ok := byPlan[plan]; ok {
			return tier
		}
	}
	return t.fallbackAuthenticated
}

// Lookup applies the operation multiplier last and floors the result.
// A quota never drops below one request per window.
func (t *Table) Lookup(group EndpointGroup, authenticated bool, plan UserPlan, op OperationType) Tier {
	tier := t.Base(group, authenticated, plan)

	mult, ok := t.multipliers[op]
	if !ok {
		mult = 1
	}

	scaled := math.Floor(float64(tier.MaxRequests) * mult)
	if scaled < 1 {
		scaled = 1
	}
	tier.MaxRequests = uint(scaled)

	return tier
}
