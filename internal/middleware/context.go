package middleware

import (
	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/gin-gonic/gin"
)

// Context keys shared between middleware and handlers
const (
	KeyRequestID = "request_id"
	KeyIdentity  = "identity"
	KeyAPIKeyID  = "api_key_id"
	KeyDecision  = "admission_decision"
)

// Returns the authenticated caller, nil for anonymous requests
func IdentityFrom(c *gin.Context) *policy.Identity {
	v, ok := c.Get(KeyIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*policy.Identity)
	return id
}

// Returns the gate decision recorded for the request
func DecisionFrom(c *gin.Context) (admission.Decision, bool) {
	v, ok := c.Get(KeyDecision)
	if !ok {
		return admission.Decision{}, false
	}
	d, ok := v.(admission.Decision)
	return d, ok
}
