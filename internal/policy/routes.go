package policy

import (
	"fmt"
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/config"
)

const anyMethod = "*"

// Annotation is the static admission metadata attached to a route
type Annotation struct {
	Group      EndpointGroup // empty falls back to the path heuristic
	Operation  OperationType // empty derives from the HTTP method
	Skip       bool
	Idempotent bool
}

// RouteTable maps route patterns (as registered with the router) to annotations.
// It is populated during startup and read-only while serving.
type RouteTable struct {
	routes map[string]Annotation
}

func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[string]Annotation)}
}

func routeKey(method, pattern string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = anyMethod
	}
	return m + " " + pattern
}

// Annotate registers a for method and pattern. An empty method matches any method.
func (t *RouteTable) Annotate(method, pattern string, a Annotation) {
	t.routes[routeKey(method, pattern)] = a
}

// Lookup prefers a method-specific annotation over an any-method one
func (t *RouteTable) Lookup(method, pattern string) (Annotation, bool) {
	if pattern == "" {
		return Annotation{}, false
	}
	if a, ok := t.routes[routeKey(method, pattern)]; ok {
		return a, true
	}
	a, ok := t.routes[routeKey("", pattern)]
	return a, ok
}

func (t *RouteTable) Len() int {
	return len(t.routes)
}

// AnnotationFrom validates the group and operation names of a config entry
func AnnotationFrom(group, operation string, skip, idempotent bool) (Annotation, error) {
	a := Annotation{Skip: skip, Idempotent: idempotent}

	if group != "" {
		g, ok := ParseEndpointGroup(group)
		if !ok {
			return Annotation{}, fmt.Errorf("unknown endpoint group %q", group)
		}
		a.Group = g
	}

	if operation != "" {
		op, ok := ParseOperation(operation)
		if !ok {
			return Annotation{}, fmt.Errorf("unknown operation type %q", operation)
		}
		a.Operation = op
	}

	return a, nil
}

// LoadRoutes adds the explicit route annotations from configuration
func (t *RouteTable) LoadRoutes(routes []config.RouteConfig) error {
	for _, r := range routes {
		a, err := AnnotationFrom(r.Group, r.Operation, r.Skip, r.Idempotent)
		if err != nil {
			return fmt.Errorf("route %s %s: %w", r.Method, r.Path, err)
		}
		t.Annotate(r.Method, r.Path, a)
	}
	return nil
}
