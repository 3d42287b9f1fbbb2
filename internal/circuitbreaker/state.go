package circuitbreaker

type State int

const (
	// Calls pass through
	StateClosed State = iota

	// Calls fail immediately with ErrCircuitOpen
	StateOpen

	// A probe call is let through to test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
