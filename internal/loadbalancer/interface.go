package loadbalancer

type Strategy interface {
	// Selects the next target from available targets, "" when there are none
	Next(targets []string) string

	// Returns the strategy name
	Name() string
}

// Tracker is implemented by strategies that need to know when a request to a
// target starts and ends
type Tracker interface {
	Acquire(target string) (release func())
}
