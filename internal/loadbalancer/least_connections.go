package loadbalancer

import "sync"

type LeastConnections struct {
	mu          sync.Mutex
	connections map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		connections: make(map[string]int),
	}
}

// Returns the target with the fewest in-flight requests; ties go to the earliest target
func (l *LeastConnections) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := targets[0]
	minConn := l.connections[selected]
	for _, target := range targets[1:] {
		if conn := l.connections[target]; conn < minConn {
			minConn = conn
			selected = target
		}
	}

	return selected
}

// Acquire counts a request against target until release is called
func (l *LeastConnections) Acquire(target string) func() {
	l.mu.Lock()
	l.connections[target]++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.connections[target] > 0 {
				l.connections[target]--
			}
		})
	}
}

// Returns the in-flight count for target
func (l *LeastConnections) Active(target string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[target]
}

func (l *LeastConnections) Name() string {
	return "least_connections"
}
