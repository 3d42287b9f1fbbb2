package stats

import (
	"context"
	"sync"
)

// Recorder counts gate verdicts per endpoint group. Record must not block the request path.
type Recorder interface {
	Record(group, verdict string)
}

// Snapshotter reads back aggregated counters, keyed "<group>:<verdict>" and "total:<verdict>"
type Snapshotter interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

func fields(group, verdict string) [2]string {
	return [2]string{group + ":" + verdict, "total:" + verdict}
}

type Nop struct{}

func (Nop) Record(string, string) {}

// MemoryRecorder keeps counters in process. Used when no Redis is configured.
type MemoryRecorder struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{counts: make(map[string]int64)}
}

func (m *MemoryRecorder) Record(group, verdict string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields(group, verdict) {
		m.counts[f]++
	}
}

func (m *MemoryRecorder) Snapshot(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}
