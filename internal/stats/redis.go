package stats

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisRecorder aggregates counters locally and flushes them to one Redis hash
// shared by every instance. Counts pending at a failed flush are kept for the next one.
type RedisRecorder struct {
	client   *redis.Client
	key      string
	interval time.Duration

	mu      sync.Mutex
	pending map[string]int64
}

func NewRedisRecorder(client *redis.Client, key string, interval time.Duration) *RedisRecorder {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RedisRecorder{
		client:   client,
		key:      key,
		interval: interval,
		pending:  make(map[string]int64),
	}
}

func (r *RedisRecorder) Record(group, verdict string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range fields(group, verdict) {
		r.pending[f]++
	}
}

// Run flushes on every tick until ctx is done, then flushes once more
func (r *RedisRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				log.WithError(err).Debug("stats: flush failed, will retry")
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				log.WithError(err).Warn("stats: final flush failed")
			}
			cancel()
			return
		}
	}
}

func (r *RedisRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string]int64, len(batch))
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for field, n := range batch {
		pipe.HIncrBy(ctx, r.key, field, n)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.restore(batch)
		return fmt.Errorf("flush admission stats: %w", err)
	}
	return nil
}

func (r *RedisRecorder) restore(batch map[string]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for field, n := range batch {
		r.pending[field] += n
	}
}

func (r *RedisRecorder) Snapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read admission stats: %w", err)
	}

	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
