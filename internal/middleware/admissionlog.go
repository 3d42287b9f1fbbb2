package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/logging"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type AdmissionLogStore interface {
	CreateBatch(ctx context.Context, logs []models.AdmissionLog) error
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// AdmissionLogger persists one row per request in batches from a background worker.
// Enqueueing never blocks; entries are dropped when the buffer is full.
type AdmissionLogger struct {
	store         AdmissionLogStore
	entries       chan models.AdmissionLog
	batchSize     int
	flushInterval time.Duration
	retention     time.Duration
	dropWarn      *logging.Throttled

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewAdmissionLogger(store AdmissionLogStore, cfg config.AdmissionLogConfig) *AdmissionLogger {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := time.Duration(cfg.FlushIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &AdmissionLogger{
		store:         store,
		entries:       make(chan models.AdmissionLog, bufferSize),
		batchSize:     batchSize,
		flushInterval: interval,
		retention:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		dropWarn:      logging.NewThrottled(30*time.Second, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the batch worker and, when retention is set, the hourly cleanup
func (l *AdmissionLogger) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run(ctx)

	if l.retention > 0 {
		go l.cleanupLoop(ctx)
	}
}

// Stop flushes queued entries and waits for the worker to exit
func (l *AdmissionLogger) Stop() {
	l.once.Do(func() { close(l.stop) })
	if l.started.Load() {
		<-l.done
	}
}

func (l *AdmissionLogger) Enqueue(entry models.AdmissionLog) bool {
	select {
	case l.entries <- entry:
		return true
	default:
		l.dropWarn.Warn(log.WithField("buffer", cap(l.entries)), "admission log buffer full, dropping entry")
		return false
	}
}

func (l *AdmissionLogger) run(ctx context.Context) {
	defer close(l.done)

	batch := make([]models.AdmissionLog, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.store.CreateBatch(context.WithoutCancel(ctx), batch); err != nil {
			log.WithError(err).WithField("count", len(batch)).Error("failed to insert admission logs")
		}
		batch = make([]models.AdmissionLog, 0, l.batchSize)
	}

	for {
		select {
		case entry := <-l.entries:
			batch = append(batch, entry)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stop:
			l.drain(&batch)
			flush()
			return
		case <-ctx.Done():
			l.drain(&batch)
			flush()
			return
		}
	}
}

func (l *AdmissionLogger) drain(batch *[]models.AdmissionLog) {
	for {
		select {
		case entry := <-l.entries:
			*batch = append(*batch, entry)
		default:
			return
		}
	}
}

func (l *AdmissionLogger) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		l.Cleanup(ctx)

		select {
		case <-ticker.C:
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Cleanup deletes rows older than the retention period
func (l *AdmissionLogger) Cleanup(ctx context.Context) {
	if l.retention <= 0 {
		return
	}

	deleted, err := l.store.DeleteOlderThan(ctx, time.Now().UTC().Add(-l.retention))
	if err != nil {
		log.WithError(err).Warn("admission log cleanup failed")
		return
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("admission log cleanup")
	}
}

// Middleware records the request after the rest of the chain has run
func (l *AdmissionLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := models.AdmissionLog{
			Timestamp:      start.UTC(),
			RequestID:      c.GetString(KeyRequestID),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			UserAgent:      c.Request.UserAgent(),
			BackendServer:  c.Writer.Header().Get("X-Backend-Server"),
		}

		if d, ok := DecisionFrom(c); ok {
			entry.Verdict = d.Verdict.String()
			entry.TrackingKey = d.Resolution.TrackingKey
			entry.EndpointGroup = string(d.Resolution.Group)
			if d.RateLimit != nil {
				entry.Limit = d.RateLimit.Limit
				entry.Remaining = d.RateLimit.Remaining
			}
		}

		l.Enqueue(entry)
	}
}
