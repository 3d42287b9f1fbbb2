package logging

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Setup configures the standard logrus logger. Unknown levels fall back to info.
func Setup(level, format string) {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stdout)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// Throttled emits at most one entry per interval (plus burst) and counts what
// it suppressed, so repeated failures of the same kind do not flood the output.
type Throttled struct {
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

func NewThrottled(every time.Duration, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

// Warn logs through entry when the limiter allows it and reports whether it did
func (t *Throttled) Warn(entry *log.Entry, msg string) bool {
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return false
	}
	if n := t.suppressed.Swap(0); n > 0 {
		entry = entry.WithField("suppressed", n)
	}
	entry.Warn(msg)
	return true
}
