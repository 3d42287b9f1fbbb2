package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Checker runs probes periodically and keeps the latest status of each
type Checker struct {
	mu          sync.RWMutex
	probes      []Probe
	status      map[string]*Status
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	stopChan    chan struct{}
	running     bool
}

type Config struct {
	Endpoint    string        // Health endpoint for HTTP probes (default: "/health")
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Per-probe timeout (default: 5s)
	MaxFailures int           // Consecutive failures before marking unhealthy (default: 3)
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "/health"
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	return c
}

func NewChecker(cfg Config, probes ...Probe) *Checker {
	cfg = cfg.withDefaults()

	checker := &Checker{
		probes:      probes,
		status:      make(map[string]*Status, len(probes)),
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		stopChan:    make(chan struct{}),
	}

	// Assume healthy until proven otherwise
	now := time.Now()
	for _, p := range probes {
		checker.status[p.Name()] = &Status{Name: p.Name(), IsHealthy: true, LastCheck: now}
	}

	return checker
}

// NewTargetChecker probes every upstream target over HTTP
func NewTargetChecker(cfg Config, targets []string) *Checker {
	cfg = cfg.withDefaults()
	client := &http.Client{Timeout: cfg.Timeout}

	probes := make([]Probe, 0, len(targets))
	for _, target := range targets {
		probes = append(probes, HTTPProbe(target, cfg.Endpoint, client))
	}
	return NewChecker(cfg, probes...)
}

// Runs one round synchronously, then keeps checking every interval until Stop
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"probes":   len(c.probes),
		"interval": c.interval,
	}).Info("starting health checks")

	c.CheckNow(context.Background())

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckNow(context.Background())
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		log.Info("health checker stopped")
	}
}

// CheckNow runs every probe concurrently and waits for them
func (c *Checker) CheckNow(ctx context.Context) {
	var wg sync.WaitGroup

	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			c.record(p.Name(), p.Check(probeCtx))
		}(p)
	}

	wg.Wait()
}

func (c *Checker) record(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[name]
	now := time.Now()
	status.LastCheck = now

	if err == nil {
		status.LastSuccess = now
		status.FailureCount = 0
		status.LastError = ""
		if !status.IsHealthy {
			log.WithField("probe", name).Info("probe is healthy again")
			status.IsHealthy = true
		}
		return
	}

	status.LastFailure = now
	status.FailureCount++
	status.LastError = err.Error()
	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		log.WithError(err).WithFields(log.Fields{
			"probe":    name,
			"failures": status.FailureCount,
		}).Warn("probe is now unhealthy")
		status.IsHealthy = false
	}
}

// Returns the names of healthy probes in registration order
func (c *Checker) HealthyNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := make([]string, 0, len(c.probes))
	for _, p := range c.probes {
		if c.status[p.Name()].IsHealthy {
			healthy = append(healthy, p.Name())
		}
	}
	return healthy
}

// Returns a copy of the status of one probe, nil when unknown
func (c *Checker) GetStatus(name string) *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if status, exists := c.status[name]; exists {
		statusCopy := *status
		return &statusCopy
	}
	return nil
}

func (c *Checker) GetAllStatus() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statusMap := make(map[string]Status, len(c.status))
	for name, status := range c.status {
		statusMap[name] = *status
	}
	return statusMap
}

func (c *Checker) OverallHealth() HealthStatus {
	healthy := len(c.HealthyNames())

	switch {
	case len(c.probes) == 0 || healthy == len(c.probes):
		return Healthy
	case healthy == 0:
		return Unhealthy
	default:
		return Degraded
	}
}
