package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/healthcheck"
	"github.com/aman-churiwal/admission-gateway/internal/loadbalancer"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const HeaderBackendServer = "X-Backend-Server"

var errBackend = errors.New("backend returned server error")

// Proxy forwards one configured service to its targets
type Proxy struct {
	name           string
	targets        []string
	proxies        map[string]*httputil.ReverseProxy
	circuitBreaker *circuitbreaker.CircuitBreaker
	loadBalancer   loadbalancer.Strategy
	healthChecker  *healthcheck.Checker // nil when health checks are off
}

type Config struct {
	Name                 string
	Targets              []string
	LoadBalancerStrategy string
	CircuitBreaker       circuitbreaker.Config

	// nil disables active health checks
	HealthCheck *healthcheck.Config
}

func New(name, targetURL string) (*Proxy, error) {
	return NewWithConfig(Config{
		Name:                 name,
		Targets:              []string{targetURL},
		LoadBalancerStrategy: "round-robin",
		CircuitBreaker: circuitbreaker.Config{
			MaxFailures:     5,
			Timeout:         30 * time.Second,
			HalfOpenSuccess: 1,
		},
	})
}

func NewWithConfig(cfg Config) (*Proxy, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker.Name = cfg.Name
	}
	if cfg.CircuitBreaker.OnStateChange == nil {
		cfg.CircuitBreaker.OnStateChange = logStateChange
	}
	cb := circuitbreaker.New(cfg.CircuitBreaker)

	lb, err := loadbalancer.NewStrategy(cfg.LoadBalancerStrategy)
	if err != nil {
		return nil, err
	}

	proxies := make(map[string]*httputil.ReverseProxy, len(cfg.Targets))
	for _, targetURL := range cfg.Targets {
		target, err := url.Parse(targetURL)
		if err != nil {
			return nil, err
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, errors.New("target must be an absolute URL: " + targetURL)
		}

		rp := httputil.NewSingleHostReverseProxy(target)
		rp.ErrorHandler = errorHandler(cfg.Name, targetURL)
		proxies[targetURL] = rp
	}

	p := &Proxy{
		name:           cfg.Name,
		targets:        cfg.Targets,
		proxies:        proxies,
		circuitBreaker: cb,
		loadBalancer:   lb,
	}

	if cfg.HealthCheck != nil {
		p.healthChecker = healthcheck.NewTargetChecker(*cfg.HealthCheck, cfg.Targets)
		p.healthChecker.Start()
	}

	log.WithFields(log.Fields{
		"service":  cfg.Name,
		"targets":  len(cfg.Targets),
		"strategy": lb.Name(),
	}).Info("proxy initialized")

	return p, nil
}

func logStateChange(name string, from, to circuitbreaker.State) {
	log.WithFields(log.Fields{
		"breaker": name,
		"from":    from.String(),
		"to":      to.String(),
	}).Warn("circuit breaker state changed")
}

func errorHandler(service, target string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithError(err).WithFields(log.Fields{
			"service": service,
			"target":  target,
			"path":    r.URL.Path,
		}).Warn("upstream request failed")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"Bad Gateway"}`))
	}
}

// Forwards the request to the backend
func (p *Proxy) Handle(c *gin.Context) {
	candidates := p.targets
	if p.healthChecker != nil {
		candidates = p.healthChecker.HealthyNames()
	}

	if len(candidates) == 0 {
		log.WithField("service", p.name).Warn("no healthy targets available")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No healthy backend servers available",
		})
		return
	}

	selectedTarget := p.loadBalancer.Next(candidates)
	targetProxy, exists := p.proxies[selectedTarget]
	if !exists {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to select backend server",
		})
		return
	}

	if tracker, ok := p.loadBalancer.(loadbalancer.Tracker); ok {
		release := tracker.Acquire(selectedTarget)
		defer release()
	}

	err := p.circuitBreaker.Call(func() error {
		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			statusCode:     http.StatusOK,
		}

		req := c.Request
		req.Header.Set("X-Forwarded-Host", req.Host)
		if rid := c.GetString("request_id"); rid != "" {
			req.Header.Set("X-Request-ID", rid)
		}

		c.Header(HeaderBackendServer, selectedTarget)
		c.Writer = recorder

		targetProxy.ServeHTTP(c.Writer, req)
		c.Writer = recorder.ResponseWriter

		if recorder.statusCode >= http.StatusInternalServerError {
			return errBackend
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		log.WithFields(log.Fields{
			"service": p.name,
			"target":  selectedTarget,
		}).Warn("circuit breaker open, rejecting request")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
	}
}

func (p *Proxy) Name() string {
	return p.name
}

func (p *Proxy) CircuitBreaker() *circuitbreaker.CircuitBreaker {
	return p.circuitBreaker
}

// Returns health status of all targets, nil when health checks are off
func (p *Proxy) GetHealthStatus() map[string]healthcheck.Status {
	if p.healthChecker == nil {
		return nil
	}
	return p.healthChecker.GetAllStatus()
}

func (p *Proxy) Targets() []string {
	return append([]string(nil), p.targets...)
}

// Stops the health checker
func (p *Proxy) Stop() {
	if p.healthChecker != nil {
		p.healthChecker.Stop()
	}
}

// Captures the response status code
type responseRecorder struct {
	gin.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
