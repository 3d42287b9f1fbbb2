package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/handler"
	"github.com/aman-churiwal/admission-gateway/internal/healthcheck"
	"github.com/aman-churiwal/admission-gateway/internal/idempotency"
	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/aman-churiwal/admission-gateway/internal/proxy"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const Version = "1.0.0"

// Stats is the admission counter sink. A sink with a Run(ctx) method is run
// in the background for the server's lifetime.
type Stats interface {
	stats.Recorder
	stats.Snapshotter
}

type Options struct {
	Config   *config.Config
	Store    storage.Store
	Database *storage.Database
	Stats    Stats // nil keeps counters in memory
}

type Server struct {
	router       *gin.Engine
	config       *config.Config
	store        storage.Store
	db           *storage.Database
	stats        Stats
	gate         *admission.Gate
	proxies      map[string]*proxy.Proxy
	health       *healthcheck.Checker
	admissionLog *middleware.AdmissionLogger

	authHandler   *handler.AuthHandler
	apiKeyHandler *handler.APIKeyHandler
	systemHandler *handler.SystemHandler
	authService   *service.AuthService
	apiKeyService *service.APIKeyService

	httpServer *http.Server
	cancel     context.CancelFunc
}

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil || opts.Store == nil || opts.Database == nil {
		return nil, errors.New("server: config, store and database are required")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	sink := opts.Stats
	if sink == nil {
		sink = stats.NewMemoryRecorder()
	}

	userRepo := repository.NewUserRepository(opts.Database)
	apiKeyRepo := repository.NewAPIKeyRepository(opts.Database)
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, opts.Store)

	s := &Server{
		router:        gin.New(),
		config:        cfg,
		store:         opts.Store,
		db:            opts.Database,
		stats:         sink,
		proxies:       make(map[string]*proxy.Proxy),
		authService:   authService,
		apiKeyService: apiKeyService,
		authHandler:   handler.NewAuthHandler(authService),
		apiKeyHandler: handler.NewAPIKeyHandler(apiKeyService),
	}

	if err := s.initializeProxies(); err != nil {
		return nil, err
	}

	gate, err := s.buildGate()
	if err != nil {
		return nil, err
	}
	s.gate = gate

	s.health = healthcheck.NewChecker(healthcheck.Config{},
		healthcheck.ProbeFunc("store", opts.Store.Ping),
		healthcheck.ProbeFunc("database", opts.Database.Ping),
	)

	if cfg.AdmissionLog.Enabled {
		s.admissionLog = middleware.NewAdmissionLogger(
			repository.NewAdmissionLogRepository(opts.Database),
			cfg.AdmissionLog,
		)
	}

	s.systemHandler = handler.NewSystemHandler(handler.SystemOptions{
		Proxies:      s.proxies,
		StoreBreaker: storeBreaker(opts.Store),
		Stats:        sink,
		Health:       s.health,
		Version:      Version,
	})

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func storeBreaker(store storage.Store) *circuitbreaker.CircuitBreaker {
	if bs, ok := store.(*storage.BreakerStore); ok {
		return bs.Breaker()
	}
	return nil
}

func (s *Server) buildGate() (*admission.Gate, error) {
	cfg := s.config

	table, err := policy.NewTable(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limit tiers: %w", err)
	}

	routes := policy.NewRouteTable()
	routes.Annotate(http.MethodGet, "/health", policy.Annotation{Skip: true})
	routes.Annotate("", "/auth/register", policy.Annotation{Group: policy.GroupAuth})
	routes.Annotate("", "/auth/login", policy.Annotation{Group: policy.GroupAuth})
	for _, pattern := range adminRoutes {
		routes.Annotate("", pattern, policy.Annotation{Group: policy.GroupAdmin})
	}

	for _, svc := range cfg.Services {
		ann, err := policy.AnnotationFrom(svc.Group, svc.Operation, svc.Skip, svc.Idempotent)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.Path, err)
		}
		routes.Annotate("", svc.Path, ann)
		routes.Annotate("", svc.Path+"/*proxyPath", ann)
	}

	// Explicit route entries win over service-level annotations
	if err := routes.LoadRoutes(cfg.Routes); err != nil {
		return nil, err
	}

	return admission.New(admission.Options{
		Routes:           routes,
		Resolver:         policy.NewResolver(table),
		Limiter:          ratelimit.NewFixedWindow(s.store, cfg.RateLimit.Prefix),
		Coordinator:      idempotency.NewCoordinator(s.store, cfg.Idempotency.Prefix, time.Duration(cfg.Idempotency.TTLSeconds)*time.Second),
		Recorder:         s.stats,
		RateLimitEnabled: cfg.RateLimit.Enabled,
	}), nil
}

func (s *Server) initializeProxies() error {
	for _, svc := range s.config.Services {
		if len(svc.Targets) == 0 {
			log.WithField("service", svc.Path).Warn("service has no targets configured, skipping")
			continue
		}

		pcfg := proxy.Config{
			Name:                 svc.Path,
			Targets:              svc.Targets,
			LoadBalancerStrategy: svc.Strategy,
			CircuitBreaker: circuitbreaker.Config{
				MaxFailures: svc.Breaker.MaxFailures,
				Timeout:     time.Duration(svc.Breaker.TimeoutSeconds) * time.Second,
			},
		}
		if svc.HealthCheckPath != "" {
			pcfg.HealthCheck = &healthcheck.Config{Endpoint: svc.HealthCheckPath}
		}

		p, err := proxy.NewWithConfig(pcfg)
		if err != nil {
			return fmt.Errorf("proxy for %s: %w", svc.Path, err)
		}

		s.proxies[svc.Path] = p
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	if s.admissionLog != nil {
		s.router.Use(s.admissionLog.Middleware())
	}
	s.router.Use(middleware.Authenticate(s.authService, s.apiKeyService))
	s.router.Use(middleware.Admission(s.gate))
}

var adminRoutes = []string{
	"/admin/status",
	"/admin/admission/stats",
	"/admin/circuit-breakers",
	"/admin/circuit-breakers/reset/*service",
	"/admin/keys",
	"/admin/keys/:id",
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.systemHandler.Health)

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", s.authHandler.Register)
		auth.POST("/login", s.authHandler.Login)
	}

	admin := s.router.Group("/admin", middleware.RequireRole("admin"))
	{
		admin.GET("/status", s.systemHandler.Status)
		admin.GET("/admission/stats", s.systemHandler.AdmissionStats)
		admin.GET("/circuit-breakers", s.systemHandler.CircuitBreakerStatus)
		admin.POST("/circuit-breakers/reset/*service", s.systemHandler.ResetCircuitBreaker)
		admin.POST("/keys", s.apiKeyHandler.Create)
		admin.GET("/keys", s.apiKeyHandler.List)
		admin.GET("/keys/:id", s.apiKeyHandler.Get)
		admin.PATCH("/keys/:id", s.apiKeyHandler.Update)
		admin.DELETE("/keys/:id", s.apiKeyHandler.Delete)
	}

	s.setupProxyRoutes()
}

func (s *Server) setupProxyRoutes() {
	for path, p := range s.proxies {
		s.router.Any(path+"/*proxyPath", p.Handle)
		s.router.Any(path, p.Handle)

		log.WithField("path", path).Info("registered proxy route")
	}
}

// Start launches the background workers: health probes, stats flushing and the admission log
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.health.Start()

	if runner, ok := s.stats.(interface{ Run(context.Context) }); ok {
		go runner.Run(ctx)
	}
	if s.admissionLog != nil {
		s.admissionLog.Start(ctx)
	}
}

// Handler returns the router, wrapped for cleartext HTTP/2 when enabled
func (s *Server) Handler() http.Handler {
	if s.config.Server.EnableH2C {
		return h2c.NewHandler(s.router, &http2.Server{})
	}
	return s.router
}

func (s *Server) Run(addr string) error {
	s.Start(context.Background())

	sc := s.config.Server
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(sc.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(sc.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(sc.IdleTimeoutSeconds) * time.Second,
	}

	log.WithFields(log.Fields{
		"addr":        addr,
		"environment": sc.Environment,
		"h2c":         sc.EnableH2C,
	}).Info("starting admission gateway")

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.Stop()
	return err
}

// Stop halts the background workers and flushes pending admission logs
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.admissionLog != nil {
		s.admissionLog.Stop()
	}
	s.health.Stop()
	for _, p := range s.proxies {
		p.Stop()
	}
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
