package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/logging"
	"github.com/aman-churiwal/admission-gateway/internal/server"
	"github.com/aman-churiwal/admission-gateway/internal/stats"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.json"
	}
	configPath := flag.String("config", defaultPath, "path to a JSON or YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	store, sink, err := openStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open shared store")
	}
	defer store.Close()

	db, err := storage.OpenDatabase(cfg.Database.DSN, !cfg.IsProduction())
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}
	log.WithField("dialect", db.Dialect).Info("database ready")

	srv, err := server.New(server.Options{
		Config:   cfg,
		Store:    store,
		Database: db,
		Stats:    sink,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build server")
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server exited")
}

// openStore connects to Redis behind a circuit breaker, or falls back to an
// in-process store when no Redis host is configured
func openStore(cfg *config.Config) (storage.Store, server.Stats, error) {
	if cfg.Redis.Host == "" {
		log.Warn("no redis host configured, using in-memory store; limits are per instance")
		return storage.NewMemoryStore(time.Minute), stats.NewMemoryRecorder(), nil
	}

	redisClient, err := storage.NewRedis(
		cfg.Redis.GetRedisAddr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.Prefix,
	)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("addr", cfg.Redis.GetRedisAddr()).Info("connected to redis")

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "store",
		MaxFailures: cfg.StoreBreaker.MaxFailures,
		Timeout:     time.Duration(cfg.StoreBreaker.TimeoutSeconds) * time.Second,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("shared store circuit breaker state changed")
		},
	})

	sink := stats.NewRedisRecorder(redisClient.Client(), redisClient.Prefix()+"admission:stats", 5*time.Second)
	return storage.NewBreakerStore(redisClient, breaker), sink, nil
}
