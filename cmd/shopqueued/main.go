package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shopqueue-backend/config"
	"shopqueue-backend/internal/api"
	"shopqueue-backend/internal/auth"
	"shopqueue-backend/internal/catalogsync"
	"shopqueue-backend/internal/coordinator"
	"shopqueue-backend/internal/db"
	"shopqueue-backend/internal/geo"
	"shopqueue-backend/internal/health"
	"shopqueue-backend/internal/live"
	"shopqueue-backend/internal/nearby"
	"shopqueue-backend/internal/notification"
	"shopqueue-backend/internal/queue"
	"shopqueue-backend/internal/store"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatalf("failed to load configuration from %s", configPath)
	}
	log.WithField("path", configPath).Info("configuration loaded")

	if cfg.Auth.HMACSecret == "" {
		log.Fatal("auth.hmac_secret must be configured")
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		log.Warn("VAPID keys are not configured; push delivery will fail and be counted")
	}
	if err := notification.Validate(); err != nil {
		log.WithError(err).Fatal("notification templates are incomplete")
	}
	gin.SetMode(cfg.Server.Mode)

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}

	rdb, err := newRedis(&cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("failed to configure redis")
	}
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := store.NewGormStore(gormDB)
	liveStore := live.NewGormStore(gormDB)
	queueStore := queue.NewRedisStore(rdb, cfg.Queue.KeyPrefix)

	index, writer, err := newGeoIndex(ctx, cfg, gormDB, catalog)
	if err != nil {
		log.WithError(err).Fatal("failed to build geo index")
	}

	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.BufferSize, gormDB, &webpushOptions, rdb, cfg.Queue.KeyPrefix)
	workerPool.Start(ctx)

	schedule, err := coordinator.NewSchedule(cfg.Booking.OpenTime, cfg.Booking.CloseTime,
		cfg.Booking.SlotMinutes, cfg.Booking.Timezone, cfg.Booking.MaxDaysAhead)
	if err != nil {
		log.WithError(err).Fatal("invalid booking configuration")
	}
	coordOpts := []coordinator.Option{coordinator.WithSchedule(schedule)}
	if writer != nil {
		coordOpts = append(coordOpts, coordinator.WithGeoWriter(writer))
	}
	coord := coordinator.New(queueStore, liveStore, catalog, workerPool, cfg.Queue.AverageServiceMinutes, coordOpts...)
	go coord.RunJanitor(ctx, cfg.Queue.CleanupInterval, cfg.Queue.Retention)

	if cfg.CatalogSync.Enabled {
		go catalogsync.NewService(&cfg.CatalogSync, catalog, writer).Run(ctx)
	}

	checker := health.NewChecker(2*time.Second, map[string]health.Pinger{
		"geo_store":   catalog,
		"queue_store": queueStore,
	})
	handler := api.NewHandler(catalog, nearby.NewService(index, liveStore, cfg.Search.LiveConcurrency),
		coord, coord, coord, checker, &webpushOptions, api.Options{
			DefaultRadiusMeters: cfg.Search.DefaultRadiusMeters,
			SearchTimeout:       time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
			RateLimitPerSec:     cfg.Server.RateLimitPerSec,
			RateLimitBurst:      cfg.Server.RateLimitBurst,
			CacheTTL:            time.Duration(cfg.Server.CacheTTLSeconds) * time.Second,
		}).WithWatch(rdb, cfg.Queue.KeyPrefix)
	router := api.NewRouter(handler, auth.NewHMACVerifier(cfg.Auth.HMACSecret, cfg.Auth.Issuer))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server Shutdown")
	}
	log.Info("server gracefully stopped")
}

func newRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	return redis.NewClient(opts), nil
}

// newGeoIndex returns the configured index and, for the in-process backend,
// the writer that keeps it in step with the catalog.
func newGeoIndex(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, catalog store.Store) (geo.Index, geo.Writer, error) {
	switch cfg.Geo.Backend {
	case "postgis":
		if !cfg.Database.EnablePostGIS {
			return nil, nil, errors.New("geo.backend postgis requires database.enable_postgis")
		}
		return geo.NewPostGISIndex(gormDB), nil, nil
	case "memory":
		providers, err := catalog.ListProviders(ctx)
		if err != nil {
			return nil, nil, err
		}
		idx := geo.NewMemoryIndex(providers...)
		log.WithField("providers", len(providers)).Info("loaded in-memory geo index")
		return idx, idx, nil
	default:
		return nil, nil, fmt.Errorf("unknown geo backend %q", cfg.Geo.Backend)
	}
}
