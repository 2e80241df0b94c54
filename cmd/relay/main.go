package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"roomcast/internal/core/services"
	httphandlers "roomcast/internal/handlers/http"
	"roomcast/internal/infrastructure/distributed"
	"roomcast/internal/infrastructure/middleware"
	"roomcast/internal/infrastructure/monitoring"
	"roomcast/internal/infrastructure/repositories"
	relay "roomcast/internal/infrastructure/signal"
	"roomcast/internal/infrastructure/storage"
	"roomcast/pkg/config"
	"roomcast/pkg/logger"
	"roomcast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to the relay configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("Using default configuration", "path", *configPath, "error", err)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.ServiceName = "roomcast-relay"
	if cfg.Tracing.JaegerURL != "" {
		tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	}
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	store := repoFactory.CreateSessionStore()

	var authService services.AuthService
	if cfg.Auth.Enabled {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	}

	collector := monitoring.NewRelayCollector(prometheus.DefaultRegisterer)
	relayServer := relay.NewRelayServer(relay.RelayConfigFrom(cfg), store, authService, collector, log)

	checker := monitoring.NewHealthChecker()
	checker.AddStoreCheck(store, 2*time.Second)

	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 2*time.Second)

		bus := distributed.NewEventBus(client, uuid.NewString(), log)
		defer bus.Close()
		relayServer.SetPublisher(bus)

		go func() {
			err := bus.Subscribe(ctx, func(event *distributed.Event) error {
				if event.Type == distributed.EventSessionStatus {
					relayServer.ApplyStatus(event.RoomID, event.Status)
				}
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("Event bus subscription ended", "error", err)
			}
		}()
	}

	var objects storage.ObjectStore
	if cfg.Storage.Backend == "s3" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			Bucket:          cfg.Storage.Bucket,
			AccessKeyID:     cfg.Storage.AccessKey,
			SecretAccessKey: cfg.Storage.SecretKey,
			UsePathStyle:    cfg.Storage.Endpoint != "",
			PublicURL:       cfg.Storage.PublicURL,
		})
		if err != nil {
			log.Fatalw("Failed to create object store", "error", err)
		}
		objects = s3Store
	} else {
		log.Warnw("Recording uploads disabled on the relay", "storage_backend", cfg.Storage.Backend)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	guard := middleware.ServiceTokenMiddleware(cfg.SessionAPI.Token, authService)
	httphandlers.NewSessionHandler(store, objects, relayServer, cfg.Storage.Prefix, cfg.Server.MaxUploadBytes, log).
		SetupRoutes(router, guard, middleware.RequireSessionControl())
	if authService != nil {
		httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL).
			SetupRoutes(router, middleware.ServiceTokenMiddleware(cfg.SessionAPI.Token, nil))
	}

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = prometheus.DefaultGatherer
		log.Info("Prometheus metrics enabled")
	}
	httphandlers.NewHealthHandler(checker, relayServer).SetupRoutes(router, gatherer)
	router.GET("/ws", gin.WrapF(relayServer.HandleWebSocket))

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting roomcast relay", "address", cfg.Server.Address, "auth", cfg.Auth.Enabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	log.Info("Shutting down roomcast relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	relayServer.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("roomcast relay stopped")
}
