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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"dance-ticketing/internal/config"
	"dance-ticketing/internal/customers/customer_api"
	customer_db "dance-ticketing/internal/customers/db"
	"dance-ticketing/internal/customers/qr"
	customers "dance-ticketing/internal/customers/service"
	"dance-ticketing/internal/database"
	"dance-ticketing/internal/database/migrations"
	"dance-ticketing/internal/kafka"
	"dance-ticketing/internal/logger"
	"dance-ticketing/internal/metrics"
	"dance-ticketing/internal/middleware"
	"dance-ticketing/internal/notify"
	ticketlock "dance-ticketing/internal/redis"
	"dance-ticketing/internal/sse"
	"dance-ticketing/internal/utils"
	"dance-ticketing/internal/web"
)

type app struct {
	cfg      *config.Config
	logger   *logger.Logger
	db       *bun.DB
	store    *customer_db.DB
	metrics  *metrics.Metrics
	emitter  *sse.BalanceEventEmitter
	service  *customers.CustomerService
	redis    *redis.Client
	producer *kafka.Producer
}

func migrate(cfg config.DatabaseConfig, log *logger.Logger) error {
	runner := migrations.NewRunner(cfg, log)
	if err := runner.Initialize(); err != nil {
		return err
	}
	defer runner.Close()
	return runner.MigrateUp()
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	if cfg.Addr == "" {
		log.Info("REDIS", "REDIS_ADDR not set, per-customer adjustment lock disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client
}

func setupKafka(cfg config.KafkaConfig, log *logger.Logger) *kafka.Producer {
	if !cfg.Enabled {
		log.Info("KAFKA", "KAFKA_ENABLED=false, ledger events will not be published")
		return nil
	}
	if err := kafka.EnsureTopicsExist(cfg.Brokers, []string{cfg.TicketsTopic}, log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		log.Info("KAFKA", "Required topics ensured successfully")
	}
	producer := kafka.NewProducer(cfg.Brokers, cfg.TicketsTopic, log)
	log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for topic %s", cfg.TicketsTopic))
	return producer
}

func (a *app) buildService() {
	notifier := notify.NewLineNotifier(a.cfg.Line, nil, a.logger, a.metrics)
	if a.cfg.Line.ChannelAccessToken == "" {
		a.logger.Warn("LINE", "LINE_CHANNEL_ACCESS_TOKEN not set, notifications will be skipped")
	}

	a.service = customers.NewCustomerService(a.store, notifier, a.logger, a.metrics)
	a.service.Emitter = a.emitter
	if a.producer != nil {
		a.service.Publisher = a.producer
	}
	if a.redis != nil {
		a.service.Lock = ticketlock.NewTicketLock(a.redis, a.cfg.Redis.LockTTL, a.logger)
	}
}

func (a *app) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Error("HEALTH", fmt.Sprintf("Database ping failed: %v", err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Error("HEALTH", fmt.Sprintf("Redis ping failed: %v", err))
			utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *app) router() (http.Handler, error) {
	pages, err := web.NewHandler(a.logger)
	if err != nil {
		return nil, err
	}
	customerHandler := customer_api.NewHandler(a.service, a.emitter, qr.NewCardGenerator(a.cfg.QR.SecretKey), a.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(a.logger, a.metrics))

	r.Get("/healthz", a.healthHandler)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
		customerHandler.RegisterRoutes(r)
	})
	a.logger.Info("ROUTER", "Customer routes registered under /api/customers")

	pages.RegisterRoutes(r)
	return r, nil
}

func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func main() {
	cfg, envLoaded, cfgErr := config.Load()
	logDir := "logs"
	if cfgErr == nil && cfg.LogDir != "" {
		logDir = cfg.LogDir
	}

	log := logger.NewFileLogger(logDir)
	defer log.Close()

	log.Info("APP", "Starting dance ticket service initialization")
	if cfgErr != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", cfgErr))
	}
	if envLoaded {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	} else {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))
	for _, warning := range cfg.Warnings() {
		log.Warn("CONFIG", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		log.Info("DATABASE", "Applying migrations")
		if err := migrate(cfg.Database, log); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
	}

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}

	a := &app{
		cfg:     cfg,
		logger:  log,
		db:      bunDB,
		store:   &customer_db.DB{Bun: bunDB},
		metrics: metrics.NewDefault(),
		emitter: sse.NewBalanceEventEmitter(),
	}
	defer a.close()

	a.redis = connectRedis(ctx, cfg.Redis, log)
	a.producer = setupKafka(cfg.Kafka, log)
	a.buildService()

	handler, err := a.router()
	if err != nil {
		log.Fatal("HTTP", fmt.Sprintf("Failed to build router: %v", err))
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("🚀 Dance ticket service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server stopped with error: %v", err))
		return
	}
	log.Info("HTTP", "✅ Dance ticket service shutdown complete")
}
