package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/cache"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/grpcserver"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	counted, err := model.ParseStatuses(config.List("CAPACITY_STATUSES", "scheduled,confirmed"))
	if err != nil {
		panic(err)
	}
	location, err := time.LoadLocation(config.String("BUSINESS_TIMEZONE", "UTC"))
	if err != nil {
		panic(err)
	}
	slotLength := time.Duration(config.Int("SLOT_MINUTES", 60, 5)) * time.Minute

	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10, 1)),
		MinConns: int32(config.Int("DB_MIN_CONNS", 1, 1)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb := openRedis(ctx, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	keyPrefix := config.String("REDIS_KEY_PREFIX", "slotbook:")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(registry)

	outboxRepo := outbox.NewRepository()
	schedules := storage.NewScheduleRepository(pool)
	appointments := storage.NewAppointmentRepository(pool, outboxRepo)

	generator := availability.NewGenerator(schedules, appointments, availability.GeneratorConfig{
		CountedStatuses: counted,
		SlotLength:      slotLength,
		Observer:        bookingMetrics,
	})

	var weekdayCache availability.WeekdayCache
	var idempotency handlers.Idempotency
	if rdb != nil {
		weekdayCache = cache.NewWeekdayCache(rdb, keyPrefix, config.Seconds("AVAILABILITY_CACHE_TTL_SECONDS", 5*time.Minute))
		idempotency = cache.NewIdempotencyStore(rdb, keyPrefix, 24*time.Hour)
	}
	index := availability.NewIndex(schedules, weekdayCache, func(op string, err error) {
		logger.Warn("availability cache error", "op", op, "err", err)
	})

	engine := booking.NewEngine(schedules, appointments, logger, bookingMetrics, booking.Config{
		CountedStatuses: counted,
		EnforceCapacity: config.Bool("ENFORCE_CAPACITY", true),
		MaxRecurring:    config.Int("MAX_RECURRING_COUNT", 12, 1),
		SlotLength:      slotLength,
		Location:        location,
	})
	scheduleService := booking.NewScheduleService(schedules, index, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50, 1),
	})
	go outboxPublisher.Run(ctx)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Optional: true, Check: kafkax.ReadyCheck(brokers)},
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Optional: true, Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	handlers.New(generator, index, engine, scheduleService, logger, handlers.Options{
		Idempotency: idempotency,
		Location:    location,
	}).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		auth.Authenticate(auth.NewVerifier(jwtSecret, 30*time.Second)),
		rateLimit(rdb, keyPrefix, logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := startGrpcServer(ctx, logger, pool); err != nil {
		logger.Error("grpc server disabled", "err", err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// openRedis returns nil when REDIS_ADDR is unset; caching, idempotency and the shared rate limiter are then off.
func openRedis(ctx context.Context, logger *slog.Logger) *redis.Client {
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		logger.Warn("redis disabled (REDIS_ADDR not set)")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0, 0),
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; continuing", "addr", addr, "err", err)
	}
	return rdb
}

func rateLimit(rdb *redis.Client, prefix string, logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 0, 0)
	if limit == 0 {
		return nil
	}
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, prefix+"ratelimit", auth.UserKey).Middleware(logger, true)
	}
	return httpx.NewRateLimiter(limit, time.Minute, auth.UserKey).Middleware()
}

func startGrpcServer(ctx context.Context, logger *slog.Logger, pool *db.Pool) error {
	if !config.Bool("GRPC_ENABLED", true) {
		return nil
	}
	port, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	srv := grpcserver.New(logger, db.ReadyCheck(pool), config.Seconds("GRPC_HEALTH_INTERVAL_SECONDS", 10*time.Second))
	go func() {
		if err := srv.Serve(ctx, lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	return nil
}
