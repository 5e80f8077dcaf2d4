package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/calendarsync"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/slotcache"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/syncworker"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type settings struct {
	port          string
	databaseURL   string
	redisAddr     string
	kafkaBrokers  string
	kafkaGroupID  string
	jwtSecret     string
	jwtIssuer     string
	location      *time.Location
	step          int
	buffer        int
	maxAdvance    int
	slotCacheTTL  time.Duration
	bookLimit     int
	bookWindow    time.Duration
	keepCompleted bool

	googleClientID     string
	googleClientSecret string
	googleRedirectURL  string
	ownerRef           string
	calendarID         string
	tokenKey           []byte

	syncInterval      time.Duration
	syncBatch         int
	syncBackoff       time.Duration
	resyncConcurrency int
	outboxRetention   time.Duration
}

func loadSettings() (settings, error) {
	var (
		s   settings
		err error
	)
	if s.port, err = config.Port("PORT", "8083"); err != nil {
		return s, err
	}
	if s.databaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return s, err
	}
	if s.jwtSecret, err = config.RequiredString("AUTH_JWT_SECRET"); err != nil {
		return s, err
	}
	s.jwtIssuer = config.String("AUTH_JWT_ISSUER", "")
	s.redisAddr = config.String("REDIS_ADDR", "")
	s.kafkaBrokers = config.String("KAFKA_BROKERS", "")
	s.kafkaGroupID = config.String("KAFKA_GROUP_ID", "booking-service")
	if s.location, err = config.Location("BUSINESS_TIMEZONE", "UTC"); err != nil {
		return s, err
	}
	if s.step, err = config.Int("SLOT_STEP_MINUTES", 15); err != nil {
		return s, err
	}
	if s.buffer, err = config.Int("SLOT_BUFFER_MINUTES", 0); err != nil {
		return s, err
	}
	if s.maxAdvance, err = config.Int("BOOKING_MAX_ADVANCE_DAYS", 365); err != nil {
		return s, err
	}
	if s.slotCacheTTL, err = config.Duration("SLOT_CACHE_TTL", 5*time.Minute); err != nil {
		return s, err
	}
	if s.bookLimit, err = config.Int("BOOKING_RATE_LIMIT", 20); err != nil {
		return s, err
	}
	if s.bookWindow, err = config.Duration("BOOKING_RATE_WINDOW", time.Minute); err != nil {
		return s, err
	}
	s.keepCompleted = config.Bool("CALENDAR_KEEP_COMPLETED", true)

	s.googleClientID = config.String("GOOGLE_OAUTH_CLIENT_ID", "")
	s.googleClientSecret = config.String("GOOGLE_OAUTH_CLIENT_SECRET", "")
	s.googleRedirectURL = config.String("GOOGLE_OAUTH_REDIRECT_URL", "")
	s.ownerRef = config.String("CALENDAR_OWNER_REF", "owner")
	s.calendarID = config.String("CALENDAR_ID", "primary")
	if s.googleClientID != "" {
		if s.tokenKey, err = config.HexKey("CALENDAR_TOKEN_KEY", 32); err != nil {
			return s, err
		}
	}

	if s.syncInterval, err = config.Duration("SYNC_WORKER_INTERVAL", 5*time.Second); err != nil {
		return s, err
	}
	if s.syncBatch, err = config.Int("SYNC_WORKER_BATCH", 20); err != nil {
		return s, err
	}
	if s.syncBackoff, err = config.Duration("SYNC_WORKER_BACKOFF", 30*time.Second); err != nil {
		return s, err
	}
	if s.resyncConcurrency, err = config.Int("RESYNC_CONCURRENCY", 4); err != nil {
		return s, err
	}
	if s.outboxRetention, err = config.Duration("OUTBOX_RETENTION", 7*24*time.Hour); err != nil {
		return s, err
	}
	return s, nil
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service)
	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("dotenv load failed", "err", err)
	}
	cfg, err := loadSettings()
	if err != nil {
		logger.Error("config invalid", "err", err)
		os.Exit(1)
	}

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

	pool, err := db.Open(ctx, cfg.databaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		defer func() { _ = rdb.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)

	outboxRepo := outbox.NewRepository()
	syncTasks := storage.NewSyncTaskRepository(pool)
	appts := storage.NewAppointmentRepository(pool, outboxRepo, syncTasks)
	directory := catalog.NewDirectory(pool)
	hours := policy.New(policy.NewPostgresStore(pool), logger)
	timeOff := timeoff.NewLedger(timeoff.NewPostgresStore(pool), cfg.location, logger)

	deps := booking.Deps{
		Directory: directory,
		Policy:    hours,
		TimeOff:   timeOff,
		Ledger:    appts,
		Logger:    logger,
		Metrics:   bookingMetrics,
	}
	// Queued resyncs need the consumer below.
	if cfg.kafkaBrokers != "" {
		deps.Events = outbox.NewEmitter(pool, outboxRepo)
	}
	var cache *slotcache.Cache
	if rdb != nil {
		cache = slotcache.New(rdb, cfg.slotCacheTTL, "apptbook:slots")
		deps.Cache = cache
	}

	var agent *calendarsync.Agent
	if cfg.googleClientID != "" {
		sealer, err := calendarsync.NewSealer(cfg.tokenKey)
		if err != nil {
			logger.Error("token sealer init failed", "err", err)
			os.Exit(1)
		}
		var states calendarsync.StateStore = calendarsync.NewMemoryStateStore()
		if rdb != nil {
			states = calendarsync.NewRedisStateStore(rdb, "apptbook:oauth-state")
		}
		store := calendarsync.NewPostgresStore(pool, sealer)
		agent = calendarsync.NewAgent(
			store,
			store,
			calendarsync.NewGoogleEvents(cfg.location),
			calendarsync.NewGoogleOAuth(cfg.googleClientID, cfg.googleClientSecret, cfg.googleRedirectURL),
			states,
			calendarsync.Config{OwnerRef: cfg.ownerRef, CalendarID: cfg.calendarID, Location: cfg.location},
			logger,
		)
		deps.Mirror = agent
		deps.Journal = syncTasks
	} else {
		logger.Warn("calendar sync disabled (GOOGLE_OAUTH_CLIENT_ID not set)")
	}

	svc := booking.New(deps, booking.Config{
		StepMinutes:         cfg.step,
		BufferMinutes:       cfg.buffer,
		Location:            cfg.location,
		KeepCompletedEvents: cfg.keepCompleted,
		MaxAdvanceDays:      cfg.maxAdvance,
		ResyncConcurrency:   cfg.resyncConcurrency,
	})

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: cfg.outboxRetention,
	})
	go publisher.Run(ctx)

	if agent != nil {
		worker := syncworker.New(pool, syncTasks, appts, agent, outboxRepo, logger, bookingMetrics, syncworker.Config{
			Interval:  cfg.syncInterval,
			BatchSize: cfg.syncBatch,
			Backoff:   cfg.syncBackoff,
		})
		go worker.Run(ctx)
	}

	if cfg.kafkaBrokers != "" {
		resyncConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: cfg.kafkaBrokers,
			GroupID: cfg.kafkaGroupID,
			Topic:   outbox.TypeCalendarResyncRequested,
		}, func(ctx context.Context, _ kafka.Message) error {
			summary, err := svc.ResyncAll(ctx)
			if errors.Is(err, calendarsync.ErrNotConnected) {
				logger.Info("resync skipped, calendar not configured")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info("queued resync done", "succeeded", summary.Succeeded, "failed", len(summary.Failed))
			return nil
		})
		go resyncConsumer.Run(ctx)
	}

	verifier, err := auth.NewVerifier(cfg.jwtSecret, cfg.jwtIssuer)
	if err != nil {
		logger.Error("jwt verifier init failed", "err", err)
		os.Exit(1)
	}

	var limiter httpx.Limiter = httpx.NewMemoryRateLimiter(cfg.bookLimit, cfg.bookWindow)
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Optional: cfg.kafkaBrokers == "", Check: kafkax.ReadyCheck(cfg.kafkaBrokers)},
	}
	if rdb != nil {
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.bookLimit, cfg.bookWindow, "apptbook:ratelimit:book")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	admin := handlers.AdminDeps{
		Hours:    hours,
		TimeOff:  timeOff,
		Appts:    appts,
		Statuses: svc,
		Catalog:  directory,
		Location: cfg.location,
		Logger:   logger,
	}
	if cache != nil {
		admin.Cache = cache
	}
	var calendar handlers.Calendar
	if agent != nil {
		calendar = agent
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handlers.Routes{
		Public:   handlers.NewPublicHandler(svc, directory, logger),
		Admin:    handlers.NewAdminHandler(admin),
		Calendar: handlers.NewCalendarHandler(calendar, svc, logger),
		AdminMW:  handlers.RequireRole(verifier, logger, "admin", "owner"),
		BookMW: []httpx.Middleware{
			httpx.RateLimit(limiter, logger, true),
			httpx.WithBodyLimit(16 << 10),
		},
	}.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithTimeout(30*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "timezone", cfg.location.String())
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
