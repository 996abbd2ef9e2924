package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/srgjo27/court_reserve/internal/adapter/broadcast"
	"github.com/srgjo27/court_reserve/internal/adapter/catalog"
	"github.com/srgjo27/court_reserve/internal/adapter/events"
	"github.com/srgjo27/court_reserve/internal/adapter/handler"
	"github.com/srgjo27/court_reserve/internal/adapter/lock"
	"github.com/srgjo27/court_reserve/internal/adapter/notify"
	"github.com/srgjo27/court_reserve/internal/adapter/payment"
	"github.com/srgjo27/court_reserve/internal/adapter/repository/postgres"
	"github.com/srgjo27/court_reserve/internal/core/services"
	"github.com/srgjo27/court_reserve/internal/platform/config"
	"github.com/srgjo27/court_reserve/internal/platform/database"
	"github.com/srgjo27/court_reserve/internal/platform/logger"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
	}, log)
	if err != nil {
		log.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	defer db.Close()

	if err := database.Bootstrap(rootCtx, db); err != nil {
		log.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(rootCtx).Err(); err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	publisher, err := events.NewPublisher(cfg.RabbitURL, cfg.Exchange)
	if err != nil {
		log.Error("event publisher setup failed", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	amqpConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Error("rabbitmq connect failed", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	notifier, err := notify.NewAMQPNotifier(amqpConn, cfg.Exchange)
	if err != nil {
		log.Error("notifier setup failed", "error", err)
		os.Exit(1)
	}

	bookingRepo := postgres.NewBookingRepository(db)
	idemRepo := postgres.NewIdempotencyRepository(db)
	jobRepo := postgres.NewJobRepository(db)
	waitlistRepo := postgres.NewWaitlistRepository(db)
	splitRepo := postgres.NewSplitRepository(db)
	seriesRepo := postgres.NewSeriesRepository(db)
	processedRepo := postgres.NewProcessedEventRepository(db)

	locker := lock.NewRedisLocker(redisClient, cfg.LockAcquireTimeout, log)
	hub := broadcast.NewHub(redisClient, log)
	gateway := payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayTimeout)
	courtCatalog := catalog.NewHTTPCatalog(cfg.GatewayBaseURL, cfg.GatewayTimeout)

	svcCfg := services.Config{
		LockTTL:             cfg.LockTTL,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		ReminderOffsets:     cfg.ReminderOffsets,
		WaitlistHoldTTL:     cfg.WaitlistHoldTTL,
		SplitDeadlineAfter:  cfg.SplitDeadlineAfter,
		StaleAuthGrace:      cfg.StaleAuthGracePeriod,
	}

	bookingSvc := services.NewBookingService(services.BookingDeps{
		Bookings:    bookingRepo,
		Idempotency: idemRepo,
		Jobs:        jobRepo,
		Waitlists:   waitlistRepo,
		Splits:      splitRepo,
		Catalog:     courtCatalog,
		Gateway:     gateway,
		Notifier:    notifier,
		Publisher:   publisher,
		Broadcaster: hub,
		Locker:      locker,
		Cache:       redisClient,
		Processed:   processedRepo,
	}, svcCfg, log)

	waitlistSvc := services.NewWaitlistService(
		waitlistRepo, bookingRepo, jobRepo,
		notifier, publisher, hub,
		cfg.WaitlistHoldTTL, log,
	)
	bookingSvc.SetPromoter(waitlistSvc)

	splitSvc := services.NewSplitService(
		bookingSvc, bookingRepo, splitRepo, jobRepo,
		courtCatalog, gateway, notifier, publisher,
		cfg.SplitDeadlineAfter, cfg.SplitGraceWindow, log,
	)

	recurringSvc := services.NewRecurringService(
		bookingSvc, seriesRepo, bookingRepo, jobRepo,
		courtCatalog, notifier, log,
	)

	engine := services.NewJobEngine(jobRepo, notifier, services.JobEngineConfig{
		PollInterval: cfg.JobPollInterval,
		ClaimLease:   cfg.JobClaimLease,
		BatchSize:    cfg.JobBatchSize,
		MaxAttempts:  cfg.JobMaxAttempts,
		BackoffBase:  cfg.JobBackoffBase,
		BackoffMax:   cfg.JobBackoffMax,
	}, log)
	services.RegisterEngineHandlers(engine, bookingSvc, waitlistSvc, splitSvc, recurringSvc)

	go hub.Run(rootCtx)
	go engine.Run(rootCtx)
	go waitlistSvc.RunPurgeLoop(rootCtx, time.Hour)

	router := handler.NewRouter(
		log,
		handler.NewBookingHandler(bookingSvc, recurringSvc),
		handler.NewWaitlistHandler(waitlistSvc),
		handler.NewSplitHandler(splitSvc),
		handler.NewWebhookHandler(bookingSvc),
		handler.NewLiveHandler(hub),
	)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server startup failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	log.Info("server stopped")
}
