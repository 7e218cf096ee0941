package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/taskbazaar/backend/internal/auth"
	"github.com/taskbazaar/backend/internal/clock"
	"github.com/taskbazaar/backend/internal/config"
	"github.com/taskbazaar/backend/internal/handlers"
	"github.com/taskbazaar/backend/internal/ledger"
	"github.com/taskbazaar/backend/internal/notify"
	"github.com/taskbazaar/backend/internal/repository"
	"github.com/taskbazaar/backend/internal/router"
	"github.com/taskbazaar/backend/internal/services"
	"github.com/taskbazaar/backend/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.UsesDevSecret() {
		slog.Warn("JWT_SECRET not set, using development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is correct", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := migrations.Apply(ctx, pool); err != nil {
		slog.Error("Schema migrations failed", "error", err)
		os.Exit(1)
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Notifications: the insert func is set after the River client exists,
	// since the client needs the workers and the workers come first.
	var insertMu sync.Mutex
	var insertFn notify.InsertFunc
	queue := notify.NewQueue(func(ctx context.Context, args notify.DeliverArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, args)
	})

	var publisher notify.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		slog.Info("Publishing notifications to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		publisher = notify.NewLogPublisher(logger)
		slog.Info("KAFKA_BROKERS not set, notifications are logged only")
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewDeliverWorker(publisher, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	insertMu.Lock()
	insertFn = func(ctx context.Context, args notify.DeliverArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Stores and services
	clk := clock.NewSystem()
	txm := repository.NewTxManager(pool)
	accountRepo := repository.NewAccountRepo(pool)
	recordRepo := repository.NewFundRecordRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	orderRepo := repository.NewOrderRepo(pool)
	withdrawalRepo := repository.NewWithdrawalRepo(pool)
	userRepo := repository.NewUserRepo(pool)

	ledgerSvc := ledger.NewService(txm, accountRepo, recordRepo, ledger.WithLogger(logger), ledger.WithClock(clk))

	payout, err := services.NewPayoutValidator()
	if err != nil {
		slog.Error("Payout schema failed to compile", "error", err)
		os.Exit(1)
	}
	fees := services.FeePolicy{Rate: cfg.WithdrawFeeRate, MinFee: cfg.WithdrawMinFee, MinAmount: cfg.WithdrawMinAmount}

	taskSvc := services.NewTaskService(txm, taskRepo, ledgerSvc, clk, logger)
	claims := services.NewClaimCoordinator(txm, taskRepo, ledgerSvc, logger)
	orderSvc := services.NewOrderService(txm, claims, orderRepo, taskRepo, ledgerSvc, clk, logger)
	settlement := services.NewSettlement(txm, orderRepo, taskRepo, ledgerSvc, queue, clk, logger)
	withdrawals := services.NewWithdrawalLifecycle(txm, withdrawalRepo, ledgerSvc, fees, payout, queue, clk, logger)
	accountSvc := services.NewAccountService(ledgerSvc)

	authSvc := auth.NewService(txm, userRepo, ledgerSvc, cfg.JWTSecret, cfg.JWTTTL, clk)

	deps := router.Deps{
		Auth:           auth.NewHandler(authSvc, logger),
		Tokens:         authSvc,
		Accounts:       handlers.NewAccountHandler(accountSvc, logger),
		Tasks:          handlers.NewTaskHandler(taskSvc, orderSvc, logger),
		Orders:         handlers.NewOrderHandler(orderSvc, settlement, logger),
		Withdrawals:    handlers.NewWithdrawalHandler(withdrawals, logger),
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,
	}
	if rdb := connectRedis(ctx, cfg); rdb != nil {
		defer rdb.Close()
		deps.Redis = rdb
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Idempotent-Replayed", "Retry-After"},
		AllowCredentials: true,
	}).Handler(router.New(deps))

	if err := riverClient.Start(context.WithoutCancel(ctx)); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown incomplete", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown incomplete", "error", err)
	}
}

// connectRedis returns nil when Redis is not configured or not reachable;
// the API then runs without idempotent replay.
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		slog.Info("REDIS_ADDR not set, Idempotency-Key replay disabled")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Redis connection failed, continuing without idempotent replay", "error", err)
		_ = rdb.Close()
		return nil
	}
	slog.Info("Redis connection established")
	return rdb
}
