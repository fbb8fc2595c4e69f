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

	"settlement-engine/config"
	"settlement-engine/internal/adapter/chain/evm"
	"settlement-engine/internal/adapter/fiat/mpesa"
	httpHandler "settlement-engine/internal/adapter/http/handler"
	memStorage "settlement-engine/internal/adapter/storage/memory"
	pgStorage "settlement-engine/internal/adapter/storage/postgres"
	redisStorage "settlement-engine/internal/adapter/storage/redis"
	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/internal/service"
	"settlement-engine/internal/traces"
	"settlement-engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var version = "dev"

// ledger bundles the storage driver's repositories.
type ledger struct {
	escrows    ports.EscrowRepository
	recon      ports.ReconciliationRepository
	transactor ports.DBTransactor
	health     []ports.HealthChecker
	close      func()
}

func openLedger(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*ledger, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn().Msg("Using in-memory ledger; escrows are lost on restart")
		return &ledger{
			escrows:    memStorage.NewEscrowRepo(),
			recon:      memStorage.NewReconciliationRepo(),
			transactor: memStorage.NewTransactor(),
			close:      func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("PostgreSQL connected")
	return &ledger{
		escrows:    pgStorage.NewEscrowRepo(pool),
		recon:      pgStorage.NewReconciliationRepo(pool),
		transactor: pgStorage.NewTransactor(pool),
		health:     []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:      pool.Close,
	}, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting settlement engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := traces.Init(ctx, cfg.Tracing.Endpoint, version, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise tracing")
	}

	store, err := openLedger(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer store.close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")
	queueStore := redisStorage.NewQueueStore(rdb, cfg.Redis.Prefix)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb, cfg.Redis.Prefix)

	chain, err := evm.NewGateway(cfg.Chains, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chains")
	}
	defer chain.Close()
	registry := domain.NewAssetRegistry(evm.AssetsFromConfig(cfg.Chains), chain.Wallets())

	schedule, sweepThreshold, err := cfg.Fees.Schedule()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid fee table")
	}
	rail := mpesa.NewClient(cfg.Mpesa, log)

	// Settlement services
	validator := service.NewBalanceValidator(registry, chain, log)
	queue := service.NewQueueManager(store.escrows, store.recon, store.transactor, queueStore, validator, cfg.Queue.DedupTTL, log)
	retries := service.NewRetryScheduler(queueStore, cfg.Queue.BaseBackoff, cfg.Queue.MaxBackoff, cfg.Queue.DedupTTL, log)
	fees := service.NewFeeCollector(schedule, sweepThreshold, registry, chain, chain, store.recon, log)
	executor := service.NewExecutor(store.escrows, store.recon, store.transactor, queueStore, chain, registry, retries, fees,
		service.ExecutorConfig{
			BatchSize:       cfg.Queue.BatchSize,
			LeaseTTL:        cfg.Queue.LeaseTTL,
			MaxAttempts:     cfg.Queue.MaxAttempts,
			TransferTimeout: cfg.Queue.TransferTimeout,
		}, log)
	reconciler := service.NewReconciler(store.escrows, store.recon, store.transactor, queue, validator, chain, fees, log)
	initiation := service.NewInitiationService(store.escrows, rail, validator, chain, registry, fees, reconciler, cfg.Mpesa.Timeout, log)
	confirmer := service.NewCollectionConfirmer(store.escrows, rail, reconciler, cfg.Queue.ConfirmAfter, log)
	admin := service.NewAdminService(store.escrows, store.recon, store.transactor, queue, validator, queueStore, log)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	scheduler := service.NewScheduler(log,
		service.Job{Name: "executor", Interval: cfg.Queue.ExecutorInterval, Timeout: 5 * time.Minute, Run: executor.Drain},
		service.Job{Name: "retry_sweep", Interval: cfg.Queue.RetryInterval, Timeout: 30 * time.Second, Run: retries.PromoteDue},
		service.Job{Name: "stalled_cleanup", Interval: cfg.Queue.StalledInterval, Timeout: 30 * time.Second, Run: executor.RecoverStalled},
		service.Job{Name: "collection_confirm", Interval: cfg.Queue.ConfirmInterval, Timeout: 2 * time.Minute, Run: confirmer.Sweep},
		service.Job{Name: "fee_sweep", Interval: cfg.Queue.FeeSweepInterval, Timeout: 5 * time.Minute, Run: fees.Sweep},
		service.Job{Name: "queue_gauges", Interval: cfg.Queue.GaugeInterval, Timeout: 10 * time.Second, Run: service.QueueGauges(queueStore)},
	)

	webhooks := httpHandler.NewWebhookHandler(reconciler, 2*time.Minute, log)
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Escrows:        initiation,
		Admin:          admin,
		Webhooks:       webhooks,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: append(store.health, redisStorage.NewHealthCheck(rdb)),
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(schedulerDone)
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-schedulerDone
	webhooks.Wait()
	fees.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Flushing traces failed")
	}

	log.Info().Msg("Server exited")
}
