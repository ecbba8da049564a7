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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/cache"
	"tai-ledger-api/internal/config"
	"tai-ledger-api/internal/controller"
	"tai-ledger-api/internal/database"
	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/lock"
	"tai-ledger-api/internal/messaging"
	"tai-ledger-api/internal/middleware"
	"tai-ledger-api/internal/monitoring"
	"tai-ledger-api/internal/routes"
	"tai-ledger-api/internal/scheduler"
	"tai-ledger-api/internal/service"
	"tai-ledger-api/pkg/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const (
	idempotencyKeyPrefix  = "ledger:idem"
	verificationKeyPrefix = "ledger:otp"
)

func main() {
	cfg, err := config.Load(os.Getenv("LEDGER_CONFIG_FILE"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging)
	gin.SetMode(cfg.Server.Mode)

	if version == "dev" && cfg.Server.Version != "" {
		version = cfg.Server.Version
	}

	logrus.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Server.Port,
		"storage":    cfg.Storage.Driver,
	}).Info("Starting TAI Ledger API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	if app.sweeper != nil {
		if err := app.sweeper.Stop(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Staking sweep did not stop in time")
		}
	}

	cancel()
	logrus.Info("Server exited")
}

// Application holds the wired dependencies that outlive initialization.
type Application struct {
	router  http.Handler
	sweeper *scheduler.StakingSweeper
	closers []func() error
}

func (a *Application) cleanup() {
	logrus.Info("Cleaning up application resources...")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logrus.WithError(err).Warn("Failed to release resource")
		}
	}
}

func initializeApp(ctx context.Context, cfg *config.Config) (_ *Application, err error) {
	logrus.Info("Initializing application dependencies...")
	app := &Application{}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	health := monitoring.NewHealthChecker(version)
	metrics := monitoring.NewMetrics(nil)

	store, err := database.OpenStore(ctx, cfg.Storage, logrus.StandardLogger())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	app.closers = append(app.closers, store.Close)
	health.RegisterCheck(monitoring.NewChecker("storage", 3*time.Second, store.Ping))

	var redisClient *redis.Client
	if cfg.Locks.Backend == "redis" || cfg.Idempotency.Backend == "redis" {
		redisClient, err = database.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, redisClient.Close)
		health.RegisterCheck(monitoring.NewChecker("redis", 2*time.Second, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	locker := newLocker(cfg.Locks, redisClient)
	idemStore, err := newCacheStore(cfg.Idempotency, redisClient, idempotencyKeyPrefix)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, idemStore.Close)
	if cfg.Idempotency.Backend != "memory" {
		health.RegisterCheck(monitoring.NewChecker("idempotency", 2*time.Second, idemStore.Ping))
	}
	otpStore, err := newCacheStore(cfg.Idempotency, redisClient, verificationKeyPrefix)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, otpStore.Close)

	opts := []engine.Option{engine.WithMetrics(metrics)}
	if cfg.RabbitMQ.Enabled {
		publisher, err := messaging.NewEventPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logrus.StandardLogger())
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		app.closers = append(app.closers, publisher.Close)
		opts = append(opts, engine.WithEventPublisher(publisher))
	}

	ledger := engine.NewLedger(store, lock.NewAccountLockManager(locker, cfg.Locks.TTL), opts...)
	idem := engine.NewIdempotencyManager(idemStore, locker, cfg.Idempotency.SuccessTTL, cfg.Idempotency.FailureTTL)

	mining := engine.NewMiningEngine(ledger)
	conversion := engine.NewConversionEngine(ledger)
	transfers := engine.NewTransferEngine(ledger)
	withdrawals := engine.NewWithdrawalWorkflow(ledger)
	staking := engine.NewStakingEngine(ledger)
	txlog := engine.NewTransactionLog(ledger)
	reconciliation := engine.NewReconciliationEngine(ledger)

	authService := service.NewAuthService(ledger, cfg.Auth)
	accountService := service.NewAccountService(ledger)
	verificationService := service.NewVerificationService(ledger, otpStore, cfg.Auth.OTPTTL)
	adminService := service.NewAdminService(ledger, withdrawals, reconciliation, logger.AuditLogger(cfg.Logging))
	exportService := service.NewExportService(txlog)

	if err := seedAdmin(ctx, authService, cfg.Auth); err != nil {
		return nil, err
	}

	mw := routes.Middleware{
		Auth:    middleware.NewAuthMiddleware(authService),
		Logging: middleware.NewLoggingMiddleware(logrus.StandardLogger(), nil),
	}
	if cfg.RateLimit.Enabled {
		mw.RateLimit = middleware.NewRateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		mw.RateLimit.StartCleanup(ctx, cfg.RateLimit.CleanupInterval)
	}

	routerConfig := &routes.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
	}
	if cfg.Monitoring.EnableMetrics {
		mw.Metrics = metrics
		routerConfig.MetricsPath = cfg.Monitoring.MetricsPath
		routerConfig.MetricsHandler = metrics.Handler()
		metrics.StartSystemMetricsRecording(ctx, 15*time.Second)
	}

	router, err := routes.NewRouter(routes.Controllers{
		Auth:    controller.NewAuthController(authService, accountService, verificationService),
		Mining:  controller.NewMiningController(mining, idem),
		Wallet:  controller.NewWalletController(accountService, conversion, transfers, withdrawals, staking, idem),
		History: controller.NewHistoryController(txlog, withdrawals, staking, accountService, exportService),
		Admin:   controller.NewAdminController(adminService, idem),
		Health:  controller.NewHealthController(health, version),
	}, mw, routerConfig)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	app.router = router

	if cfg.Staking.SweepEnabled {
		sweeper := scheduler.NewStakingSweeper(staking, metrics, cfg.Staking.SweepSchedule, cfg.Staking.BatchSize, logrus.StandardLogger())
		if err := sweeper.Start(); err != nil {
			return nil, err
		}
		app.sweeper = sweeper
	}

	logrus.Info("Application initialization completed")
	return app, nil
}

func newLocker(cfg config.LocksConfig, client *redis.Client) lock.Locker {
	if cfg.Backend == "redis" {
		return lock.NewRedisLocker(client, cfg.WaitTimeout, cfg.RetryInterval)
	}
	return lock.NewLocalLocker(cfg.WaitTimeout)
}

type cacheBackend interface {
	engine.IdempotencyStore
	Ping(ctx context.Context) error
	Close() error
}

// newCacheStore builds the key/value backend shared by idempotency records
// and verification codes. The prefix keeps their keys apart.
func newCacheStore(cfg config.IdempotencyConfig, client *redis.Client, prefix string) (cacheBackend, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisStore(client, prefix), nil
	case "memcache":
		return cache.NewMemcacheStore(cfg.MemcacheServers, 500*time.Millisecond, prefix), nil
	case "memory", "":
		return cache.NewLocalStore(cfg.MaxEntries, prefix), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
}

func seedAdmin(ctx context.Context, auth service.AuthService, cfg config.AuthConfig) error {
	if cfg.AdminEmail == "" {
		return nil
	}
	admin, created, err := auth.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"account_id": admin.ID,
		"created":    created,
	}).Info("Admin account ready")
	return nil
}
