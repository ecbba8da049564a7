package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/config"
	"tai-ledger-api/internal/database"
	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/lock"
	"tai-ledger-api/internal/messaging"
	"tai-ledger-api/internal/monitoring"
	"tai-ledger-api/internal/scheduler"
	"tai-ledger-api/pkg/logger"
)

// The worker settles matured staking positions outside the API process.
// With LEDGER_SWEEP_ONCE=true it runs a single sweep and exits, for use
// under an external scheduler.
func main() {
	cfg, err := config.Load(os.Getenv("LEDGER_CONFIG_FILE"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.OpenStore(ctx, cfg.Storage, logrus.StandardLogger())
	if err != nil {
		logrus.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	var locker lock.Locker = lock.NewLocalLocker(cfg.Locks.WaitTimeout)
	if cfg.Locks.Backend == "redis" {
		client, err := database.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			logrus.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.Locks.WaitTimeout, cfg.Locks.RetryInterval)
	} else {
		logrus.Warn("Worker uses in-process locks; balance writes rely on version checks against the API")
	}

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	opts := []engine.Option{engine.WithMetrics(metrics)}
	if cfg.RabbitMQ.Enabled {
		publisher, err := messaging.NewEventPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logrus.StandardLogger())
		if err != nil {
			logrus.Fatalf("Failed to connect to rabbitmq: %v", err)
		}
		defer publisher.Close()
		opts = append(opts, engine.WithEventPublisher(publisher))
	}

	ledger := engine.NewLedger(store, lock.NewAccountLockManager(locker, cfg.Locks.TTL), opts...)
	sweeper := scheduler.NewStakingSweeper(engine.NewStakingEngine(ledger), metrics,
		cfg.Staking.SweepSchedule, cfg.Staking.BatchSize, logrus.StandardLogger())

	if once, _ := strconv.ParseBool(os.Getenv("LEDGER_SWEEP_ONCE")); once {
		if _, err := sweeper.RunOnce(ctx); err != nil {
			logrus.WithError(err).Error("Staking sweep failed")
			os.Exit(1)
		}
		return
	}

	if err := sweeper.Start(); err != nil {
		logrus.Fatalf("Failed to start staking sweep: %v", err)
	}
	logrus.WithField("schedule", cfg.Staking.SweepSchedule).Info("Staking sweep worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Stopping staking sweep worker...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := sweeper.Stop(stopCtx); err != nil {
		logrus.WithError(err).Warn("Staking sweep did not stop in time")
	}
}
