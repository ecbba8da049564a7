package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tai-ledger-api/internal/config"
	"tai-ledger-api/internal/repository"
	"tai-ledger-api/internal/repository/memory"
	"tai-ledger-api/internal/repository/mongostore"
	"tai-ledger-api/internal/repository/sqlstore"
)

// OpenStore connects the configured storage backend and prepares its schema.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (repository.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory storage, data is lost on restart")
		return memory.NewStore(), nil
	case "sqlite":
		db, err := openSQLite(cfg, logger)
		if err != nil {
			return nil, err
		}
		return migrate(db)
	case "mysql":
		db, err := openMySQL(cfg, logger)
		if err != nil {
			return nil, err
		}
		return migrate(db)
	case "mongo":
		return openMongo(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func migrate(db *gorm.DB) (repository.Store, error) {
	store := sqlstore.NewStore(db)
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func gormConfig(cfg config.StorageConfig, logger *logrus.Logger) *gorm.Config {
	level := gormlogger.Silent
	if cfg.LogQueries {
		level = gormlogger.Info
	}
	return &gorm.Config{
		Logger: gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// sqliteDSN enables foreign keys and a busy timeout on every pooled
// connection, not just the first one.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func openSQLite(cfg config.StorageConfig, logger *logrus.Logger) (*gorm.DB, error) {
	if !strings.HasPrefix(cfg.SQLitePath, "file:") && cfg.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(cfg.SQLitePath)), gormConfig(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	applyPool(cfg, sqlDB.SetMaxOpenConns, sqlDB.SetMaxIdleConns, sqlDB.SetConnMaxLifetime)

	_, _ = sqlDB.Exec("PRAGMA journal_mode = WAL;")
	_, _ = sqlDB.Exec("PRAGMA synchronous = NORMAL;")
	_, _ = sqlDB.Exec("PRAGMA foreign_keys = ON;")

	logger.WithField("path", cfg.SQLitePath).Info("SQLite database opened")
	return db, nil
}

func openMySQL(cfg config.StorageConfig, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQLDSN), gormConfig(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("open mysql database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	applyPool(cfg, sqlDB.SetMaxOpenConns, sqlDB.SetMaxIdleConns, sqlDB.SetConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	logger.Info("MySQL database connected")
	return db, nil
}

func applyPool(cfg config.StorageConfig, maxOpen, maxIdle func(int), lifetime func(time.Duration)) {
	if cfg.MaxOpenConns > 0 {
		maxOpen(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		maxIdle(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		lifetime(cfg.ConnMaxLifetime)
	}
}

func openMongo(ctx context.Context, cfg config.StorageConfig) (repository.Store, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.MongoURI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)
	if cfg.MaxOpenConns > 0 {
		clientOptions.SetMaxPoolSize(uint64(cfg.MaxOpenConns))
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := mongostore.NewStore(client, cfg.MongoDatabase)
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// OpenRedis connects the shared Redis client used by locks and the
// idempotency cache.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
