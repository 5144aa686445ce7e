// Command authcore-sweeper expires past-due sessions and purges terminated ones
// on an interval. Run it next to services that embed the engine when no
// service starts its own sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/appconfig"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// noPrincipals satisfies the engine's identity requirement. The sweeper never
// authenticates anyone.
type noPrincipals struct{}

func (noPrincipals) FindByID(context.Context, int64) (identity.Record, error) {
	return identity.Record{}, identity.ErrNotFound
}

func (noPrincipals) FindByEmail(context.Context, string) (identity.Record, error) {
	return identity.Record{}, identity.ErrNotFound
}

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML or TOML config file (default "+appconfig.DefaultConfigPath+")")
		interval   = flag.Duration("interval", 0, "sweep interval; 0 uses session.sweep_interval")
		once       = flag.Bool("once", false, "run a single sweep and exit")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*configPath, *interval, *once, logger); err != nil {
		logger.Error("sweeper stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath string, interval time.Duration, once bool, logger *zap.Logger) error {
	file, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	cfg := file.Config
	if interval <= 0 {
		interval = cfg.Session.SweepInterval
	}

	if cfg.Redis.URL == "" {
		return errors.New("redis url required (" + appconfig.EnvRedisURL + ")")
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	builder := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(noPrincipals{}).
		WithLogger(logger)

	if cfg.Database.DSN != "" {
		db, err := gorm.Open(mysql.Open(cfg.Database.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return fmt.Errorf("connect mysql: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer func() { _ = sqlDB.Close() }()
		}
		builder = builder.WithDB(db)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Info("sweeper started",
		zap.Duration("interval", interval),
		zap.Bool("once", once),
		zap.Bool("mysql", cfg.Database.DSN != ""),
	)

	if once {
		return sweep(ctx, engine, logger)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := sweep(ctx, engine, logger); err != nil {
			logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, engine *authcore.Engine, logger *zap.Logger) error {
	start := time.Now()
	expired, err := engine.SweepExpiredSessions(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweep complete",
		zap.Int("expired", expired),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
