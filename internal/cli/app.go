package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/logging"
	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/lock"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

// app holds what every command builds from configuration.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	db      database.DB
	redis   *redis.Client
	graph   *graph.Client
	closers []func(context.Context) error
}

func newApp(cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	configFile, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return nil, exitError(2, err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return nil, exitError(2, fmt.Errorf("failed to build logger: %w", err))
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.OTLPEndpoint != "" {
		shutdown, err := tracing.Setup(cmd.Context(), cfg.AppName, cfg.OTLP())
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}
		a.closers = append(a.closers, shutdown)
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
		}
	}
}

// openDB connects on first use. It returns nil without error when no host
// is configured and required is false.
func (a *app) openDB(ctx context.Context, required bool) (database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	if a.cfg.DatabaseHost == "" {
		if required {
			return nil, exitError(2, fmt.Errorf("DB_HOST is not set"))
		}
		return nil, nil
	}

	db, err := database.Connect(ctx, a.cfg.Database(), a.logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	return db, nil
}

func (a *app) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil || a.cfg.RedisHost == "" {
		return a.redis, nil
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.RedisHost, a.cfg.RedisPort)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	a.logger.Infof("Connected to Redis at %s", addr)
	a.redis = rdb
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	return rdb, nil
}

func (a *app) graphClient(ctx context.Context) (*graph.Client, error) {
	if a.graph != nil || a.cfg.GraphDBHost == "" {
		return a.graph, nil
	}

	client, err := graph.NewClient(a.cfg.Graph(), a.logger)
	if err != nil {
		return nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("failed to reach graph database: %w", err)
	}
	a.graph = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// locker is Redis-backed when Redis is configured.
func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	rdb, err := a.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		return lock.NewLocalLocker(), nil
	}
	return lock.NewRedisLocker(rdb, a.cfg.RedisLockPrefix, a.logger), nil
}

// executorOptions wires the optional post-commit publisher and projector.
func (a *app) executorOptions(ctx context.Context) ([]reconcile.Option, error) {
	var opts []reconcile.Option

	if len(a.cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(a.cfg.Kafka(), a.logger)
		a.closers = append(a.closers, func(context.Context) error { return producer.Close() })
		opts = append(opts, reconcile.WithPublisher(events.NewEmitter(producer, a.logger)))
	}

	client, err := a.graphClient(ctx)
	if err != nil {
		return nil, err
	}
	if client != nil {
		opts = append(opts, reconcile.WithProjector(graph.NewProjector(client, a.logger)))
	}
	return opts, nil
}
