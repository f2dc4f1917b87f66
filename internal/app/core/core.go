// Package core собирает общие для процессов зависимости: хранилище,
// реестр серверов ключей, аренду, кэш, публикацию событий и движок подписок.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/cache"
	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lease"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/metrics"
	"github.com/magabrotheeeer/vpn-provisioner/internal/migrations"
	"github.com/magabrotheeeer/vpn-provisioner/internal/outline"
	"github.com/magabrotheeeer/vpn-provisioner/internal/rabbitmq"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/lifecycle"
	"github.com/magabrotheeeer/vpn-provisioner/internal/storage/repository"
)

const (
	dbWait      = 30 * time.Second
	schemaRetry = 3 * time.Second
)

// Option настраивает сборку Core.
type Option func(*options)

type options struct {
	migrate bool
}

// WithMigrations применяет миграции при старте. Без него Core ждёт,
// пока схему создаст другой процесс.
func WithMigrations() Option {
	return func(o *options) { o.migrate = true }
}

// Core — собранные зависимости процесса.
type Core struct {
	Storage  *repository.Storage
	Registry *outline.Registry
	Engine   *lifecycle.Engine
	Metrics  *metrics.Metrics

	log   *slog.Logger
	redis *redis.Client
	conn  *amqp.Connection
	ch    *amqp.Channel
}

// New подключается к базе, применяет миграции и собирает движок.
// Ошибка конфигурации серверов (errs.ErrConfiguration) фатальна для процесса.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer, opts ...Option) (*Core, error) {
	const op = "core.New"
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &Core{log: log, Metrics: metrics.New(reg)}

	pool, err := repository.Connect(ctx, cfg.StorageConnectionString, dbWait)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.Storage = repository.NewWithPool(pool)
	if o.migrate {
		err = migrations.RunFromPool(pool, cfg.MigrationsPath)
	} else {
		err = waitForSchema(ctx, c.Storage, dbWait)
	}
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.Registry, err = outline.NewRegistry(cfg.Servers, cfg.Upstream, c.Metrics)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	engineOpts := []lifecycle.Option{lifecycle.WithRecorder(c.Metrics)}

	var backend lease.Backend = lease.NewMemoryBackend()
	if cfg.AddressRedis != "" {
		redisCache, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.redis = redisCache.Db
		engineOpts = append(engineOpts, lifecycle.WithCache(redisCache))
		if cfg.Lease.Backend == config.LeaseBackendRedis {
			backend = lease.NewRedisBackend(redisCache.Db)
		}
	}

	if cfg.RabbitMQ.URL != "" {
		c.conn, err = rabbitmq.Connect(ctx, cfg.RabbitMQ, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.ch, err = rabbitmq.SetupChannel(c.conn, cfg.RabbitMQ.Exchange, rabbitmq.NotificationQueues())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		engineOpts = append(engineOpts, lifecycle.WithPublisher(rabbitmq.NewEventPublisher(c.ch, cfg.RabbitMQ.Exchange)))
	} else {
		log.Warn("rabbitmq url is empty, lifecycle events are not published")
	}

	c.Engine = lifecycle.New(
		c.Storage,
		c.Registry,
		lease.New(backend, cfg.Lease),
		lifecycle.PolicyFromConfig(cfg.Lifecycle, cfg.Upstream),
		log,
		engineOpts...,
	)
	if err := c.Engine.VerifyServers(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("core initialized",
		slog.Any("servers", c.Registry.ServerIDs()),
		slog.String("lease_backend", cfg.Lease.Backend),
	)
	return c, nil
}

func waitForSchema(ctx context.Context, s *repository.Storage, maxWait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(schemaRetry), ctx)
	return backoff.Retry(func() error {
		return s.CheckDatabaseReady(ctx)
	}, b)
}

// Close освобождает соединения в обратном порядке.
func (c *Core) Close() {
	var errList []error
	if c.ch != nil {
		errList = append(errList, c.ch.Close())
	}
	if c.conn != nil {
		errList = append(errList, c.conn.Close())
	}
	if c.redis != nil {
		errList = append(errList, c.redis.Close())
	}
	if c.Storage != nil {
		c.Storage.Close()
	}
	if err := errors.Join(errList...); err != nil {
		c.log.Warn("failed to close resources", sl.Err(err))
	}
}
