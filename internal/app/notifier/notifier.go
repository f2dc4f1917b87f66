// Package notifier — процесс, отправляющий письма по событиям жизненного цикла подписки.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/smtp"
	"github.com/magabrotheeeer/vpn-provisioner/internal/rabbitmq"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/sender"
	"github.com/magabrotheeeer/vpn-provisioner/internal/storage/repository"
)

const dbWait = 30 * time.Second

type App struct {
	storage *repository.Storage
	conn    *amqp.Connection
	ch      *amqp.Channel
	sender  *sender.Service
	logger  *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "notifier.New"
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("%s: rabbitmq url is required", op)
	}

	pool, err := repository.Connect(ctx, cfg.StorageConnectionString, dbWait)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	storage := repository.NewWithPool(pool)

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Exchange, rabbitmq.NotificationQueues())
	if err != nil {
		_ = conn.Close()
		storage.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)
	return &App{
		storage: storage,
		conn:    conn,
		ch:      ch,
		sender:  sender.NewService(storage, logger, transport),
		logger:  logger,
	}, nil
}

// Run читает очередь уведомлений до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.NotifyQueue, a.sender.HandleEvent); err != nil {
		return err
	}
	a.logger.Info("notifier started", slog.String("queue", rabbitmq.NotifyQueue))

	<-ctx.Done()
	a.logger.Info("notifier stopped")
	return nil
}

func (a *App) close() {
	if err := errors.Join(a.ch.Close(), a.conn.Close()); err != nil {
		a.logger.Warn("failed to close rabbitmq", sl.Err(err))
	}
	a.storage.Close()
}
