// Package rabbitmq публикует и принимает события жизненного цикла подписок.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
)

// Connect подключается к брокеру cfg.URL: до cfg.MaxRetries попыток с паузой
// cfg.RetryDelay. Отмена ctx прерывает ожидание между попытками.
func Connect(ctx context.Context, cfg config.RabbitMQ, log *slog.Logger) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	attempts := max(cfg.MaxRetries, 1)

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryDelay), uint64(attempts-1)),
		ctx,
	)
	attempt := 0
	conn, err := backoff.RetryWithData(func() (*amqp.Connection, error) {
		attempt++
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			log.Warn("rabbitmq is not reachable yet",
				slog.Int("attempt", attempt), slog.Int("of", attempts), sl.Err(err))
		}
		return conn, err
	}, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return conn, nil
}
