package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// QueueConfig очередь и ключи маршрутизации, которыми она привязана к обменнику.
type QueueConfig struct {
	QueueName   string
	RoutingKeys []string
}

// NotifyQueue очередь уведомителя.
const NotifyQueue = "subscriptions.notify"

// NotificationQueues очереди, которые объявляет уведомитель.
// Письма отправляются о событиях, которые меняют ключ или удаляют аккаунт.
func NotificationQueues() []QueueConfig {
	return []QueueConfig{
		{
			QueueName: NotifyQueue,
			RoutingKeys: []string{
				string(models.EventProvisioned),
				string(models.EventUpgraded),
				string(models.EventRenewed),
				string(models.EventRepaired),
				string(models.EventDegraded),
				string(models.EventPurged),
			},
		},
	}
}

// SetupChannel открывает канал, объявляет обменник exchange типа direct и очереди.
func SetupChannel(conn *amqp.Connection, exchange string, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: failed to set QoS: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.QueueName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}

		for _, key := range q.RoutingKeys {
			if err := ch.QueueBind(q.QueueName, key, exchange, false, nil); err != nil {
				_ = ch.Close()
				return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, key, err)
			}
		}
	}

	return ch, nil
}
