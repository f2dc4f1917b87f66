// Package smtp предоставляет транспорт для отправки писем уведомлений
// и интерфейсы, которые позволяют подменить его в тестах.
package smtp

import (
	"context"
	"io"
)

// Client — подмножество методов *smtp.Client, нужное для отправки одного письма.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Dialer открывает готовое к отправке соединение.
type Dialer interface {
	Connect(ctx context.Context) (Client, error)
	From() string
}

var _ Dialer = (*Transport)(nil)
