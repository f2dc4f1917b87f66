// Package sender отправляет пользователям письма о событиях подписки.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/smtp"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// UserReader читает email пользователя, если его нет в событии.
type UserReader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Service преобразует события жизненного цикла в письма.
type Service struct {
	users     UserReader
	transport smtp.Dialer
	log       *slog.Logger
}

// NewService создает новый экземпляр Service.
func NewService(users UserReader, log *slog.Logger, transport smtp.Dialer) *Service {
	return &Service{
		users:     users,
		transport: transport,
		log:       log,
	}
}

// HandleEvent обрабатывает одно сообщение из очереди.
//
// Нечитаемое сообщение и событие об удалённом пользователе без email
// отбрасываются, повтор для них бессмыслен. Ошибка SMTP возвращается,
// сообщение уйдёт в очередь повторно.
func (s *Service) HandleEvent(ctx context.Context, body []byte) error {
	const op = "sender.HandleEvent"
	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil {
		s.log.Error("failed to unmarshal message body, dropping", slog.String("op", op), sl.Err(err))
		return nil
	}

	log := s.log.With(slog.String("op", op), sl.UserID(event.UserID), slog.String("event", string(event.Type)))
	to := event.Email
	if to == "" {
		user, err := s.users.GetUser(ctx, event.UserID)
		if errors.Is(err, errs.ErrNotFound) {
			log.Warn("user is gone, dropping notification")
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		to = user.Email
	}

	subject, text, ok := compose(event)
	if !ok {
		log.Warn("unknown event type, dropping")
		return nil
	}
	if err := s.sendEmail(ctx, []string{to}, subject, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("notification sent")
	return nil
}

func compose(e models.Event) (subject, body string, ok bool) {
	expires := e.ExpiresAt.Format("02.01.2006")
	switch e.Type {
	case models.EventProvisioned:
		return "Ваш VPN-ключ готов",
			fmt.Sprintf("Здравствуйте!\n\nВаш ключ доступа:\n%s\n\nКлюч действует до %s.", e.AccessURL, expires), true
	case models.EventUpgraded:
		return "Тариф повышен",
			fmt.Sprintf("Здравствуйте!\n\nТариф повышен, ограничение трафика снято до %s.\nНовый ключ доступа:\n%s\n\nСтарый ключ больше не работает.", expires, e.AccessURL), true
	case models.EventRenewed:
		return "Ключ доступа обновлён",
			fmt.Sprintf("Здравствуйте!\n\nСрок действия прежнего ключа истёк, выдан новый:\n%s\n\nКлюч действует до %s.", e.AccessURL, expires), true
	case models.EventRepaired:
		return "Ключ доступа восстановлен",
			fmt.Sprintf("Здравствуйте!\n\nДоступ восстановлен, ваш ключ:\n%s", e.AccessURL), true
	case models.EventDegraded:
		return "Ключ доступа временно недоступен",
			"Здравствуйте!\n\nНе удалось выпустить новый ключ доступа. Мы повторим попытку автоматически и пришлём ключ письмом.", true
	case models.EventPurged:
		return "Учётная запись удалена",
			"Здравствуйте!\n\nВы давно не входили в сервис, поэтому учётная запись и ключ доступа удалены.", true
	}
	return "", "", false
}

func (s *Service) sendEmail(ctx context.Context, to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.From(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect(ctx)
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.log.Debug("failed to close SMTP client", sl.Err(err))
		}
	}()

	if err := client.Mail(s.transport.From()); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", s.transport.From()), sl.Err(err))
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get Data writer", sl.Err(err))
		return err
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		s.log.Error("failed to close Data writer", sl.Err(err))
		return err
	}
	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}
	return nil
}
