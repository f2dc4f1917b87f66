package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

const subscriptionColumns = `id, user_id, server_id, key_id, access_url, plan, status,
			      last_login, expires_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		sub    models.Subscription
		status string
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.ServerID, &sub.KeyID, &sub.AccessURL,
		&sub.Plan, &status, &sub.LastLogin, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Status = models.Status(status)
	return &sub, nil
}

// GetSubscriptionByUser возвращает текущую подписку пользователя.
// Текущей считается запись с наибольшим id.
func (s *Storage) GetSubscriptionByUser(ctx context.Context, userID int64) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1
			  ORDER BY id DESC
			  LIMIT 1`
	sub, err := scanSubscription(s.Pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// CreateSubscription вставляет подписку. Если у пользователя она уже есть,
// ничего не пишет и возвращает errs.ErrAlreadyExists.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error) {
	const op = "storage.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `INSERT INTO subscriptions (user_id, server_id, key_id, access_url, plan, status, expires_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (user_id) DO NOTHING
			  RETURNING id, created_at, updated_at`
	err := s.Pool.QueryRow(ctx, query,
		sub.UserID, sub.ServerID, sub.KeyID, sub.AccessURL, sub.Plan, string(sub.Status), sub.ExpiresAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// UpdateSubscription перезаписывает ключ, план, статус и срок подписки по её id.
func (s *Storage) UpdateSubscription(ctx context.Context, sub models.Subscription) error {
	const op = "storage.UpdateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE subscriptions
			  SET server_id = $1, key_id = $2, access_url = $3, plan = $4,
			      status = $5, expires_at = $6, updated_at = now()
			  WHERE id = $7`
	tag, err := s.Pool.Exec(ctx, query,
		sub.ServerID, sub.KeyID, sub.AccessURL, sub.Plan, string(sub.Status), sub.ExpiresAt, sub.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	return nil
}

// MarkDegraded отмечает, что у подписки нет действующего ключа.
// plan и expiresAt — целевое состояние, которое достроит сверка.
func (s *Storage) MarkDegraded(ctx context.Context, id int64, plan int, expiresAt time.Time) error {
	const op = "storage.MarkDegraded"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE subscriptions
			  SET key_id = '', access_url = '', status = $1,
			      plan = $2, expires_at = $3, updated_at = now()
			  WHERE id = $4`
	tag, err := s.Pool.Exec(ctx, query, string(models.StatusDegraded), plan, expiresAt, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	return nil
}

// TouchLastLogin одним выражением записывает время входа и возвращает подписку.
func (s *Storage) TouchLastLogin(ctx context.Context, userID int64, at time.Time) (*models.Subscription, error) {
	const op = "storage.TouchLastLogin"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `UPDATE subscriptions
			  SET last_login = $1
			  WHERE id = (SELECT id FROM subscriptions WHERE user_id = $2 ORDER BY id DESC LIMIT 1)
			  RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.Pool.QueryRow(ctx, query, at, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListSubscriptions возвращает страницу подписок с id больше afterID по возрастанию id.
func (s *Storage) ListSubscriptions(ctx context.Context, afterID int64, limit int) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE id > $1
			  ORDER BY id
			  LIMIT $2`
	rows, err := s.Pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListServerIDs возвращает все server_id, на которые ссылаются подписки.
func (s *Storage) ListServerIDs(ctx context.Context) ([]string, error) {
	const op = "storage.ListServerIDs"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.Pool.Query(ctx, `SELECT DISTINCT server_id FROM subscriptions ORDER BY server_id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}
