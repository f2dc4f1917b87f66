package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lease"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/outline"
)

// Upgrade переводит подписку на следующий план без квоты на UpgradeDuration.
// План на максимуме — errs.ErrAlreadyUpgraded без обращений к серверу.
func (e *Engine) Upgrade(ctx context.Context, userID int64) (*models.Result, error) {
	const op = "lifecycle.Upgrade"
	log := e.log.With(slog.String("op", op), sl.UserID(userID))

	l, err := e.locker.Acquire(ctx, lease.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer e.release(ctx, l)

	cur, err := e.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cur.Plan >= e.policy.MaxPlan {
		e.recorder.ObserveTransition(transitionUpgrade, resultNoop)
		return nil, fmt.Errorf("%s: plan %d: %w", op, cur.Plan, errs.ErrAlreadyUpgraded)
	}

	next, err := e.rotate(ctx, log, cur, rotation{
		transition: transitionUpgrade,
		event:      models.EventUpgraded,
		plan:       cur.Plan + 1,
		expiresAt:  e.now().Add(e.policy.UpgradeDuration),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return models.ResultOf(next), nil
}

// renew выдаёт новый ключ базового плана вместо истёкшего. Вызывается под арендой.
func (e *Engine) renew(ctx context.Context, log *slog.Logger, cur *models.Subscription) (*models.Subscription, error) {
	return e.rotate(ctx, log, cur, rotation{
		transition: transitionRenew,
		event:      models.EventRenewed,
		plan:       models.PlanBase,
		expiresAt:  e.now().Add(e.policy.BaseHorizon),
	})
}

// repair достраивает незавершённый переход: создаёт ключ для сохранённых плана и срока.
// Вызывается под арендой.
func (e *Engine) repair(ctx context.Context, log *slog.Logger, cur *models.Subscription) (*models.Subscription, error) {
	return e.rotate(ctx, log, cur, rotation{
		transition: transitionRepair,
		event:      models.EventRepaired,
		plan:       cur.Plan,
		expiresAt:  cur.ExpiresAt,
	})
}

type rotation struct {
	transition string
	event      models.EventType
	plan       int
	expiresAt  time.Time
}

// rotate удаляет старый ключ, создаёт новый и фиксирует запись.
//
// Ошибка удаления оставляет запись как есть. Ошибка создания после удаления
// переводит запись в degraded с целевыми планом и сроком. Ошибка фиксации
// после создания удаляет новый ключ и тоже переводит запись в degraded.
func (e *Engine) rotate(ctx context.Context, log *slog.Logger, cur *models.Subscription, r rotation) (*models.Subscription, error) {
	log = log.With(slog.String("transition", r.transition), sl.Server(cur.ServerID))

	client, err := e.servers.Client(cur.ServerID)
	if err != nil {
		e.recorder.ObserveTransition(r.transition, resultFailed)
		return nil, err
	}

	if cur.KeyID != "" {
		if err := e.deleteKey(ctx, client, cur.KeyID); err != nil {
			e.recorder.ObserveTransition(r.transition, resultFailed)
			log.Error("failed to delete old key, subscription left unchanged", sl.Err(err))
			return nil, err
		}
	}

	key, err := e.createKey(ctx, client, KeyName(cur.UserID), e.quotaFor(r.plan))
	if err != nil {
		log.Error("failed to create key, marking subscription degraded", sl.Err(err))
		e.degrade(ctx, log, cur, r)
		return nil, errors.Join(errs.ErrDegraded, err)
	}

	next := *cur
	next.KeyID = key.ID
	next.AccessURL = key.AccessURL
	next.Plan = r.plan
	next.Status = models.StatusActive
	next.ExpiresAt = r.expiresAt
	next.UpdatedAt = e.now()

	if err := e.store.UpdateSubscription(ctx, next); err != nil {
		log.Error("failed to commit rotated key, compensating", sl.Err(err))
		e.compensate(ctx, log, client, key.ID)
		e.degrade(ctx, log, cur, r)
		return nil, errors.Join(errs.ErrDegraded, err)
	}

	log.Info("key rotated", slog.Int("plan", next.Plan), slog.Time("expires_at", next.ExpiresAt))
	e.committed(ctx, r.transition, resultOK, eventOf(r.event, &next))
	return &next, nil
}

// degrade записывает, что у подписки нет ключа, с целевыми планом и сроком.
func (e *Engine) degrade(ctx context.Context, log *slog.Logger, cur *models.Subscription, r rotation) {
	e.recorder.ObserveTransition(r.transition, resultDegraded)
	if err := e.store.MarkDegraded(ctx, cur.ID, r.plan, r.expiresAt); err != nil {
		log.Error("failed to mark subscription degraded", sl.Err(err))
		e.invalidate(ctx, cur.UserID)
		return
	}
	degraded := *cur
	degraded.KeyID, degraded.AccessURL = "", ""
	degraded.Status = models.StatusDegraded
	degraded.Plan = r.plan
	degraded.ExpiresAt = r.expiresAt
	e.committed(ctx, r.transition, resultDegraded, eventOf(models.EventDegraded, &degraded))
}

// createKey создаёт ключ, повторяя попытку только при недоступности сервера.
func (e *Engine) createKey(ctx context.Context, client outline.KeyManager, name string, quota *int64) (*outline.Key, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.RetryInitialInterval
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.policy.CreateAttempts-1)), ctx)

	return backoff.RetryWithData(func() (*outline.Key, error) {
		key, err := client.CreateKey(ctx, name, quota)
		if err != nil && !errors.Is(err, errs.ErrUpstreamUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return key, err
	}, bo)
}

// deleteKey удаляет ключ. Уже удалённый ключ — успех.
func (e *Engine) deleteKey(ctx context.Context, client outline.KeyManager, keyID string) error {
	err := client.DeleteKey(ctx, keyID)
	if errors.Is(err, errs.ErrKeyNotFound) {
		return nil
	}
	return err
}

// compensate удаляет ключ, который не удалось зафиксировать в базе.
// Работает на отвязанном контексте: отмена запроса не должна оставить ключ висеть.
func (e *Engine) compensate(ctx context.Context, log *slog.Logger, client outline.KeyManager, keyID string) {
	if err := e.deleteKey(context.WithoutCancel(ctx), client, keyID); err != nil {
		log.Error("failed to delete uncommitted key, key is orphaned",
			slog.String("key_id", keyID), sl.Err(err))
	}
}
