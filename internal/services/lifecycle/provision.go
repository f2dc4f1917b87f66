package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/vpn-provisioner/internal/cache"
	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lease"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// KeyName имя ключа пользователя на сервере.
func KeyName(userID int64) string {
	return "user-" + strconv.FormatInt(userID, 10)
}

// Provision выдаёт пользователю первую подписку на базовом плане.
//
// Если текущая подписка уже есть, она возвращается без обращения к серверу.
// Подписка без действующего ключа при этом восстанавливается.
func (e *Engine) Provision(ctx context.Context, userID int64) (*models.Result, error) {
	const op = "lifecycle.Provision"
	log := e.log.With(slog.String("op", op), sl.UserID(userID))

	l, err := e.locker.Acquire(ctx, lease.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer e.release(ctx, l)

	cur, err := e.store.GetSubscriptionByUser(ctx, userID)
	switch {
	case err == nil && !cur.Degraded():
		e.recorder.ObserveTransition(transitionProvision, resultNoop)
		return models.ResultOf(cur), nil
	case err == nil:
		sub, err := e.repair(ctx, log, cur)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return models.ResultOf(sub), nil
	case !errors.Is(err, errs.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverID, err := e.selector(e.servers.ServerIDs())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client, err := e.servers.Client(serverID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	key, err := e.createKey(ctx, client, KeyName(userID), e.quotaFor(models.PlanBase))
	if err != nil {
		e.recorder.ObserveTransition(transitionProvision, resultFailed)
		log.Error("failed to create key", sl.Server(serverID), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	created, err := e.store.CreateSubscription(ctx, models.Subscription{
		UserID:    userID,
		ServerID:  serverID,
		KeyID:     key.ID,
		AccessURL: key.AccessURL,
		Plan:      models.PlanBase,
		Status:    models.StatusActive,
		ExpiresAt: e.now().Add(e.policy.BaseHorizon),
	})
	if err != nil {
		// ключ не попал в базу, удаляем его
		e.compensate(ctx, log, client, key.ID)
		if errors.Is(err, errs.ErrAlreadyExists) {
			winner, gerr := e.store.GetSubscriptionByUser(ctx, userID)
			if gerr == nil {
				log.Warn("subscription created concurrently, returning existing one")
				e.recorder.ObserveTransition(transitionProvision, resultNoop)
				return models.ResultOf(winner), nil
			}
		}
		e.recorder.ObserveTransition(transitionProvision, resultFailed)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("subscription provisioned", sl.Server(serverID))
	e.committed(ctx, transitionProvision, resultOK, eventOf(models.EventProvisioned, created))
	return models.ResultOf(created), nil
}

// Touch записывает время входа. Аренду не берёт.
func (e *Engine) Touch(ctx context.Context, userID int64) (*models.Result, error) {
	const op = "lifecycle.Touch"
	sub, err := e.store.TouchLastLogin(ctx, userID, e.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.recorder.ObserveTransition(transitionTouch, resultOK)
	return models.ResultOf(sub), nil
}

// Current возвращает текущую подписку, по возможности из кэша.
func (e *Engine) Current(ctx context.Context, userID int64) (*models.Result, error) {
	const op = "lifecycle.Current"
	key := cache.SubscriptionKey(userID)

	var cached models.Result
	found, err := e.cache.Get(ctx, key, &cached)
	if err != nil {
		e.log.Warn("failed to read cache", sl.UserID(userID), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	sub, err := e.store.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res := models.ResultOf(sub)
	if err := e.cache.Set(ctx, key, res); err != nil {
		e.log.Warn("failed to write cache", sl.UserID(userID), sl.Err(err))
	}
	return res, nil
}

func (e *Engine) release(ctx context.Context, l *lease.Lease) {
	if err := l.Release(context.WithoutCancel(ctx)); err != nil {
		e.log.Warn("failed to release lease", slog.String("lease", l.Key()), sl.Err(err))
	}
}

// quotaFor лимит трафика плана: базовый план ограничен, остальные нет.
func (e *Engine) quotaFor(plan int) *int64 {
	if plan > models.PlanBase || e.policy.BaseQuotaBytes <= 0 {
		return nil
	}
	q := e.policy.BaseQuotaBytes
	return &q
}
