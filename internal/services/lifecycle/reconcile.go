package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lease"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// Outcome — итог сверки одной записи.
type Outcome string

const (
	OutcomeRenewed   Outcome = "renewed"
	OutcomeRepaired  Outcome = "repaired"
	OutcomePurged    Outcome = "purged"
	OutcomeRevived   Outcome = "revived"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Reconcile приводит подписку пользователя в соответствие с политикой.
//
// Аренда берётся без ожидания: занятая аренда даёт OutcomeSkipped, запись
// достанется следующему проходу. Под арендой запись перечитывается, затем
// по порядку: восстановление, если нет ключа; продление, если срок истёк;
// удаление, если пользователь давно не входил. Вход, случившийся во время
// удаления, отменяет его: пользователь получает новый ключ (OutcomeRevived).
func (e *Engine) Reconcile(ctx context.Context, userID int64) (Outcome, error) {
	const op = "lifecycle.Reconcile"
	log := e.log.With(slog.String("op", op), sl.UserID(userID))

	l, err := e.locker.TryAcquire(ctx, lease.UserKey(userID))
	if errors.Is(err, errs.ErrLeaseHeld) {
		log.Debug("lease held, skipping")
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}
	defer e.release(ctx, l)

	cur, err := e.store.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return OutcomeUnchanged, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}

	outcome := OutcomeUnchanged
	if cur.Degraded() {
		if cur, err = e.repair(ctx, log, cur); err != nil {
			return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
		}
		outcome = OutcomeRepaired
	}

	now := e.now()
	if cur.Expired(now) {
		if cur, err = e.renew(ctx, log, cur); err != nil {
			return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
		}
		outcome = OutcomeRenewed
	}

	if cur.Dormant(now, e.policy.InactivityThreshold) {
		if outcome, err = e.purge(ctx, log, cur, now); err != nil {
			return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
		}
	}
	return outcome, nil
}

// purge удаляет ключ, подписку и пользователя. Вызывается под арендой.
//
// Touch аренду не берёт, поэтому хранилище удаляет пользователя только если
// last_login всё ещё старше порога. Если ключ уже удалён, а запись осталась,
// она переводится в degraded и не указывает на удалённый ключ.
func (e *Engine) purge(ctx context.Context, log *slog.Logger, cur *models.Subscription, now time.Time) (Outcome, error) {
	client, err := e.servers.Client(cur.ServerID)
	if err != nil {
		e.recorder.ObserveTransition(transitionPurge, resultFailed)
		return OutcomeFailed, err
	}

	event := eventOf(models.EventPurged, cur)
	if user, err := e.store.GetUser(ctx, cur.UserID); err == nil {
		event.Email = user.Email
	} else {
		log.Warn("failed to read user before purge", sl.Err(err))
	}

	if cur.KeyID != "" {
		if err := e.deleteKey(ctx, client, cur.KeyID); err != nil {
			e.recorder.ObserveTransition(transitionPurge, resultFailed)
			log.Error("failed to delete key, user kept", sl.Err(err))
			return OutcomeFailed, err
		}
	}

	err = e.store.PurgeUser(ctx, cur.UserID, now.Add(-e.policy.InactivityThreshold))
	switch {
	case err == nil, errors.Is(err, errs.ErrNotFound):
	case errors.Is(err, errs.ErrNotDormant):
		return e.revive(ctx, log, cur)
	default:
		log.Error("failed to purge user after key deletion, marking subscription degraded", sl.Err(err))
		e.degrade(ctx, log, cur, rotation{
			transition: transitionPurge,
			plan:       cur.Plan,
			expiresAt:  cur.ExpiresAt,
		})
		return OutcomeFailed, err
	}

	log.Info("dormant user purged", sl.Server(cur.ServerID))
	e.committed(ctx, transitionPurge, resultOK, event)
	return OutcomePurged, nil
}

// revive выдаёт новый ключ пользователю, который вошёл во время удаления.
// Старый ключ к этому моменту уже удалён на сервере.
func (e *Engine) revive(ctx context.Context, log *slog.Logger, cur *models.Subscription) (Outcome, error) {
	log.Info("user logged in during purge, issuing a new key")
	e.recorder.ObserveTransition(transitionPurge, resultNoop)

	if err := e.store.MarkDegraded(ctx, cur.ID, cur.Plan, cur.ExpiresAt); err != nil {
		log.Error("failed to mark subscription degraded", sl.Err(err))
	}
	e.invalidate(ctx, cur.UserID)

	fresh, err := e.store.GetSubscriptionByUser(ctx, cur.UserID)
	if err != nil {
		return OutcomeFailed, err
	}
	if _, err := e.repair(ctx, log, fresh); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeRevived, nil
}

// VerifyServers проверяет, что каждый server_id из хранилища есть в конфиге
// и что сконфигурирован хотя бы один сервер. Вызывается при старте.
func (e *Engine) VerifyServers(ctx context.Context) error {
	const op = "lifecycle.VerifyServers"
	if len(e.servers.ServerIDs()) == 0 {
		return fmt.Errorf("%s: %w: no servers configured", op, errs.ErrConfiguration)
	}
	ids, err := e.store.ListServerIDs(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var missing []error
	for _, id := range ids {
		if _, err := e.servers.Client(id); err != nil {
			missing = append(missing, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(missing...))
	}
	return nil
}
