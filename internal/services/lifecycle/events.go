package lifecycle

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/vpn-provisioner/internal/cache"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// NopPublisher не публикует ничего.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.Event) error { return nil }

// committed сбрасывает кэш, считает переход и публикует событие.
// Ошибки кэша и брокера не отменяют уже зафиксированный переход.
func (e *Engine) committed(ctx context.Context, transition, result string, event models.Event) {
	e.invalidate(ctx, event.UserID)
	e.recorder.ObserveTransition(transition, result)

	event.OccurredAt = e.now()
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.log.Warn("failed to publish event",
			slog.String("event", string(event.Type)), sl.UserID(event.UserID), sl.Err(err))
	}
}

func (e *Engine) invalidate(ctx context.Context, userID int64) {
	if err := e.cache.Invalidate(ctx, cache.SubscriptionKey(userID)); err != nil {
		e.log.Warn("failed to invalidate cache", sl.UserID(userID), sl.Err(err))
	}
}

func eventOf(t models.EventType, sub *models.Subscription) models.Event {
	return models.Event{
		Type:      t,
		UserID:    sub.UserID,
		ServerID:  sub.ServerID,
		AccessURL: sub.AccessURL,
		Plan:      sub.Plan,
		ExpiresAt: sub.ExpiresAt,
	}
}
