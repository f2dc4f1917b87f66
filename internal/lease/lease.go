// Package lease выдаёт взаимоисключающую аренду на пользователя.
//
// Аренда защищает переходы подписки одного пользователя от гонок между
// HTTP-запросами и фоновой сверкой, в том числе между процессами (бэкенд redis).
// Аренда истекает сама по TTL, поэтому упавший держатель не блокирует
// пользователя навсегда.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

// Backend - хранилище замков.
type Backend interface {
	// TryLock ставит замок key с владельцем token, если он свободен.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Unlock снимает замок, только если им всё ещё владеет token.
	Unlock(ctx context.Context, key, token string) error
}

// Lease - полученная аренда.
type Lease struct {
	key     string
	token   string
	backend Backend
}

// Key возвращает ключ аренды.
func (l *Lease) Key() string {
	return l.key
}

// Release освобождает аренду. Если она уже истекла и перехвачена, чужой замок не трогается.
func (l *Lease) Release(ctx context.Context) error {
	const op = "lease.Release"
	if err := l.backend.Unlock(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Locker выдаёт аренды поверх Backend.
type Locker struct {
	backend Backend
	ttl     time.Duration
	wait    time.Duration
}

// New создаёт Locker с TTL и временем ожидания из конфига.
func New(backend Backend, cfg config.Lease) *Locker {
	return &Locker{backend: backend, ttl: cfg.TTL, wait: cfg.Wait}
}

// UserKey ключ аренды подписки пользователя.
func UserKey(userID int64) string {
	return fmt.Sprintf("lease:subscription:%d", userID)
}

// TryAcquire берёт аренду без ожидания. Занятая аренда - errs.ErrLeaseHeld.
func (l *Locker) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	const op = "lease.TryAcquire"
	token := uuid.NewString()
	ok, err := l.backend.TryLock(ctx, key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, key, errs.ErrLeaseHeld)
	}
	return &Lease{key: key, token: token, backend: l.backend}, nil
}

// Acquire ждёт аренду не дольше wait. По истечении ожидания - errs.ErrLeaseHeld.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	if l.wait <= 0 {
		return l.TryAcquire(ctx, key)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = l.wait

	return backoff.RetryWithData(func() (*Lease, error) {
		lease, err := l.TryAcquire(ctx, key)
		if err != nil && !errors.Is(err, errs.ErrLeaseHeld) {
			return nil, backoff.Permanent(err)
		}
		return lease, err
	}, backoff.WithContext(b, ctx))
}
