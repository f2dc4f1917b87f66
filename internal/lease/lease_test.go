package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

func TestLocker_TryAcquire(t *testing.T) {
	ctx := context.Background()
	locker := New(NewMemoryBackend(), config.Lease{TTL: time.Minute})

	first, err := locker.TryAcquire(ctx, UserKey(1))
	require.NoError(t, err)

	_, err = locker.TryAcquire(ctx, UserKey(1))
	assert.ErrorIs(t, err, errs.ErrLeaseHeld)

	// другой пользователь не блокируется
	other, err := locker.TryAcquire(ctx, UserKey(2))
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	again, err := locker.TryAcquire(ctx, UserKey(1))
	require.NoError(t, err)
	assert.Equal(t, "lease:subscription:1", again.Key())
}

func TestLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return now }
	locker := New(backend, config.Lease{TTL: time.Minute})

	stale, err := locker.TryAcquire(ctx, UserKey(1))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := locker.TryAcquire(ctx, UserKey(1))
	require.NoError(t, err)

	// старый держатель не снимает чужой замок
	require.NoError(t, stale.Release(ctx))
	_, err = locker.TryAcquire(ctx, UserKey(1))
	assert.ErrorIs(t, err, errs.ErrLeaseHeld)

	require.NoError(t, fresh.Release(ctx))
}

func TestLocker_AcquireWaits(t *testing.T) {
	ctx := context.Background()
	locker := New(NewMemoryBackend(), config.Lease{TTL: time.Minute, Wait: 2 * time.Second})

	held, err := locker.TryAcquire(ctx, UserKey(1))
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	got, err := locker.Acquire(ctx, UserKey(1))
	require.NoError(t, err)
	require.NoError(t, got.Release(ctx))
}

func TestLocker_AcquireGivesUp(t *testing.T) {
	ctx := context.Background()
	locker := New(NewMemoryBackend(), config.Lease{TTL: time.Minute, Wait: 150 * time.Millisecond})

	_, err := locker.TryAcquire(ctx, UserKey(1))
	require.NoError(t, err)

	start := time.Now()
	_, err = locker.Acquire(ctx, UserKey(1))
	assert.ErrorIs(t, err, errs.ErrLeaseHeld)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLocker_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	locker := New(NewMemoryBackend(), config.Lease{TTL: time.Minute, Wait: 5 * time.Second})

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := locker.Acquire(ctx, UserKey(7))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, l.Release(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

type failingBackend struct{ calls int32 }

func (f *failingBackend) TryLock(context.Context, string, string, time.Duration) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	return false, errors.New("connection refused")
}

func (f *failingBackend) Unlock(context.Context, string, string) error { return nil }

func TestLocker_BackendErrorIsNotRetried(t *testing.T) {
	backend := &failingBackend{}
	locker := New(backend, config.Lease{TTL: time.Minute, Wait: time.Second})

	_, err := locker.Acquire(context.Background(), UserKey(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrLeaseHeld)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.calls))
}
