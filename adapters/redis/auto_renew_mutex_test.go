package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoRenewMutex_LockUnlock(t *testing.T) {
	server, client := setupMiniredis(t)
	mutex := NewAutoRenewMutex(client, "lock:car:1", WithAutoRenewMutexExpiry(time.Second))

	lockCtx, err := mutex.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, mutex.Valid())
	assert.True(t, server.Exists("lock:car:1"))

	ok, err := mutex.Unlock()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mutex.Valid())
	assert.False(t, server.Exists("lock:car:1"))
	assert.ErrorIs(t, lockCtx.Err(), context.Canceled)
}

func TestAutoRenewMutex_WaitsForHolder(t *testing.T) {
	_, client := setupMiniredis(t)
	holder := NewAutoRenewMutex(client, "lock:lot:1", WithAutoRenewMutexRetryDelay(10*time.Millisecond))
	waiter := NewAutoRenewMutex(client, "lock:lot:1", WithAutoRenewMutexRetryDelay(10*time.Millisecond))

	_, err := holder.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = waiter.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = holder.Unlock()
	require.NoError(t, err)

	_, err = waiter.Lock(context.Background())
	require.NoError(t, err)
	_, err = waiter.Unlock()
	require.NoError(t, err)
}

func TestAutoRenewMutex_CancelsContextWhenLost(t *testing.T) {
	server, client := setupMiniredis(t)
	mutex := NewAutoRenewMutex(client, "lock:maintenance",
		WithAutoRenewMutexExpiry(time.Second),
		WithAutoRenewMutexRenewInterval(20*time.Millisecond))

	lockCtx, err := mutex.Lock(context.Background())
	require.NoError(t, err)

	// 模擬鎖被其他節點搶走
	server.Del("lock:maintenance")

	select {
	case <-lockCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("lock context was not cancelled after losing the lock")
	}
	assert.False(t, mutex.Valid())
	_, _ = mutex.Unlock()
}

func TestMutexLocker_SerializesKey(t *testing.T) {
	_, client := setupMiniredis(t)
	locker := NewMutexLocker(client, "lock:", WithAutoRenewMutexRetryDelay(5*time.Millisecond))

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, unlock, err := locker.Lock(context.Background(), "car:1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxSeen.Load())

	// 不同 key 互不影響
	_, unlockA, err := locker.Lock(context.Background(), "car:a")
	require.NoError(t, err)
	defer unlockA()
	_, unlockB, err := locker.Lock(context.Background(), "car:b")
	require.NoError(t, err)
	unlockB()
	unlockB()
}
