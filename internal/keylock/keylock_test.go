package keylock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Locker = (*Local)(nil)
	_ Locker = Nop{}
	_ Locker = (*Redis)(nil)
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	const goroutines = 50
	counter := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "enrollment:s1:c1")
			if !assert.NoError(t, err) {
				return
			}
			// Unsynchronized read-modify-write guarded only by the lock.
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
	assert.Equal(t, 0, l.Len(), "released keys should be dropped")
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, Key("mastery", "s1", "c1"))
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, Key("mastery", "s2", "c1"))
	require.NoError(t, err)
	unlockB()
}

func TestLocalLockHonorsContext(t *testing.T) {
	l := NewLocal()

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "enrollment:s1:c1", Key("enrollment", "s1", "c1"))
}

func TestRedisLock(t *testing.T) {
	url := os.Getenv("PATHWISE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PATHWISE_TEST_REDIS_URL not set")
	}
	ctx := t.Context()

	r, err := NewRedis(ctx, RedisConfig{URL: url, TTL: 2 * time.Second, Prefix: "pathwise:test:"})
	require.NoError(t, err)
	defer r.Close()

	unlock, err := r.Lock(ctx, "k1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = r.Lock(waitCtx, "k1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := r.Lock(ctx, "k1")
	require.NoError(t, err)
	unlock2()
}
