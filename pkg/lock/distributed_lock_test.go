package lock

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func TestDistributedLock_SingleInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	lock := NewRedisDistributedLock(client, "drp:jobs:test")
	ctx := context.Background()

	acquired, err := lock.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.IsHeld())
	assert.True(t, mr.Exists("drp:jobs:test"))

	err = lock.Unlock(ctx)
	assert.NoError(t, err)
	assert.False(t, lock.IsHeld())
	assert.False(t, mr.Exists("drp:jobs:test"))
}

func TestDistributedLock_MultipleInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	lock1 := NewRedisDistributedLock(client, "drp:jobs:multi")
	lock2 := NewRedisDistributedLock(client, "drp:jobs:multi")
	ctx := context.Background()

	acquired1, err := lock1.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired1)

	acquired2, err := lock2.TryLock(ctx)
	assert.NoError(t, err)
	assert.False(t, acquired2, "second lock should not be acquired")

	// lock2 never held it, its unlock must not release lock1
	assert.NoError(t, lock2.Unlock(ctx))
	assert.True(t, mr.Exists("drp:jobs:multi"))

	assert.NoError(t, lock1.Unlock(ctx))

	acquired2, err = lock2.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired2, "second lock should be acquired after first release")
	assert.NoError(t, lock2.Unlock(ctx))
}

func TestDistributedLock_NilClient(t *testing.T) {
	lock := NewRedisDistributedLock(nil, "drp:jobs:none")
	acquired, err := lock.TryLock(context.Background())
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, lock.Unlock(context.Background()))
	assert.False(t, lock.IsHeld())
}
