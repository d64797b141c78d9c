//go:build !integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsOptimizer/business/optimizer"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestLease_ExclusiveUntilReleased(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewLeaseRepository(client)
	ctx := context.Background()

	lease, err := repo.Acquire(ctx, "P1:keyword:KW1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("optimizer:lease:P1:keyword:KW1"))

	_, err = repo.Acquire(ctx, "P1:keyword:KW1", time.Minute)
	assert.ErrorIs(t, err, optimizer.ErrLeaseHeld)

	// other entities are independent
	other, err := repo.Acquire(ctx, "P1:keyword:KW2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("optimizer:lease:P1:keyword:KW1"))

	again, err := repo.Acquire(ctx, "P1:keyword:KW1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLease_ExpiresWithTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewLeaseRepository(client)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, "P1:campaign:C1", 30*time.Second)
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	_, err = repo.Acquire(ctx, "P1:campaign:C1", 30*time.Second)
	assert.NoError(t, err)
}

func TestLease_StaleReleaseKeepsNewOwner(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := NewLeaseRepository(client)
	ctx := context.Background()

	stale, err := repo.Acquire(ctx, "P1:target:T1", 10*time.Second)
	require.NoError(t, err)
	mr.FastForward(11 * time.Second)

	fresh, err := repo.Acquire(ctx, "P1:target:T1", time.Minute)
	require.NoError(t, err)

	// the expired holder must not delete the new owner's key
	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("optimizer:lease:P1:target:T1"))

	err = stale.(*Lease).Extend(ctx, time.Minute)
	assert.ErrorIs(t, err, optimizer.ErrLeaseHeld)

	require.NoError(t, fresh.(*Lease).Extend(ctx, 2*time.Minute))
	assert.Equal(t, 2*time.Minute, mr.TTL("optimizer:lease:P1:target:T1"))
}
