package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"adsOptimizer/business/optimizer"
)

// release and extend only touch the key while we still own it
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

type LeaseRepository struct {
	client *redis.Client
	prefix string
}

var _ optimizer.Locker = (*LeaseRepository)(nil)

func NewLeaseRepository(client *redis.Client) *LeaseRepository {
	return &LeaseRepository{
		client: client,
		prefix: "optimizer:lease:",
	}
}

// Acquire takes the entity lease with SET NX PX and a random owner token.
func (r *LeaseRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (optimizer.Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	redisKey := r.prefix + key
	ok, err := r.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", redisKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", optimizer.ErrLeaseHeld, key)
	}

	return &Lease{client: r.client, key: redisKey, token: token}, nil
}

type Lease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// Extend pushes the expiry out; it fails once the lease has been lost.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: lease %s lost", optimizer.ErrLeaseHeld, l.key)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lease token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
