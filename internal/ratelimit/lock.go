package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// lockKeyPrefix namespaces rentflow locks, e.g. rentflow:lock:ipn:replay:<id>.
const lockKeyPrefix = "rentflow:lock:"

var ErrLockTTL = errors.New("lock ttl must be positive")

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker guards ipn replays and scheduler runs across instances. A lock is
// held until Release with the token TryLock returned, or until its ttl.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// TryLock reports false without error when another holder has the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrLockTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release is a no-op when the lock expired or passed to another holder.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{lockKey(key)}, token).Err()
}

func lockKey(key string) string {
	return lockKeyPrefix + key
}
