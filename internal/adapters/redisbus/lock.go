package redisbus

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if its value matches the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker implements ports.Locker with SETNX plus a TTL and a Lua-based
// conditional unlock.
type Locker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLocker creates a Locker backed by the given Client.
func NewLocker(c *Client) *Locker {
	return &Locker{
		rdb:      c.rdb,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire tries to take key for ttl. It returns domain.ErrLockHeld when another
// holder has it. The returned unlock function is safe to call more than once.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbus: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// El ctx del caller puede estar cancelado ya.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
	}
	return unlock, nil
}
