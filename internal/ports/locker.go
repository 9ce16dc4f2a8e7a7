package ports

import (
	"context"
	"time"
)

// Locker serializa el keeper entre réplicas. Acquire devuelve domain.ErrLockHeld
// si otro proceso tiene el lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
