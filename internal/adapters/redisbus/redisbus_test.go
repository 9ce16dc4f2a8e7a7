package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable apunta a un puerto cerrado: los comandos fallan sin red.
func unreachable() *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})}
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestPublisher_Keys(t *testing.T) {
	c := unreachable()
	defer c.Close()

	p := NewPublisher(c, "")
	assert.Equal(t, "polypredict:events", p.Stream())
	assert.Equal(t, "polypredict:events:round_locked", p.Channel(domain.EventRoundLocked))

	p = NewPublisher(c, "staging")
	assert.Equal(t, "staging:events:bet_placed", p.Channel(domain.EventBetPlaced))
}

func TestPublisher_EmptyIsNoop(t *testing.T) {
	c := unreachable()
	defer c.Close()

	assert.NoError(t, NewPublisher(c, "").Publish(context.Background(), nil))
}

func TestPublisher_ReportsConnectionErrors(t *testing.T) {
	c := unreachable()
	defer c.Close()

	ev := domain.BettingPaused{Meta: domain.NewMeta(1, time.Now())}
	err := NewPublisher(c, "").Publish(context.Background(), []domain.Event{ev})
	assert.Error(t, err)
}

func TestLocker_ReportsConnectionErrors(t *testing.T) {
	c := unreachable()
	defer c.Close()

	unlock, err := NewLocker(c).Acquire(context.Background(), "keeper", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrLockHeld)
	assert.Nil(t, unlock)
	assert.Equal(t, "lock:keeper", lockKey("keeper"))
}
