package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMirrorKey is the Redis set holding the ids of online users.
const DefaultMirrorKey = "chat:presence:online"

// setCommands is the part of redis.Cmdable the mirror uses.
type setCommands interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type change struct {
	userID string
	online bool
}

// RedisMirror copies presence transitions into a Redis set so that other
// processes can read who is online. The in-memory registry stays the authority.
type RedisMirror struct {
	client  setCommands
	key     string
	changes chan change
	log     *slog.Logger
	timeout time.Duration
}

var _ Listener = (*RedisMirror)(nil)

func NewRedisMirror(client setCommands, key string, log *slog.Logger) *RedisMirror {
	if key == "" {
		key = DefaultMirrorKey
	}
	return &RedisMirror{
		client:  client,
		key:     key,
		changes: make(chan change, 1024),
		log:     log,
		timeout: 2 * time.Second,
	}
}

// PresenceChanged queues the transition. It never blocks; when the queue is
// full the update is dropped and logged.
func (m *RedisMirror) PresenceChanged(userID string, online bool) {
	select {
	case m.changes <- change{userID: userID, online: online}:
	default:
		m.log.Warn("presence mirror queue full, dropping update", "user_id", userID, "online", online)
	}
}

// Run clears the mirrored set and then applies queued transitions in order
// until ctx is cancelled.
func (m *RedisMirror) Run(ctx context.Context) {
	m.apply(ctx, func(c context.Context) error {
		return m.client.Del(c, m.key).Err()
	})

	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-m.changes:
			m.apply(ctx, func(c context.Context) error {
				if ch.online {
					return m.client.SAdd(c, m.key, ch.userID).Err()
				}
				return m.client.SRem(c, m.key, ch.userID).Err()
			})
		}
	}
}

func (m *RedisMirror) apply(ctx context.Context, fn func(context.Context) error) {
	c, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := fn(c); err != nil {
		m.log.Error("presence mirror write failed", "key", m.key, "error", err)
	}
}
