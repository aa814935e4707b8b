package manifest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease only if it still carries our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker backed by Redis SET NX PX, for runs spread over
// several processes or hosts sharing one ledger.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

var _ Locker = (*RedisLocker)(nil)

// ConnectRedis parses a redis:// URL and verifies the connection.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisLocker creates a locker storing leases under prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "wallarchive:lease:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// TryAcquire implements Locker.
func (r *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Guard, bool, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	rkey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, rkey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisGuard{client: r.client, key: rkey, token: token}, true, nil
}

type redisGuard struct {
	client *redis.Client
	key    string
	token  string
	once   sync.Once
}

func (g *redisGuard) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	n, err := refreshScript.Run(ctx, g.client, []string{g.key}, g.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lease %s: %w", g.key, err)
	}
	return n == 1, nil
}

func (g *redisGuard) Release() {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.client, []string{g.key}, g.token).Err()
	})
}
