package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLatchTTL bounds how long a crashed holder can keep a redis latch
const DefaultLatchTTL = 30 * time.Minute

// NewRedisClient connects to the shared coordination store
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisGate is a ThrottleGate shared by every instance pointing at the same redis
type RedisGate struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisGate creates a gate storing its windows under prefix
func NewRedisGate(rdb *redis.Client, prefix string) *RedisGate {
	return &RedisGate{rdb: rdb, prefix: prefix}
}

func (g *RedisGate) Admit(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		exists, err := g.rdb.Exists(ctx, g.prefix+key).Result()
		if err != nil {
			return false, err
		}
		return exists == 0, nil
	}
	// SET NX PX: first caller in the window wins
	return g.rdb.SetNX(ctx, g.prefix+key, time.Now().UnixMilli(), window).Result()
}

func (g *RedisGate) Stamp(ctx context.Context, key string, window time.Duration) error {
	if window <= 0 {
		return g.rdb.Del(ctx, g.prefix+key).Err()
	}
	return g.rdb.Set(ctx, g.prefix+key, time.Now().UnixMilli(), window).Err()
}

func (g *RedisGate) Active(ctx context.Context, key string) (bool, error) {
	n, err := g.rdb.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGate) Clear(ctx context.Context, prefix string) error {
	iter := g.rdb.Scan(ctx, 0, g.prefix+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return g.rdb.Del(ctx, keys...).Err()
}

// releaseScript deletes the latch only while it still carries the holder's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLatch is a Latch shared across instances. Each acquisition stores a
// fresh token so a holder whose latch expired cannot release its successor.
type RedisLatch struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	tokens sync.Map // key -> token of the acquisition held by this instance
}

// NewRedisLatch creates a latch set; ttl <= 0 uses DefaultLatchTTL
func NewRedisLatch(rdb *redis.Client, prefix string, ttl time.Duration) *RedisLatch {
	if ttl <= 0 {
		ttl = DefaultLatchTTL
	}
	return &RedisLatch{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *RedisLatch) TryAcquire(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	l.tokens.Store(key, token)
	return true, nil
}

func (l *RedisLatch) Release(ctx context.Context, key string) error {
	token, ok := l.tokens.LoadAndDelete(key)
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.rdb, []string{l.prefix + key}, token.(string)).Err()
}

func (l *RedisLatch) Held(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
