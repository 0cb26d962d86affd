package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rl:"

// RedisStore keeps one sorted set per (endpoint, key), scored by attempt time in microseconds.
// Each set expires after the retention period so idle keys disappear on their own.
type RedisStore struct {
	redis     redis.UniversalClient
	retention time.Duration
}

// NewRedisStore returns a RedisStore. retention must be at least the gate window.
func NewRedisStore(client redis.UniversalClient, retention time.Duration) *RedisStore {
	return &RedisStore{redis: client, retention: retention}
}

// DialRedis parses a redis:// URL and returns a RedisStore on a new client, pinging it once.
// The caller closes the returned client.
func DialRedis(ctx context.Context, url string, retention time.Duration) (*RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("ratelimit: redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}
	return NewRedisStore(client, retention), client, nil
}

func redisKey(endpoint Endpoint, hashedKey string) string {
	return redisKeyPrefix + string(endpoint) + ":" + hashedKey
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (s *RedisStore) Window(ctx context.Context, hashedKey string, endpoint Endpoint, since time.Time, n int) (Window, error) {
	if n < 1 {
		n = 1
	}
	key := redisKey(endpoint, hashedKey)
	min := "(" + strconv.FormatInt(since.UnixMicro(), 10)

	pipe := s.redis.Pipeline()
	count := pipe.ZCount(ctx, key, min, "+inf")
	nth := pipe.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: min, Max: "+inf", Offset: int64(n - 1), Count: 1})
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Window{}, fmt.Errorf("ratelimit: redis window: %w", err)
	}
	w := Window{Count: int(count.Val())}
	if zs := nth.Val(); len(zs) > 0 {
		w.Nth = time.UnixMicro(int64(zs[0].Score))
	}
	return w, nil
}

func (s *RedisStore) Record(ctx context.Context, attempts ...Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	pipe := s.redis.TxPipeline()
	for _, a := range attempts {
		key := redisKey(a.Endpoint, a.HashedKey)
		pipe.ZAdd(ctx, key, redis.Z{Score: score(a.CreatedAt), Member: a.Realm.String() + ":" + uuid.NewString()})
		pipe.PExpire(ctx, key, s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit: redis record: %w", err)
	}
	return nil
}

// Prune trims entries older than before from every attempt set.
func (s *RedisStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	max := "(" + strconv.FormatInt(before.UnixMicro(), 10)
	var total int64
	iter := s.redis.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.redis.ZRemRangeByScore(ctx, iter.Val(), "-inf", max).Result()
		if err != nil {
			return total, fmt.Errorf("ratelimit: redis prune: %w", err)
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("ratelimit: redis prune: %w", err)
	}
	return total, nil
}
