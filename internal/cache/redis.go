package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	fieldValue      = "value"
	fieldFreshUntil = "fresh_until"
	fieldStaleUntil = "stale_until"

	scanBatch = 256
)

// RedisStore is the shared remote tier. Each entry lives in a hash under
// planfold:<namespace>:<key> so freshness metadata travels with the value.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	result, err := s.client.HGetAll(ctx, storeKey(namespace, key)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	entry, ok := decodeHash(result)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace, key string, entry Entry) error {
	k := storeKey(namespace, key)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, map[string]any{
		fieldValue:      string(entry.Value),
		fieldFreshUntil: strconv.FormatInt(entry.FreshUntil.UnixMilli(), 10),
		fieldStaleUntil: strconv.FormatInt(entry.StaleUntil.UnixMilli(), 10),
	})
	// Expire a little after the stale bound so dead entries do not linger.
	if ttl := time.Until(entry.StaleUntil) + time.Minute; ttl > 0 {
		pipe.PExpire(ctx, k, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	return s.client.Del(ctx, storeKey(namespace, key)).Err()
}

func (s *RedisStore) Scan(ctx context.Context, namespace, prefix string) (map[string]Entry, error) {
	pattern := storeKey(namespace, prefix) + "*"
	nsPrefix := storeKey(namespace, "")

	result := make(map[string]Entry)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			fields, err := s.client.HGetAll(ctx, k).Result()
			if err != nil {
				return nil, err
			}
			if entry, ok := decodeHash(fields); ok {
				result[strings.TrimPrefix(k, nsPrefix)] = *entry
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

func (s *RedisStore) Increment(ctx context.Context, namespace, key string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, storeKey(namespace, key), fieldValue, delta).Result()
}

func decodeHash(fields map[string]string) (*Entry, bool) {
	raw, ok := fields[fieldValue]
	if !ok {
		return nil, false
	}
	freshMs, err := strconv.ParseInt(fields[fieldFreshUntil], 10, 64)
	if err != nil {
		return nil, false
	}
	staleMs, err := strconv.ParseInt(fields[fieldStaleUntil], 10, 64)
	if err != nil {
		return nil, false
	}
	return &Entry{
		Value:      []byte(raw),
		FreshUntil: time.UnixMilli(freshMs).UTC(),
		StaleUntil: time.UnixMilli(staleMs).UTC(),
	}, true
}
