package presence

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultRedisPrefix namespaces presence keys in a shared Redis database.
const DefaultRedisPrefix = "tcpsession:session:"

// deleteIfScript removes KEYS[1] only while its record still carries the
// connection id in ARGV[1].
var deleteIfScript = redis.NewScript(`
	local val = redis.call("get", KEYS[1])
	if not val then
		return 0
	end
	local rec = cjson.decode(val)
	if tostring(rec["conn_id"]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// RedisStore is a Store shared between servers through Redis. Each record
// is a JSON value under prefix+id.
type RedisStore struct {
	client *redis.Client
	prefix string
	group  singleflight.Group
}

// NewRedisStore creates a Redis-backed Store.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, DefaultRedisPrefix)
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, r Record, ttl time.Duration) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := s.client.Set(ctx, key(s.prefix, r.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id uint32) (Record, error) {
	val, err := s.client.Get(ctx, key(s.prefix, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}

	if err != nil {
		return Record{}, fmt.Errorf("redis get error: %w", err)
	}

	var r Record
	if err := json.Unmarshal(val, &r); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return r, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id uint32) error {
	if err := s.client.Del(ctx, key(s.prefix, id)).Err(); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	return nil
}

// DeleteIf implements Store.
func (s *RedisStore) DeleteIf(ctx context.Context, id uint32, connID uint32) (bool, error) {
	n, err := deleteIfScript.Run(ctx, s.client, []string{key(s.prefix, id)}, connID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}

	return n > 0, nil
}

// List implements Store. Concurrent callers share a single SCAN.
func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	val, err, _ := s.group.Do("list", func() (interface{}, error) {
		return s.scan(ctx)
	})
	if err != nil {
		return nil, err
	}

	// Each caller gets its own slice.
	return slices.Clone(val.([]Record)), nil
}

func (s *RedisStore) scan(ctx context.Context) ([]Record, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	if len(keys) == 0 {
		return []Record{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget error: %w", err)
	}

	records := make([]Record, 0, len(vals))
	for _, v := range vals {
		// expired between SCAN and MGET
		str, ok := v.(string)
		if !ok {
			continue
		}

		var r Record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}

		records = append(records, r)
	}

	slices.SortFunc(records, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })
	return records, nil
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	return len(records), nil
}
