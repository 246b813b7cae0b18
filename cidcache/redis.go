package cidcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cid:"

// RedisStore keeps entries as JSON values under cid: keys. SetNX gives the
// same insert-if-absent semantics as the SQLite ON CONFLICT DO NOTHING path.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts)}, nil
}

func (s *RedisStore) PutBatch(ctx context.Context, entries []Entry) error {
	pipe := s.rdb.Pipeline()
	for _, e := range entries {
		value, err := json.Marshal(e)
		if err != nil {
			return err
		}
		pipe.SetNX(ctx, redisKeyPrefix+e.Cid, value, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, cid string) (*Entry, error) {
	value, err := s.rdb.Get(ctx, redisKeyPrefix+cid).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry := &Entry{}
	if err := json.Unmarshal(value, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *RedisStore) GetBatch(ctx context.Context, cids []string) (map[string]*Entry, error) {
	results := make(map[string]*Entry, len(cids))
	if len(cids) == 0 {
		return results, nil
	}
	keys := make([]string, len(cids))
	for i, cid := range cids {
		keys[i] = redisKeyPrefix + cid
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		entry := &Entry{}
		if err := json.Unmarshal([]byte(raw), entry); err != nil {
			return nil, err
		}
		results[entry.Cid] = entry
	}
	return results, nil
}

// Count scans the cid keyspace; it is an operator-reporting call, not a
// serving-path one.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	var count int64
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, redisKeyPrefix+"*", 10000).Result()
		if err != nil {
			return count, err
		}
		count += int64(len(keys))
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ Store = (*RedisStore)(nil)
