package sessionstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/models"
)

// RedisStore is the production Store implementation, backed by a Redis (or
// Redis-protocol-compatible) server via github.com/redis/go-redis/v9.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisStore connects to addr and returns a ready-to-use RedisStore.
func NewRedisStore(addr, username, password string, db int, log zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, log: log}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, proto models.Protocol, inboxIDHash string) (models.SessionRecord, error) {
	key := sessionKey(proto, inboxIDHash)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return models.SessionRecord{}, wrapStoreErr(err)
	}
	if len(fields) == 0 {
		return models.SessionRecord{}, coreerrors.ErrMissing
	}
	return decodeRecord(proto, inboxIDHash, fields), nil
}

func (s *RedisStore) PutNew(ctx context.Context, rec models.SessionRecord, ttl time.Duration) error {
	key := sessionKey(rec.Protocol, rec.InboxIDHash)

	claimed, err := s.client.HSetNX(ctx, key, "created_at", strconv.FormatInt(rec.CreatedAtMS, 10)).Result()
	if err != nil {
		return wrapStoreErr(err)
	}
	if !claimed {
		return coreerrors.ErrAlreadyExists
	}

	fields := encodeRecord(rec)
	delete(fields, "created_at") // already set atomically above
	if len(fields) > 0 {
		if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
			return wrapStoreErr(err)
		}
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, proto models.Protocol, inboxIDHash string, ttl time.Duration) error {
	key := sessionKey(proto, inboxIDHash)
	now := strconv.FormatInt(nowMS(), 10)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return wrapStoreErr(err)
	}
	if exists == 0 {
		return coreerrors.ErrMissing
	}

	if err := s.client.HSet(ctx, key, map[string]interface{}{
		"last_used_at":      now,
		"last_refreshed_at": now,
	}).Err(); err != nil {
		return wrapStoreErr(err)
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

func (s *RedisStore) MarkRetired(ctx context.Context, proto models.Protocol, inboxIDHash string) error {
	key := sessionKey(proto, inboxIDHash)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return wrapStoreErr(err)
	}
	if exists == 0 {
		return coreerrors.ErrMissing
	}
	return wrapStoreErr(s.client.HSet(ctx, key, map[string]interface{}{
		"status": string(models.StatusRetired),
	}).Err())
}

func (s *RedisStore) MarkRefreshing(ctx context.Context, proto models.Protocol, inboxIDHash string) error {
	key := sessionKey(proto, inboxIDHash)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return wrapStoreErr(err)
	}
	if exists == 0 {
		return coreerrors.ErrMissing
	}
	return wrapStoreErr(s.client.HSet(ctx, key, map[string]interface{}{
		"status": string(models.StatusRefreshing),
	}).Err())
}

func (s *RedisStore) IncrStat(ctx context.Context, proto models.Protocol, inboxIDHash string, field models.StatField, delta int64) {
	key := sessionKey(proto, inboxIDHash)
	if err := s.client.HIncrBy(ctx, key, statHashField(field), delta).Err(); err != nil {
		s.log.Warn().Err(err).Str("field", string(field)).Msg("store_stat_increment_failed")
	}
	if err := s.client.HIncrBy(ctx, globalStatsKey, statHashField(field), delta).Err(); err != nil {
		s.log.Warn().Err(err).Str("field", string(field)).Msg("store_global_stat_increment_failed")
	}
}

func (s *RedisStore) GlobalStats(ctx context.Context) (models.Stats, error) {
	fields, err := s.client.HGetAll(ctx, globalStatsKey).Result()
	if err != nil {
		return models.Stats{}, wrapStoreErr(err)
	}
	return decodeStats(fields), nil
}

func (s *RedisStore) ScanActive(ctx context.Context, proto models.Protocol) (Iterator, error) {
	return &redisIterator{client: s.client, match: "session:" + string(proto) + ":*", proto: proto}, nil
}

// redisIterator pages through SCAN results, filtering out retired records
// and re-fetching each key's hash. SCAN's own semantics already satisfy the
// "tolerate concurrent mutation, never loop forever" requirement: a full
// cycle is bounded because Redis guarantees the cursor returns to 0.
type redisIterator struct {
	client *redis.Client
	match  string
	proto  models.Protocol

	cursor  uint64
	started bool
	buf     []string
}

func (it *redisIterator) Next(ctx context.Context) (models.SessionRecord, bool, error) {
	for {
		if len(it.buf) > 0 {
			key := it.buf[0]
			it.buf = it.buf[1:]

			fields, err := it.client.HGetAll(ctx, key).Result()
			if err != nil {
				return models.SessionRecord{}, false, wrapStoreErr(err)
			}
			if len(fields) == 0 {
				continue // retired/expired between SCAN and HGETALL; skip
			}
			hash := key[len("session:"+string(it.proto)+":"):]
			rec := decodeRecord(it.proto, hash, fields)
			if rec.Status == models.StatusRetired {
				continue
			}
			return rec, true, nil
		}

		if it.started && it.cursor == 0 {
			return models.SessionRecord{}, false, nil
		}

		keys, next, err := it.client.Scan(ctx, it.cursor, it.match, 100).Result()
		if err != nil {
			return models.SessionRecord{}, false, wrapStoreErr(err)
		}
		it.started = true
		it.cursor = next
		it.buf = keys
	}
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", coreerrors.ErrStoreUnavailable, err)
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
