package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
)

// RedisStore is the production presence store adapter. Every operation is a
// single atomic store primitive (plus a TTL refresh pipelined with it) and
// is bounded by the configured per-operation timeout. Transport failures
// surface as *presence.StoreUnavailableError; callers degrade to defaults.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
	logger    *logging.ChanneledLogger
}

// NewRedisStore creates a presence store backed by a Redis-protocol server.
func NewRedisStore(client *redis.Client, opTimeout time.Duration, logger *logging.ChanneledLogger) *RedisStore {
	if logger != nil {
		logger.Store().Info("Initializing redis presence store", "opTimeout", opTimeout)
	}
	return &RedisStore{
		client:    client,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) fail(op string, err error) error {
	if s.logger != nil {
		s.logger.Store().Warn("Presence store operation failed", "operation", op, "error", err.Error())
	}
	return domain.NewStoreUnavailable(op, err)
}

// refreshTTL extends key expiry to at least ttl. EXPIRE ... GT never
// shortens a longer remaining TTL, which gives the sliding presence window.
func (s *RedisStore) refreshTTL(ctx context.Context, pipe redis.Pipeliner, key string, ttl time.Duration) {
	if ttl > 0 {
		pipe.ExpireGT(ctx, key, ttl)
		// ExpireGT is a no-op on keys with no TTL yet, so set one as well.
		pipe.ExpireNX(ctx, key, ttl)
	}
}

func (s *RedisStore) SetField(ctx context.Context, key, field, value string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	s.refreshTTL(ctx, pipe, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.fail("set_field", err)
	}
	return nil
}

func (s *RedisStore) SetFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	values := make(map[string]interface{}, len(fields))
	for f, v := range fields {
		values[f] = v
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	s.refreshTTL(ctx, pipe, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.fail("set_fields", err)
	}
	return nil
}

func (s *RedisStore) GetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, s.fail("get_all", err)
	}
	return result, nil
}

func (s *RedisStore) IncrementField(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, field, delta)
	s.refreshTTL(ctx, pipe, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.fail("increment_field", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, member)
	s.refreshTTL(ctx, pipe, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.fail("add_to_set", err)
	}
	return nil
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, key, member string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return s.fail("remove_from_set", err)
	}
	return nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, s.fail("set_members", err)
	}
	return members, nil
}

func (s *RedisStore) SetLength(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	length, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, s.fail("set_length", err)
	}
	return length, nil
}

func (s *RedisStore) SortedSetIncrement(ctx context.Context, key, member string, delta float64, ttl time.Duration) (float64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	incr := pipe.ZIncrBy(ctx, key, delta, member)
	s.refreshTTL(ctx, pipe, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.fail("sorted_set_increment", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) SortedSetTopN(ctx context.Context, key string, n int64) ([]domain.ScoredMember, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	results, err := s.client.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, s.fail("sorted_set_top_n", err)
	}

	members := make([]domain.ScoredMember, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, domain.ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail("get", err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return s.fail("set", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return s.fail("delete", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.fail("ping", err)
	}
	return nil
}
