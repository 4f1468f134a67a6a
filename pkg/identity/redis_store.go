package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisKey is the hash holding the persisted identity mapping.
// Fields are lowercased gamertags, values JSON-encoded identities.
const redisKey = "halo:identity:gamertags"

// RedisStore persists the identity mapping in a Redis hash.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed identity store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (map[string]PlayerIdentity, error) {
	fields, err := s.redis.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	identities := make(map[string]PlayerIdentity, len(fields))
	for key, raw := range fields {
		var id PlayerIdentity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return nil, fmt.Errorf("decode identity %q: %w", key, err)
		}
		identities[key] = id
	}

	return identities, nil
}

// Save implements Store. The hash is replaced wholesale; the in-memory cache
// is the source of truth during a run.
func (s *RedisStore) Save(ctx context.Context, identities map[string]PlayerIdentity) error {
	pipe := s.redis.Pipeline()
	pipe.Del(ctx, redisKey)

	if len(identities) > 0 {
		values := make(map[string]interface{}, len(identities))
		for key, id := range identities {
			data, err := json.Marshal(id)
			if err != nil {
				return fmt.Errorf("encode identity %q: %w", key, err)
			}
			values[key] = data
		}
		pipe.HSet(ctx, redisKey, values)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save identities: %w", err)
	}

	return nil
}
