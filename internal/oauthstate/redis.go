// redis.go is the Redis-backed state store. Expiry rides on the key TTL and
// single-use consumption is a GETDEL, so the guarantees hold across replicas
// without coordination.
package oauthstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "oauthstate:"

// RedisStore persists state tokens in Redis with the standard TTL.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, state string, p Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode state payload: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, redisKeyPrefix+state, b, TTL).Result()
	if err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	if !ok {
		return fmt.Errorf("oauth state collision for token")
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, state string) (Payload, error) {
	b, err := s.rdb.GetDel(ctx, redisKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return Payload{}, ErrStateInvalid
	}
	if err != nil {
		return Payload{}, fmt.Errorf("consume oauth state: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode state payload: %w", err)
	}
	return p, nil
}
