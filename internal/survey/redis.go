package survey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "botlab:survey:"

// RedisStore keeps survey states in Redis so they survive restarts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps states until deleted.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(clientID int64) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, clientID)
}

// Get loads and decodes the client's state.
func (s *RedisStore) Get(ctx context.Context, clientID int64) (*State, error) {
	raw, err := s.client.Get(ctx, redisKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("survey: redis get: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("survey: decode state: %w", err)
	}
	return &st, nil
}

// Set encodes and stores the state.
func (s *RedisStore) Set(ctx context.Context, st *State) error {
	if st == nil {
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("survey: encode state: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(st.ClientID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("survey: redis set: %w", err)
	}
	return nil
}

// Delete removes the state.
func (s *RedisStore) Delete(ctx context.Context, clientID int64) error {
	if err := s.client.Del(ctx, redisKey(clientID)).Err(); err != nil {
		return fmt.Errorf("survey: redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity during startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
