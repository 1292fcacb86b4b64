package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "nexus:pending:"

// RedisStore keeps pending actions in Redis so approvals survive a process
// restart and expire natively via key TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, action PendingAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return errors.Wrapf(err, "serializing pending action %s", action.ID)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+action.ID, data, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "storing pending action %s", action.ID)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, id string) (PendingAction, bool, error) {
	// GETDEL makes the read-and-delete atomic, matching the single-use
	// guarantee of the memory store.
	data, err := s.client.GetDel(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return PendingAction{}, false, nil
	}
	if err != nil {
		return PendingAction{}, false, errors.Wrapf(err, "consuming pending action %s", id)
	}
	var action PendingAction
	if err := json.Unmarshal(data, &action); err != nil {
		return PendingAction{}, false, errors.Wrapf(err, "parsing pending action %s", id)
	}
	return action, true, nil
}
