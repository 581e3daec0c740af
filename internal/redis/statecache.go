package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"acfleet/internal/apperr"
)

const stateTTL = time.Hour

// StateCache mirrors the latest merged device state into Redis so API reads
// and workers do not have to hit Postgres for hot state.
type StateCache struct {
	client *redis.Client
}

// NewStateCache wraps an existing Redis client.
func NewStateCache(client *redis.Client) *StateCache {
	return &StateCache{client: client}
}

func stateKey(uuid string) string {
	return fmt.Sprintf("device:%s:state", uuid)
}

// SetDeviceState stores the merged state with a 1h TTL. Cache write failures
// are transient: the device row stays authoritative.
func (s *StateCache) SetDeviceState(ctx context.Context, uuid string, state map[string]interface{}) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, stateKey(uuid), raw, stateTTL).Err(); err != nil {
		return fmt.Errorf("cache state for %s: %v: %w", uuid, err, apperr.ErrTransient)
	}
	return nil
}

// GetDeviceState returns the cached state, or nil on a miss.
func (s *StateCache) GetDeviceState(ctx context.Context, uuid string) (map[string]interface{}, error) {
	raw, err := s.client.Get(ctx, stateKey(uuid)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state for %s: %v: %w", uuid, err, apperr.ErrTransient)
	}
	var state map[string]interface{}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return state, nil
}
