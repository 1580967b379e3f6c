package cache

import (
	"context"
	"fmt"

	redisv9 "github.com/redis/go-redis/v9"
)

// PreferenceStore persists per-user UI preferences. Currently only the
// last selected agent, read at startup and written on every explicit
// switch. Unset preferences read back as empty, never as an error.
type PreferenceStore struct {
	client *redisv9.Client
}

func NewPreferenceStore(client *redisv9.Client) *PreferenceStore {
	return &PreferenceStore{client: client}
}

func (s *PreferenceStore) LastAgent(ctx context.Context, userID string) (string, error) {
	agentID, err := s.client.Get(ctx, s.agentKey(userID)).Result()
	if err == redisv9.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get agent preference failed: %w", err)
	}
	return agentID, nil
}

func (s *PreferenceStore) SetLastAgent(ctx context.Context, userID, agentID string) error {
	if err := s.client.Set(ctx, s.agentKey(userID), agentID, 0).Err(); err != nil {
		return fmt.Errorf("redis set agent preference failed: %w", err)
	}
	return nil
}

func (s *PreferenceStore) agentKey(userID string) string {
	return "pref:agent:" + userID
}
