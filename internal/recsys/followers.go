package recsys

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisFollowerCounter reads follower counts from the fast-enrichment cache.
type RedisFollowerCounter struct {
	client *redis.Client
}

// NewRedisFollowerCounter creates a counter on an existing Redis client.
func NewRedisFollowerCounter(client *redis.Client) *RedisFollowerCounter {
	return &RedisFollowerCounter{client: client}
}

func followerKey(agentID string) string {
	return "user:fans:" + agentID
}

// Counts implements FollowerCounter with a single MGET for the whole pool.
// Absent or unparseable keys count as zero followers.
func (c *RedisFollowerCounter) Counts(ctx context.Context, agentIDs []string) ([]int, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(agentIDs))
	for i, id := range agentIDs {
		keys[i] = followerKey(id)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("recsys: mget follower counts: %w", err)
	}

	counts := make([]int, len(agentIDs))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			counts[i] = n
		}
	}
	return counts, nil
}
