package schedule

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// scheduleKey is the sorted set holding pending wakes.
// Member = agent id, score = unix wake timestamp in seconds.
const scheduleKey = "scheduler:queue"

// RedisStore is the production Store on a Redis sorted set.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Schedule implements Store with a single ZADD of all members. ZADD
// overwrites the score of an existing member, which is exactly the
// one-pending-entry-per-agent contract.
func (s *RedisStore) Schedule(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	members := make([]redis.Z, len(entries))
	for i, e := range entries {
		members[i] = redis.Z{
			Score:  float64(e.WakeAt.Unix()),
			Member: e.AgentID,
		}
	}
	if err := s.client.ZAdd(ctx, scheduleKey, members...).Err(); err != nil {
		return fmt.Errorf("schedule: zadd: %w", err)
	}
	return nil
}

// Due implements Store via ZRANGEBYSCORE with a count cap.
func (s *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	res, err := s.client.ZRangeByScoreWithScores(ctx, scheduleKey, &redis.ZRangeBy{
		Min:    "0",
		Max:    strconv.FormatInt(now.Unix(), 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("schedule: zrangebyscore: %w", err)
	}

	entries := make([]Entry, 0, len(res))
	for _, z := range res {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			AgentID: member,
			WakeAt:  time.Unix(int64(z.Score), 0).UTC(),
		})
	}
	return entries, nil
}

// Remove implements Store via ZREM of the exact member set.
func (s *RedisStore) Remove(ctx context.Context, agentIDs []string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	members := make([]any, len(agentIDs))
	for i, id := range agentIDs {
		members[i] = id
	}
	if err := s.client.ZRem(ctx, scheduleKey, members...).Err(); err != nil {
		return fmt.Errorf("schedule: zrem: %w", err)
	}
	return nil
}

// Len implements Store via ZCARD.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, scheduleKey).Result()
	if err != nil {
		return 0, fmt.Errorf("schedule: zcard: %w", err)
	}
	return int(n), nil
}
