package energy

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// chargeScript performs seed-if-absent, balance check, and decrement as one
// atomic unit on the Redis server. Returns {authorized, balance}.
var chargeScript = redis.NewScript(`
local key = KEYS[1]
local cost = tonumber(ARGV[1])
local seed = tonumber(ARGV[2])
local bal = tonumber(redis.call('GET', key))
if bal == nil or bal == 0 then
  bal = seed
  redis.call('SET', key, bal)
end
if bal < cost then
  return {0, bal}
end
bal = redis.call('DECRBY', key, cost)
return {1, bal}
`)

var seedScript = redis.NewScript(`
local key = KEYS[1]
local seed = tonumber(ARGV[1])
local bal = tonumber(redis.call('GET', key))
if bal == nil or bal == 0 then
  bal = seed
  redis.call('SET', key, bal)
end
return bal
`)

// RedisLedger is the Redis-backed Ledger shared by all process instances.
type RedisLedger struct {
	client *redis.Client
	seed   int
}

// NewRedisLedger creates a ledger on an existing Redis client. The client's
// lifetime is owned by the caller; Close here is a no-op.
func NewRedisLedger(client *redis.Client, seed int) *RedisLedger {
	if seed <= 0 {
		seed = DefaultSeed
	}
	return &RedisLedger{client: client, seed: seed}
}

func ledgerKey(agentID string) string {
	return "user:energy:" + agentID
}

// AuthorizeAndCharge implements Ledger via the charge script.
func (l *RedisLedger) AuthorizeAndCharge(ctx context.Context, agentID string, cost int) (bool, int, error) {
	res, err := chargeScript.Run(ctx, l.client, []string{ledgerKey(agentID)}, cost, l.seed).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("energy: charge script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("energy: charge script returned %d values", len(res))
	}
	return res[0] == 1, int(res[1]), nil
}

// Refund implements Ledger with a single INCRBY.
func (l *RedisLedger) Refund(ctx context.Context, agentID string, cost int) error {
	if err := l.client.IncrBy(ctx, ledgerKey(agentID), int64(cost)).Err(); err != nil {
		return fmt.Errorf("energy: refund: %w", err)
	}
	return nil
}

// Balance implements Ledger.
func (l *RedisLedger) Balance(ctx context.Context, agentID string) (int, error) {
	bal, err := seedScript.Run(ctx, l.client, []string{ledgerKey(agentID)}, l.seed).Int64()
	if err != nil {
		return 0, fmt.Errorf("energy: seed script: %w", err)
	}
	return int(bal), nil
}

// Close is a no-op; the Redis client is shared and closed by the process.
func (l *RedisLedger) Close() error { return nil }
