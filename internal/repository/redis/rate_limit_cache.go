package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"otp-service/internal/models"
	"otp-service/internal/store"
	"otp-service/internal/util"
)

// Counters live in one hash per phone with fields {window}:count and
// {window}:reset. Window order in the scripts matches models.Windows.

var reserveScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local names = {'minute', 'hour', 'day'}
local spans = {60000, 3600000, 86400000}
local counts, resets = {}, {}

for i, w in ipairs(names) do
  local c = tonumber(redis.call('HGET', KEYS[1], w .. ':count') or '0')
  local r = tonumber(redis.call('HGET', KEYS[1], w .. ':reset') or '0')
  if r == 0 or now > r then
    c = 0
    r = now + spans[i]
  end
  counts[i] = c
  resets[i] = r
end

local allowed = 1
local blocked = 0
for i = 1, 3 do
  if counts[i] >= tonumber(ARGV[i + 1]) then
    allowed = 0
    blocked = i
    break
  end
end

for i, w in ipairs(names) do
  if allowed == 1 then
    counts[i] = counts[i] + 1
  end
  redis.call('HSET', KEYS[1], w .. ':count', counts[i], w .. ':reset', resets[i])
end

local horizon = math.max(resets[1], resets[2], resets[3])
redis.call('PEXPIRE', KEYS[1], horizon - now + 60000)

local blockedReset = 0
if blocked > 0 then
  blockedReset = resets[blocked]
end
return {allowed, blocked, blockedReset, resets[1], resets[2], resets[3]}
`)

var releaseScript = goredis.NewScript(`
local names = {'minute', 'hour', 'day'}
for i, w in ipairs(names) do
  local r = redis.call('HGET', KEYS[1], w .. ':reset')
  local c = tonumber(redis.call('HGET', KEYS[1], w .. ':count') or '0')
  if r and r == ARGV[i] and c > 0 then
    redis.call('HINCRBY', KEYS[1], w .. ':count', -1)
  end
end
return 1
`)

var expireCounterScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
for _, w in ipairs({'minute', 'hour', 'day'}) do
  local r = tonumber(redis.call('HGET', KEYS[1], w .. ':reset') or '0')
  if now <= r then
    return 0
  end
end
return redis.call('DEL', KEYS[1])
`)

func (c *OTPCache) ReserveSend(ctx context.Context, phone string, limits models.RateLimits, nowMs int64) (*store.Reservation, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := reserveScript.Run(ctx, c.client.Client,
		[]string{rateLimitPrefix + phone},
		nowMs, limits.PerMinute, limits.PerHour, limits.PerDay,
	).Int64Slice()
	if err != nil {
		util.Error("Rate limit reservation failed", util.Phone(phone), zap.Error(err))
		return nil, fmt.Errorf("failed to reserve send: %w", err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("unexpected reserve reply length %d", len(out))
	}

	if out[0] == 0 {
		w := models.Windows[out[1]-1]
		return &store.Reservation{Phone: phone, Allowed: false, Window: w, ResetTime: out[2]}, nil
	}

	res := &store.Reservation{Phone: phone, Allowed: true, ResetTimes: make(map[models.Window]int64, len(models.Windows))}
	for i, w := range models.Windows {
		res.ResetTimes[w] = out[3+i]
	}
	return res, nil
}

func (c *OTPCache) ReleaseSend(ctx context.Context, res *store.Reservation) error {
	if res == nil || !res.Allowed {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	args := make([]interface{}, 0, len(models.Windows))
	for _, w := range models.Windows {
		args = append(args, res.ResetTimes[w])
	}
	if err := releaseScript.Run(ctx, c.client.Client, []string{rateLimitPrefix + res.Phone}, args...).Err(); err != nil {
		return fmt.Errorf("failed to release send: %w", err)
	}
	return nil
}

func (c *OTPCache) sweepRateLimits(ctx context.Context, nowMs int64) (int, error) {
	removed := 0
	iter := c.client.Client.Scan(ctx, 0, rateLimitPrefix+"*", sweepBatchSize).Iterator()
	for iter.Next(ctx) {
		n, err := expireCounterScript.Run(ctx, c.client.Client, []string{iter.Val()}, nowMs).Int()
		if err != nil {
			return removed, fmt.Errorf("failed to expire rate counter: %w", err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan rate counters: %w", err)
	}
	return removed, nil
}
