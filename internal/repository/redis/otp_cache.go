package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/clock"
	"otp-service/internal/models"
	"otp-service/internal/store"
	"otp-service/internal/util"
)

const (
	otpPrefix       = "otp:"
	rateLimitPrefix = "otp_rate:"

	// keyGrace keeps a key around a little past its logical horizon so the
	// provider, not Redis expiry, decides when a record is expired.
	keyGrace       = time.Minute
	maxTxRetries   = 5
	opTimeout      = 5 * time.Second
	sweepBatchSize = 100
)

var ErrTxConflict = errors.New("otp record changed concurrently")

// compareAndDelete removes a key only if it still holds the value read by
// the sweeper.
var compareAndDelete = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// OTPCache is a store.Store backed by Redis. Records are JSON strings under
// otp:{phone}:{purpose}; rate counters are hashes under otp_rate:{phone}.
type OTPCache struct {
	client *client.RedisClient
	clock  clock.Clock
}

func NewOTPCache(client *client.RedisClient, clk clock.Clock) *OTPCache {
	return &OTPCache{client: client, clock: clk}
}

func (c *OTPCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

func (c *OTPCache) ttlFor(rec *models.OTPRecord) time.Duration {
	remaining := time.Duration(rec.HorizonMs()-clock.NowMillis(c.clock)) * time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	return remaining + keyGrace
}

func (c *OTPCache) GetRecord(ctx context.Context, key string) (*models.OTPRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.client.Client.Get(ctx, otpPrefix+key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get OTP record: %w", err)
	}
	return decodeRecord(raw)
}

func (c *OTPCache) PutRecord(ctx context.Context, key string, rec *models.OTPRecord) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode OTP record: %w", err)
	}
	ttl := c.ttlFor(rec)
	if err := c.client.Client.Set(ctx, otpPrefix+key, data, ttl).Err(); err != nil {
		util.Error("Failed to set OTP record", zap.Duration("ttl", ttl), zap.Error(err))
		return fmt.Errorf("failed to set OTP record: %w", err)
	}
	return nil
}

func (c *OTPCache) DeleteRecord(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.client.Client.Del(ctx, otpPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete OTP record: %w", err)
	}
	return n > 0, nil
}

// MutateRecord runs fn inside a WATCH/MULTI optimistic transaction and
// retries when another writer touched the key in between.
func (c *OTPCache) MutateRecord(ctx context.Context, key string, fn store.MutateFunc) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	redisKey := otpPrefix + key
	txf := func(tx *goredis.Tx) error {
		var current *models.OTPRecord
		raw, err := tx.Get(ctx, redisKey).Result()
		switch {
		case err == nil:
			if current, err = decodeRecord(raw); err != nil {
				return err
			}
		case !errors.Is(err, goredis.Nil):
			return fmt.Errorf("failed to read OTP record: %w", err)
		}

		action, err := fn(current)
		if err != nil {
			return err
		}

		switch action {
		case store.Save:
			if current == nil {
				return nil
			}
			data, err := json.Marshal(current)
			if err != nil {
				return fmt.Errorf("failed to encode OTP record: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, redisKey, data, c.ttlFor(current))
				return nil
			})
			return err
		case store.Delete:
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Del(ctx, redisKey)
				return nil
			})
			return err
		}
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := c.client.Client.Watch(ctx, txf, redisKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			util.Debug("OTP record transaction conflict, retrying", zap.Int("attempt", i+1))
			continue
		}
		return err
	}
	return ErrTxConflict
}

func (c *OTPCache) Sweep(ctx context.Context, nowMs int64) (store.SweepStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var stats store.SweepStats

	iter := c.client.Client.Scan(ctx, 0, otpPrefix+"*", sweepBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := c.client.Client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			util.Warn("Dropping undecodable OTP record", zap.Error(err))
		} else if !rec.Stale(nowMs) {
			continue
		}
		n, err := compareAndDelete.Run(ctx, c.client.Client, []string{key}, raw).Int()
		if err != nil {
			return stats, fmt.Errorf("failed to delete stale OTP record: %w", err)
		}
		stats.Records += n
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("failed to scan OTP records: %w", err)
	}

	counters, err := c.sweepRateLimits(ctx, nowMs)
	stats.Counters = counters
	if err != nil {
		return stats, err
	}

	util.Debug("OTP cache sweep completed",
		zap.Int("records", stats.Records),
		zap.Int("counters", stats.Counters))

	return stats, nil
}

func (c *OTPCache) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.client.Client.Ping(ctx).Err()
}

func decodeRecord(raw string) (*models.OTPRecord, error) {
	var rec models.OTPRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode OTP record: %w", err)
	}
	return &rec, nil
}

var _ store.Store = (*OTPCache)(nil)
