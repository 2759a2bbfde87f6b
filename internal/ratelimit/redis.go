package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps both windows in Redis sorted sets so several instances
// can share one quota. The entry is added optimistically in the same pipeline
// as the pruning; when either window is over its limit the entry is removed
// again, matching the record-only-when-admitted contract.
type RedisLimiter struct {
	client    *redis.Client
	settings  Settings
	keyPrefix string
}

func NewRedisLimiter(redisURL string, settings Settings) (*RedisLimiter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLimiter{
		client:    client,
		settings:  settings,
		keyPrefix: "altgen:ratelimit:",
	}, nil
}

func (r *RedisLimiter) Acquire(ctx context.Context) error {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10)
	minuteKey := r.keyPrefix + "minute"
	hourKey := r.keyPrefix + "hour"

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, minuteKey, "0", nanoScore(now.Add(-minuteWindow)))
	pipe.ZRemRangeByScore(ctx, hourKey, "0", nanoScore(now.Add(-hourWindow)))
	pipe.ZAdd(ctx, minuteKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.ZAdd(ctx, hourKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	minuteCount := pipe.ZCard(ctx, minuteKey)
	hourCount := pipe.ZCard(ctx, hourKey)
	pipe.Expire(ctx, minuteKey, minuteWindow)
	pipe.Expire(ctx, hourKey, hourWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}

	if int(minuteCount.Val()) > r.settings.MaxPerMinute {
		r.rollback(ctx, member, minuteKey, hourKey)
		wait, err := r.oldestWait(ctx, minuteKey, minuteWindow, now)
		if err != nil {
			return err
		}
		return rejectMinute(wait)
	}

	if int(hourCount.Val()) > r.settings.MaxPerHour {
		r.rollback(ctx, member, minuteKey, hourKey)
		wait, err := r.oldestWait(ctx, hourKey, hourWindow, now)
		if err != nil {
			return err
		}
		return rejectHour(wait)
	}

	return nil
}

func (r *RedisLimiter) Status(ctx context.Context) (Status, error) {
	now := time.Now()
	minuteKey := r.keyPrefix + "minute"
	hourKey := r.keyPrefix + "hour"

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, minuteKey, "0", nanoScore(now.Add(-minuteWindow)))
	pipe.ZRemRangeByScore(ctx, hourKey, "0", nanoScore(now.Add(-hourWindow)))
	minuteCount := pipe.ZCard(ctx, minuteKey)
	hourCount := pipe.ZCard(ctx, hourKey)
	minuteOldest := pipe.ZRangeWithScores(ctx, minuteKey, 0, 0)
	hourOldest := pipe.ZRangeWithScores(ctx, hourKey, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return Status{}, fmt.Errorf("rate limit status: %w", err)
	}

	st := Status{
		MinuteRemaining: clamp(r.settings.MaxPerMinute - int(minuteCount.Val())),
		HourRemaining:   clamp(r.settings.MaxPerHour - int(hourCount.Val())),
		MinuteResetAt:   now,
		HourResetAt:     now,
	}
	if zs := minuteOldest.Val(); len(zs) > 0 {
		st.MinuteResetAt = time.Unix(0, int64(zs[0].Score)).Add(minuteWindow)
	}
	if zs := hourOldest.Val(); len(zs) > 0 {
		st.HourResetAt = time.Unix(0, int64(zs[0].Score)).Add(hourWindow)
	}
	return st, nil
}

func (r *RedisLimiter) rollback(ctx context.Context, member string, keys ...string) {
	for _, key := range keys {
		r.client.ZRem(ctx, key, member)
	}
}

func (r *RedisLimiter) oldestWait(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	zs, err := r.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit oldest entry: %w", err)
	}
	if len(zs) == 0 {
		return 0, nil
	}
	oldest := time.Unix(0, int64(zs[0].Score))
	wait := int(math.Ceil(oldest.Add(window).Sub(now).Seconds()))
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func nanoScore(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}
