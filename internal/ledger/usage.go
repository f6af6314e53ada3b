// AngelaMos | 2026
// usage.go

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const usageDayLayout = "2006-01-02"

// UsageStore keeps per-day debit totals for the analytics procedures.
type UsageStore interface {
	Record(ctx context.Context, userID string, day time.Time, amount int64) error
	Sum(ctx context.Context, userID string, days []time.Time) (int64, error)
}

type redisUsage struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisUsage(client *redis.Client, ttl time.Duration) UsageStore {
	return &redisUsage{client: client, ttl: ttl}
}

func usageKey(userID string, day time.Time) string {
	return "usage:" + userID + ":" + day.UTC().Format(usageDayLayout)
}

func (u *redisUsage) Record(
	ctx context.Context,
	userID string,
	day time.Time,
	amount int64,
) error {
	key := usageKey(userID, day)

	_, err := u.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, amount)
		pipe.Expire(ctx, key, u.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	return nil
}

func (u *redisUsage) Sum(
	ctx context.Context,
	userID string,
	days []time.Time,
) (int64, error) {
	if len(days) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(days))
	for _, d := range days {
		keys = append(keys, usageKey(userID, d))
	}

	values, err := u.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("sum usage: %w", err)
	}

	var total int64
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, parseErr := strconv.ParseInt(s, 10, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("sum usage: parse %q: %w", s, parseErr)
		}
		total += n
	}

	return total, nil
}

// window returns the UTC days covering today and the daysBack-1 days before
// it, newest first.
func window(now time.Time, daysBack int) []time.Time {
	today := now.UTC().Truncate(24 * time.Hour)
	days := make([]time.Time, 0, daysBack)
	for i := range daysBack {
		days = append(days, today.AddDate(0, 0, -i))
	}
	return days
}
