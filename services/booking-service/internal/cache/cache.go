package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/redis/go-redis/v9"
)

const weekdaysKey = "availability:weekdays"

// WeekdayCache keeps the active-weekday mask behind the month view in Redis.
type WeekdayCache struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewWeekdayCache(rdb redis.Cmdable, prefix string, ttl time.Duration) *WeekdayCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WeekdayCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *WeekdayCache) key() string { return c.prefix + weekdaysKey }

func (c *WeekdayCache) GetWeekdays(ctx context.Context) (availability.WeekdaySet, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		// Unreadable value; treat as a miss so it gets rewritten.
		return 0, false, nil
	}
	return availability.WeekdaySet(v), true, nil
}

func (c *WeekdayCache) SetWeekdays(ctx context.Context, set availability.WeekdaySet) error {
	return c.rdb.Set(ctx, c.key(), strconv.FormatUint(uint64(set), 10), c.ttl).Err()
}

func (c *WeekdayCache) InvalidateWeekdays(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key()).Err()
}

var _ availability.WeekdayCache = (*WeekdayCache)(nil)
