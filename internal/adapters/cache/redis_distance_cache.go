package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"donation-logistics-service/internal/platform/obs"
	"donation-logistics-service/internal/ports"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "distance:"

// RedisDistanceCache keeps one hash per origin; each field is a destination
// key and each value is "meters,seconds". The hash expires ttl after the
// last write.
type RedisDistanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDistanceCache(client *redis.Client, ttl time.Duration) *RedisDistanceCache {
	return &RedisDistanceCache{client: client, ttl: ttl}
}

var _ ports.DistanceCache = (*RedisDistanceCache)(nil)

func (r *RedisDistanceCache) GetMany(
	ctx context.Context,
	origin string,
	destinations []string,
) (_ map[string]ports.DistanceResult, err error) {
	defer obs.Time(ctx, "distance.redis.GetMany")(&err)

	if r.client == nil {
		return nil, errors.New("distance cache: redis client is nil")
	}
	if origin == "" {
		return nil, errors.New("get distance cache: origin must not be empty")
	}

	uniq := uniqueKeys(destinations)
	out := make(map[string]ports.DistanceResult, len(uniq))
	if len(uniq) == 0 {
		return out, nil
	}

	vals, err := r.client.HMGet(ctx, redisKeyPrefix+origin, uniq...).Result()
	if err != nil {
		return nil, fmt.Errorf("get distance cache: hmget: %w", err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		res, err := decodeResult(s)
		if err != nil {
			return nil, fmt.Errorf("get distance cache dest=%q: %w", uniq[i], err)
		}
		out[uniq[i]] = res
	}

	return out, nil
}

func (r *RedisDistanceCache) PutMany(
	ctx context.Context,
	origin string,
	results map[string]ports.DistanceResult,
) (err error) {
	defer obs.Time(ctx, "distance.redis.PutMany")(&err)

	if r.client == nil {
		return errors.New("distance cache: redis client is nil")
	}
	if origin == "" {
		return errors.New("insert distance cache: origin must not be empty")
	}
	if len(results) == 0 {
		return nil
	}

	fields := make([]any, 0, 2*len(results))
	for dest, res := range results {
		if strings.TrimSpace(dest) == "" {
			return errors.New("insert distance cache: empty destination key")
		}
		fields = append(fields, dest, encodeResult(res))
	}

	key := redisKeyPrefix + origin
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields...)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert distance cache: pipeline: %w", err)
	}
	return nil
}

func encodeResult(r ports.DistanceResult) string {
	return strconv.Itoa(r.DistanceMeters) + "," + strconv.Itoa(r.DurationSeconds)
}

func decodeResult(s string) (ports.DistanceResult, error) {
	meters, seconds, ok := strings.Cut(s, ",")
	if !ok {
		return ports.DistanceResult{}, fmt.Errorf("malformed cached value %q", s)
	}
	m, err := strconv.Atoi(meters)
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf("malformed cached meters %q: %w", meters, err)
	}
	sec, err := strconv.Atoi(seconds)
	if err != nil {
		return ports.DistanceResult{}, fmt.Errorf("malformed cached seconds %q: %w", seconds, err)
	}
	return ports.DistanceResult{DistanceMeters: m, DurationSeconds: sec}, nil
}
