package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/i474232898/ensemble-forecast/internal/weather"
)

const redisKeyPrefix = "forecast:records:"

// RedisStore keeps one JSON list of records per location, trimmed to the
// newest maxHistory entries and expiring maxAge after the last write.
type RedisStore struct {
	client     *redisv9.Client
	maxHistory int
	maxAge     time.Duration
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, maxHistory int, maxAge time.Duration) (*RedisStore, error) {
	client := redisv9.NewClient(&redisv9.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisStore{client: client, maxHistory: maxHistory, maxAge: maxAge}, nil
}

func redisKey(locationID string) string {
	return redisKeyPrefix + locationID
}

// SaveRecords appends records to their locations' lists in one transaction.
func (s *RedisStore) SaveRecords(ctx context.Context, records []weather.ForecastRecord) error {
	byLocation := make(map[string][]any)
	var order []string
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		if _, ok := byLocation[r.LocationID]; !ok {
			order = append(order, r.LocationID)
		}
		byLocation[r.LocationID] = append(byLocation[r.LocationID], data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		for _, id := range order {
			key := redisKey(id)
			pipe.RPush(ctx, key, byLocation[id]...)
			if s.maxHistory > 0 {
				pipe.LTrim(ctx, key, int64(-s.maxHistory), -1)
			}
			if s.maxAge > 0 {
				pipe.Expire(ctx, key, s.maxAge)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save records: %w", err)
	}
	return nil
}

// Records returns the records of a location whose target time lies in
// [from, to], ordered by target time.
func (s *RedisStore) Records(ctx context.Context, locationID string, from, to time.Time) ([]weather.ForecastRecord, error) {
	items, err := s.client.LRange(ctx, redisKey(locationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read records: %w", err)
	}

	var out []weather.ForecastRecord
	for _, item := range items {
		var r weather.ForecastRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if inRange(r.TargetTime, from, to) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	sortRecords(out)
	return out, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
