package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"jobsync/internal/domain"
)

// RedisSink keeps per-day run outcome counters in Redis. Counters expire
// after the configured retention so the keyspace stays bounded.
type RedisSink struct {
	client *redis.Client
	config domain.AnalyticsConfig
}

func NewRedisSink(client *redis.Client, config domain.AnalyticsConfig) *RedisSink {
	return &RedisSink{client: client, config: config}
}

// Record increments the daily counter for the run's final status.
// Failures are logged and never affect the run outcome.
func (s *RedisSink) Record(ctx context.Context, run domain.Run) {
	if !s.config.Enabled {
		return
	}
	if err := s.write(ctx, run); err != nil {
		log.Printf("analytics: record run %s: %v", run.ID, err)
	}
}

func (s *RedisSink) write(ctx context.Context, run domain.Run) error {
	key := buildKey(string(run.Status), run.FinishedAt)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(status string, t time.Time) string {
	return fmt.Sprintf("jobsync:runs:%s:%s", status, dayBucket(t))
}

func dayBucket(t time.Time) string {
	return t.UTC().Format("20060102")
}
