package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grcgate/grcgate/internal/config"
)

// Sink receives events after they are durably appended
type Sink interface {
	Publish(ctx context.Context, e *Event) error
	Close() error
}

// streamClient is the part of the go-redis client the sink uses
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisStreamSink appends events to a Redis stream with XADD
type RedisStreamSink struct {
	client streamClient
	stream string
	maxLen int64
}

// NewRedisStreamSink connects to Redis and verifies the connection
func NewRedisStreamSink(ctx context.Context, cfg *config.RedisSinkConfig) (*RedisStreamSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisStreamSink(rdb, cfg.Stream, cfg.MaxLen), nil
}

func newRedisStreamSink(client streamClient, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Publish implements Sink
func (s *RedisStreamSink) Publish(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":         e.ID,
			"sequence":   e.Sequence,
			"tenant_id":  e.TenantID,
			"event_type": string(e.EventType),
			"severity":   string(e.Severity),
			"event":      string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close implements Sink
func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}
