package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/progress"
)

// RedisSink publishes every event to the Redis pub/sub channel of the same
// name, so external subscribers can follow "job-<id>" directly.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisSink wraps a go-redis client. prefix is prepended to every channel.
func NewRedisSink(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{client: client, prefix: prefix, logger: logger.Named("redis_sink")}
}

// Consume publishes each event as a JSON envelope. Marshal failures skip the
// event; publish failures are joined and returned after the whole batch.
func (s *RedisSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.client == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		data, err := evt.Marshal()
		if err != nil {
			s.logger.Warn("skipping unencodable event", zap.String("channel", evt.Channel), zap.Error(err))
			continue
		}
		if err := s.client.Publish(ctx, s.prefix+evt.Channel, data).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Channel, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface. The client is owned by the caller.
func (s *RedisSink) Close(context.Context) error {
	return nil
}
