package sinks

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/progress"
)

// PubSubSink forwards events to a Cloud Pub/Sub topic. The channel and event
// name travel as message attributes so subscriptions can filter on them.
type PubSubSink struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubSink wraps a topic handle.
func NewPubSubSink(topic *pubsub.Topic, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{topic: topic, logger: logger.Named("pubsub_sink")}
}

// Consume publishes the batch and waits for every server acknowledgement.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.topic == nil {
		return nil
	}
	results := make([]*pubsub.PublishResult, 0, len(batch))
	channels := make([]string, 0, len(batch))
	for _, evt := range batch {
		data, err := evt.Marshal()
		if err != nil {
			s.logger.Warn("skipping unencodable event", zap.String("channel", evt.Channel), zap.Error(err))
			continue
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"channel": evt.Channel,
				"event":   evt.Name,
			},
		}))
		channels = append(channels, evt.Channel)
	}
	var errs []error
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", channels[i], err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes outstanding messages and stops the topic's background
// goroutines. The client is owned by the caller.
func (s *PubSubSink) Close(context.Context) error {
	if s == nil || s.topic == nil {
		return nil
	}
	s.topic.Stop()
	return nil
}
