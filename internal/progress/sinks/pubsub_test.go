package sinks

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/site-scraper/internal/progress"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

func TestPubSubSinkPublishesWithAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "scraper-events")
	require.NoError(t, err)

	sink := NewPubSubSink(topic, nil)
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		jobEvent("7", scrape.JobStatusProcessing, 30),
		jobEvent("7", scrape.JobStatusComplete, 100),
	}))
	require.NoError(t, sink.Close(ctx))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	var progresses []int
	for _, msg := range msgs {
		require.Equal(t, "job-7", msg.Attributes["channel"])
		require.Equal(t, scrape.EventJobUpdate, msg.Attributes["event"])

		var env progress.Envelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		var update scrape.JobUpdate
		require.NoError(t, json.Unmarshal(env.Data, &update))
		progresses = append(progresses, update.Progress)
	}
	require.ElementsMatch(t, []int{30, 100}, progresses)
}

func TestPubSubSinkNilTopicIsNoop(t *testing.T) {
	t.Parallel()

	sink := NewPubSubSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{jobEvent("1", scrape.JobStatusQueued, 0)}))
	require.NoError(t, sink.Close(context.Background()))
}
