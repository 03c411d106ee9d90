package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/site-scraper/internal/progress"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		jobEvent("9", scrape.JobStatusProcessing, 80),
		{Channel: "misc", Name: "ping", Payload: 1, TS: time.Now()},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	require.Equal(t, "job-9", fields["channel"])
	require.Equal(t, "9", fields["job_id"])
	require.Equal(t, int64(80), fields["progress"])
	require.Contains(t, entries[1].ContextMap(), "payload")
}
