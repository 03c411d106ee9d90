package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/extract"
	"github.com/JakeFAU/site-scraper/internal/progress"
	"github.com/JakeFAU/site-scraper/internal/progress/broker"
	"github.com/JakeFAU/site-scraper/internal/scheduler"
	"github.com/JakeFAU/site-scraper/internal/scrape"
	"github.com/JakeFAU/site-scraper/internal/storage/memory"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

type staticDiscoverer struct{ pages []scrape.Page }

func (d staticDiscoverer) Discover(_ context.Context, _ scrape.DiscoverRequest) ([]scrape.Page, error) {
	return d.pages, nil
}

// TestSubmitStreamsUpdatesOverWebsocket drives a real scheduler through the
// router and watches its events arrive on /v1/ws.
func TestSubmitStreamsUpdatesOverWebsocket(t *testing.T) {
	t.Parallel()

	b := broker.New(broker.Config{}, nil)
	hub := progress.NewHub(progress.Config{MaxBatchWait: 5 * time.Millisecond}, b)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Close(ctx)
	})

	mgr, err := scheduler.New(scheduler.Config{}, memory.NewJobStore(), staticDiscoverer{}, extract.NewOrchestrator(nil, nil, nil), hub, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	srv := httptest.NewServer(NewServer(mgr, b, Options{APIKey: "k"}, nil).Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?api_key=k"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	// Submit before Start so the job cannot finish before the client joins.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/jobs", strings.NewReader(`{"domain":"example.com"}`))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "k")
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var submitted submitResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&submitted))

	require.NoError(t, conn.WriteJSON(broker.Frame{Action: broker.ActionJoin, Channel: scrape.JobChannel(submitted.JobID)}))
	var ack broker.Reply
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "ack", ack.Type)

	require.NoError(t, mgr.Start(t.Context()))

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env progress.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		require.Equal(t, scrape.EventJobUpdate, env.Event)
		var u scrape.JobUpdate
		require.NoError(t, json.Unmarshal(env.Data, &u))
		require.Equal(t, submitted.JobID, u.JobID)
		if u.Status == scrape.JobStatusComplete {
			require.Equal(t, 100, u.Progress)
			require.Equal(t, "Scrape completed with minimal results", u.Message)
			break
		}
	}
}
