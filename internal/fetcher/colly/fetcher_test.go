package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

func newSiteServer(t *testing.T, robotsHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(robotsHits, 1)
		_, _ = io.WriteString(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html><head><title>Home</title></head><body>"+r.Header.Get("X-Trace")+"</body></html>")
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "secret")
	})
	mux.HandleFunc("/missing", http.NotFound)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	var hits int32
	server := newSiteServer(t, &hits)
	f := New(Config{UserAgent: "test-agent", RespectRobots: true, Timeout: time.Second}, zap.NewNop())

	resp, err := f.Fetch(context.Background(), scrape.FetchRequest{
		URL:     server.URL + "/",
		Headers: http.Header{"X-Trace": {"trace-1"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "trace-1")
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))

	// Revisiting the same URL is allowed and robots.txt comes from the cache.
	_, err = f.Fetch(context.Background(), scrape.FetchRequest{URL: server.URL + "/"})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchHonoursRobots(t *testing.T) {
	t.Parallel()

	var hits int32
	server := newSiteServer(t, &hits)

	strict := New(Config{RespectRobots: true}, nil)
	_, err := strict.Fetch(context.Background(), scrape.FetchRequest{URL: server.URL + "/private"})
	require.ErrorIs(t, err, ErrRobotsDisallowed)

	lax := New(Config{RespectRobots: false}, nil)
	resp, err := lax.Fetch(context.Background(), scrape.FetchRequest{URL: server.URL + "/private"})
	require.NoError(t, err)
	require.Equal(t, "secret", string(resp.Body))
}

func TestFetchNon2xxIsError(t *testing.T) {
	t.Parallel()

	var hits int32
	server := newSiteServer(t, &hits)
	f := New(Config{}, nil)

	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: server.URL + "/missing"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{}, nil)
	_, err := f.Fetch(ctx, scrape.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.Error(t, err)
}

func TestConfigureHooks(t *testing.T) {
	t.Parallel()

	var (
		result   scrape.FetchResponse
		fetchErr error
	)
	hooks := &stubHooks{}
	configureHooks(hooks, scrape.FetchRequest{Headers: http.Header{"X-Trace": {"yes"}}}, time.Now(), &result, &fetchErr)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	require.Equal(t, "yes", req.Headers.Get("X-Trace"))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.Error(t, fetchErr)
	require.True(t, strings.HasPrefix(fetchErr.Error(), "status 502"))
}

type stubRoundTripper struct {
	calls int32
	err   error
}

func (s *stubRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&s.calls, 1)
	return nil, s.err
}

func TestRobotsTransportFallsBackToAllowAll(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{err: context.DeadlineExceeded}
	transport := newRobotsTransport(base, time.Minute, zap.NewNop())
	robotsRetryBackoffCopy := len(robotsRetryBackoff)

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, allowAllRobots, string(body))
	require.Equal(t, int32(robotsRetryBackoffCopy+1), atomic.LoadInt32(&base.calls))
}

func TestRobotsTransportNonTransientError(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{err: errors.New("connection refused")}
	transport := newRobotsTransport(base, time.Minute, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	_, err := transport.RoundTrip(req)
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&base.calls))
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
