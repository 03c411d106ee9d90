package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

type cachedRobots struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// robotsTransport caches robots.txt per host and retries transient TLS
// failures before falling back to allow-all.
type robotsTransport struct {
	base   http.RoundTripper
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedRobots
}

func newRobotsTransport(base http.RoundTripper, ttl time.Duration, logger *zap.Logger) *robotsTransport {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &robotsTransport{
		base:   base,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cachedRobots),
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.base.RoundTrip(req)
	}

	key := strings.ToLower(req.URL.Scheme + "://" + req.URL.Host)
	t.mu.Lock()
	entry, ok := t.cache[key]
	t.mu.Unlock()
	if ok && t.now().Before(entry.expires) {
		return entry.response(req), nil
	}

	resp, err := t.fetchWithRetry(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	entry = cachedRobots{
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    body,
		expires: t.now().Add(t.ttl),
	}
	t.mu.Lock()
	t.cache[key] = entry
	t.mu.Unlock()
	return entry.response(req), nil
}

func (t *robotsTransport) fetchWithRetry(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("robots roundtrip: %w", err)
		}
		if attempt == len(robotsRetryBackoff) {
			t.logger.Warn("robots.txt unreachable, allowing all",
				zap.String("host", req.URL.Host),
				zap.Error(err),
			)
			return &http.Response{
				StatusCode: http.StatusOK,
				Status:     "200 OK",
				Header:     make(http.Header),
				Body:       io.NopCloser(strings.NewReader(allowAllRobots)),
				Request:    req,
			}, nil
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return nil, err
		}
	}
}

func (c cachedRobots) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    c.status,
		Status:        fmt.Sprintf("%d %s", c.status, http.StatusText(c.status)),
		Header:        c.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.body)),
		ContentLength: int64(len(c.body)),
		Request:       req,
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
