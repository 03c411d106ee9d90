// Package broker fans events out to websocket clients. A client subscribes by
// sending {"action":"join","channel":"job-<id>"} and unsubscribes with
// "leave"; closing the connection leaves every channel.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/progress"
)

// Frame actions accepted from clients.
const (
	ActionJoin  = "join"
	ActionLeave = "leave"
)

// Frame is a client control message.
type Frame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Reply acknowledges or rejects a Frame.
type Reply struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config tunes per-connection behaviour.
type Config struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	maxFrameBytes       = 4096
)

// Broker is both a progress.Sink and the websocket http.Handler.
type Broker struct {
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[*client]struct{}
	channels map[string]map[*client]struct{}
	closed   bool
}

var _ progress.Sink = (*Broker)(nil)

// New creates an empty Broker.
func New(cfg Config, logger *zap.Logger) *Broker {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{
		cfg:      cfg,
		logger:   logger.Named("broker"),
		clients:  make(map[*client]struct{}),
		channels: make(map[string]map[*client]struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     b.checkOrigin,
	}
	return b
}

func (b *Broker) checkOrigin(r *http.Request) bool {
	if len(b.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range b.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		http.Error(w, "broker closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, b.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	if !b.register(c) {
		_ = conn.Close()
		return
	}
	b.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))
	go b.writeLoop(c)
	b.readLoop(c)
}

// Consume delivers each event to the clients joined to its channel. Slow
// clients whose buffers are full miss the event.
func (b *Broker) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		b.mu.RLock()
		subs := make([]*client, 0, len(b.channels[evt.Channel]))
		for c := range b.channels[evt.Channel] {
			subs = append(subs, c)
		}
		b.mu.RUnlock()
		if len(subs) == 0 {
			continue
		}
		data, err := evt.Marshal()
		if err != nil {
			b.logger.Warn("skipping unencodable event", zap.String("channel", evt.Channel), zap.Error(err))
			continue
		}
		for _, c := range subs {
			if !c.enqueue(data) {
				b.logger.Warn("client buffer full, event dropped", zap.String("channel", evt.Channel))
			}
		}
	}
	return nil
}

// Close disconnects every client and rejects new connections.
func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	b.closed = true
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()
	for _, c := range clients {
		b.remove(c)
	}
	return nil
}

// Subscribers returns the number of clients joined to channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broker) register(c *client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[c] = struct{}{}
	return true
}

func (b *Broker) join(c *client, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; !ok {
		return
	}
	subs := b.channels[channel]
	if subs == nil {
		subs = make(map[*client]struct{})
		b.channels[channel] = subs
	}
	if _, dup := subs[c]; dup {
		return
	}
	subs[c] = struct{}{}
	c.joined = append(c.joined, channel)
}

func (b *Broker) leave(c *client, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(c, channel)
	for i, ch := range c.joined {
		if ch == channel {
			c.joined = append(c.joined[:i], c.joined[i+1:]...)
			break
		}
	}
}

func (b *Broker) leaveLocked(c *client, channel string) {
	subs := b.channels[channel]
	delete(subs, c)
	if len(subs) == 0 {
		delete(b.channels, channel)
	}
}

// remove drops c from every channel and stops its writer. Safe to call twice.
func (b *Broker) remove(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		for _, ch := range c.joined {
			b.leaveLocked(c, ch)
		}
		c.joined = nil
	}
	b.mu.Unlock()
	c.stop()
}

func (b *Broker) readLoop(c *client) {
	defer b.remove(c)
	c.conn.SetReadLimit(maxFrameBytes)
	pongWait := 2 * b.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		b.reply(c, b.handleFrame(c, raw))
	}
}

func (b *Broker) handleFrame(c *client, raw []byte) Reply {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Reply{Type: "error", Error: "invalid frame"}
	}
	if frame.Channel == "" {
		return Reply{Type: "error", Action: frame.Action, Error: "channel is required"}
	}
	switch frame.Action {
	case ActionJoin:
		b.join(c, frame.Channel)
	case ActionLeave:
		b.leave(c, frame.Channel)
	default:
		return Reply{Type: "error", Action: frame.Action, Channel: frame.Channel, Error: "unknown action"}
	}
	return Reply{Type: "ack", Action: frame.Action, Channel: frame.Channel}
}

func (b *Broker) reply(c *client, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (b *Broker) writeLoop(c *client) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		b.remove(c)
		_ = c.conn.Close()
	}()
	for {
		select {
		case data := <-c.send:
			if err := b.write(c, websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := b.write(c, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(b.cfg.WriteTimeout))
			return
		}
	}
}

func (b *Broker) write(c *client, kind int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(kind, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			b.logger.Debug("websocket write failed", zap.Error(err))
		}
		return err
	}
	return nil
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// joined is guarded by Broker.mu.
	joined []string
}

func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}
