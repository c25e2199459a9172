// Package hub fans JSON messages out to connected WebSocket clients. Every client owns one FIFO
// queue drained by a single writer goroutine, so messages reach a socket in the order they were
// queued and no two goroutines write to the same connection.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bushportal/livecoding/internal/logging"
)

const (
	// DefaultSendBuffer is the default per-client queue capacity.
	DefaultSendBuffer = 256
	// DefaultWriteTimeout bounds one frame write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultPingInterval is how often idle clients are pinged.
	DefaultPingInterval = 30 * time.Second
)

// Conn is the write side of a WebSocket connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Option customizes hub construction.
type Option func(*Hub)

// WithSendBuffer configures per-client queue capacity.
func WithSendBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.sendBuffer = size
		}
	}
}

// WithWriteTimeout configures the deadline applied to each frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(h *Hub) {
		if timeout > 0 {
			h.writeTimeout = timeout
		}
	}
}

// WithPingInterval configures keepalive pings. Zero or negative disables them.
func WithPingInterval(interval time.Duration) Option {
	return func(h *Hub) {
		h.pingInterval = interval
	}
}

// WithLogger configures the logger used for client lifecycle records.
func WithLogger(logger *log.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Hub tracks connected clients and the session each one follows.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*Client
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *log.Logger
}

// New creates an empty hub.
func New(options ...Option) *Hub {
	h := &Hub{
		clients:      make(map[string]*Client),
		sendBuffer:   DefaultSendBuffer,
		writeTimeout: DefaultWriteTimeout,
		pingInterval: DefaultPingInterval,
		logger:       logging.Discard(),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(h)
	}
	return h
}

// Client is one registered connection.
type Client struct {
	id     string
	conn   Conn
	queue  chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	closed       bool
	subscription string
}

// ID returns the hub-assigned client id.
func (c *Client) ID() string {
	return c.id
}

// Context is cancelled when the client is unregistered. Runs started by the client derive from it.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Open reports whether the client still accepts messages.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Subscribed reports whether the client follows sessionID.
func (c *Client) Subscribed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessionID = strings.TrimSpace(sessionID)
	return sessionID != "" && c.subscription == sessionID
}

// Subscription returns the followed session id, or empty when unsubscribed.
func (c *Client) Subscription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription
}

// Register adds an open, unsubscribed client and starts its writer.
func (h *Hub) Register(conn Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		queue:  make(chan []byte, h.sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client registered", "client_id", client.id, "clients", total)
	go h.writeLoop(client)
	return client
}

// Unregister removes the client, closes its queue and cancels its context. Safe to call twice.
func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	_, known := h.clients[client.id]
	delete(h.clients, client.id)
	total := len(h.clients)
	h.mu.Unlock()

	if client.shutdown() && known {
		h.logger.Info("client unregistered", "client_id", client.id, "clients", total)
	}
}

// Subscribe points the client at sessionID, replacing any earlier subscription. The session need not
// exist; only future broadcasts are delivered.
func (h *Hub) Subscribe(client *Client, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if client == nil || sessionID == "" {
		return errors.New("subscribe: session id is required")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return fmt.Errorf("subscribe %q: client %s is closed", sessionID, client.id)
	}
	client.subscription = sessionID
	return nil
}

// Send queues msg for one client. It reports false when the client is closed or was just closed
// because its queue is full.
func (h *Hub) Send(client *Client, msg any) bool {
	if client == nil {
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode message", "client_id", client.id, "error", err)
		return false
	}
	return h.enqueue(client, data)
}

// Broadcast queues msg for every open client subscribed to sessionID except the given client and
// returns how many clients accepted it.
func (h *Hub) Broadcast(sessionID string, msg any, except *Client) int {
	sessionID = strings.TrimSpace(sessionID)
	targets := h.subscribers(sessionID, except)
	if len(targets) == 0 {
		return 0
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode broadcast", "session_id", sessionID, "error", err)
		return 0
	}

	delivered := 0
	for _, client := range targets {
		if h.enqueue(client, data) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unregisters every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.Unregister(client)
	}
}

func (h *Hub) subscribers(sessionID string, except *Client) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0)
	for _, client := range h.clients {
		if client == except || !client.Subscribed(sessionID) {
			continue
		}
		out = append(out, client)
	}
	return out
}

func (h *Hub) enqueue(client *Client, data []byte) bool {
	accepted, full := client.offer(data)
	if full {
		h.logger.Warn("send queue full, closing slow client", "client_id", client.id, "capacity", cap(client.queue))
		h.Unregister(client)
	}
	return accepted
}

func (h *Hub) writeLoop(client *Client) {
	var ping <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		if err := client.conn.Close(); err != nil {
			h.logger.Debug("close connection", "client_id", client.id, "error", err)
		}
	}()

	for {
		select {
		case <-client.ctx.Done():
			return
		case data, ok := <-client.queue:
			if !ok {
				return
			}
			if err := h.write(client, websocket.TextMessage, data); err != nil {
				h.logger.Warn("write failed", "client_id", client.id, "error", err)
				h.Unregister(client)
				return
			}
		case <-ping:
			if err := h.write(client, websocket.PingMessage, nil); err != nil {
				h.logger.Debug("ping failed", "client_id", client.id, "error", err)
				h.Unregister(client)
				return
			}
		}
	}
}

func (h *Hub) write(client *Client, messageType int, data []byte) error {
	if err := client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := client.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// offer performs a non-blocking enqueue. full is true only when an open client's queue had no room.
func (c *Client) offer(data []byte) (accepted bool, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.queue <- data:
		return true, false
	default:
		return false, true
	}
}

// shutdown marks the client closed and reports whether this call did it.
func (c *Client) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.cancel()
	close(c.queue)
	return true
}
