// Package wsclient maintains the push channel to the marksync server: a
// single WebSocket connection with explicit lifecycle state, heartbeat
// keep-alive, topic subscription, and exponential-backoff reconnection.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/marksync/marksync/internal/bookmarks"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
)

// Handler receives the raw JSON of a message of a registered type.
type Handler func(raw json.RawMessage)

// Config holds client configuration.
type Config struct {
	// ServerURL is the HTTP base URL of the server; the WebSocket URL is
	// derived by swapping the scheme.
	ServerURL string

	// TokenProvider returns the current bearer token, empty when logged
	// out. Connecting without a token is a no-op.
	TokenProvider func() string

	// Subscriptions announced after every successful open.
	Subscriptions []string

	// OnBookmarkChange receives pushed bookmark mutations.
	OnBookmarkChange func(ctx context.Context, change bookmarks.Change)

	// HeartbeatInterval between ping messages (default 25s).
	HeartbeatInterval time.Duration

	// BaseReconnectDelay for the first reconnect attempt (default 1s);
	// attempt n waits base * 2^(n-1).
	BaseReconnectDelay time.Duration

	// MaxReconnectAttempts before giving up (default 5). Beyond the cap a
	// manual Connect is required.
	MaxReconnectAttempts int

	// ProbeTimeout bounds the /health availability check that gates every
	// connection attempt (default 5s).
	ProbeTimeout time.Duration

	// HTTPClient used for the health probe and the WebSocket dial.
	HTTPClient *http.Client

	// Logger for connection activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for the given server.
func DefaultConfig(serverURL string, token func() string) *Config {
	return &Config{
		ServerURL:            serverURL,
		TokenProvider:        token,
		Subscriptions:        []string{"bookmarks", "passwords"},
		HeartbeatInterval:    25 * time.Second,
		BaseReconnectDelay:   time.Second,
		MaxReconnectAttempts: 5,
		ProbeTimeout:         5 * time.Second,
		HTTPClient:           &http.Client{},
		Logger:               log.New(os.Stderr, "[ws] ", log.LstdFlags),
	}
}

// Client owns one WebSocket connection to the server.
type Client struct {
	config *Config

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	attempts    int
	intentional bool
	connCancel  context.CancelFunc
	timer       *time.Timer

	handlersMu sync.Mutex
	handlers   map[string][]Handler

	wg sync.WaitGroup
}

// New creates a client; Connect must be called to open the channel.
func New(config *Config) *Client {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 25 * time.Second
	}
	if config.BaseReconnectDelay <= 0 {
		config.BaseReconnectDelay = time.Second
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = 5
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[ws] ", log.LstdFlags)
	}
	return &Client{
		config:   config,
		state:    StateDisconnected,
		handlers: make(map[string][]Handler),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns the consecutive failed-connection counter.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// OnMessage registers an additional handler for a message type. Multiple
// handlers per type are allowed and run in registration order.
func (c *Client) OnMessage(msgType string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
}

// Connect opens the channel. It is a no-op while connecting or open.
// Connecting requires a token and a server that answers the health probe;
// a dead server is skipped rather than hammered in a tight retry loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentional = false
	c.mu.Unlock()

	token := c.config.TokenProvider()
	if token == "" {
		c.config.Logger.Printf("Not logged in, skipping WebSocket connect")
		c.setState(StateDisconnected)
		return nil
	}

	if !c.serverAvailable(ctx) {
		c.config.Logger.Printf("Server unavailable, skipping WebSocket connect")
		c.setState(StateDisconnected)
		c.scheduleReconnect()
		return nil
	}

	wsURL := deriveSocketURL(c.config.ServerURL, token)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
	})
	if err != nil {
		c.config.Logger.Printf("WebSocket dial failed: %v", err)
		c.setState(StateDisconnected)
		c.scheduleReconnect()
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.connCancel = cancel
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.config.Logger.Printf("WebSocket connected")

	if err := c.send(connCtx, map[string]any{
		"type":          "subscribe",
		"subscriptions": c.config.Subscriptions,
	}); err != nil {
		c.config.Logger.Printf("Warning: failed to send subscription: %v", err)
	}

	c.wg.Add(2)
	go c.heartbeatLoop(connCtx, conn)
	go c.readLoop(connCtx, conn)
	return nil
}

// Disconnect performs an intentional clean close, which suppresses the
// automatic-reconnect path for this closure.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	conn := c.conn
	cancel := c.connCancel
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if conn != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) serverAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.config.ServerURL, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// deriveSocketURL swaps the HTTP scheme for its WebSocket equivalent and
// appends the token as a query parameter.
func deriveSocketURL(serverURL, token string) string {
	base := strings.TrimRight(strings.TrimSpace(serverURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?token=" + url.QueryEscape(token)
}

func (c *Client) send(ctx context.Context, msg any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(ctx, map[string]string{"type": "ping"}); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(err)
			return
		}
		c.handleMessage(ctx, data)
	}
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	intentional := c.intentional
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if intentional || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.config.Logger.Printf("WebSocket closed")
		return
	}

	c.config.Logger.Printf("WebSocket closed unexpectedly: %v", err)
	c.scheduleReconnect()
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.config.Logger.Printf("Warning: failed to parse message: %v", err)
		return
	}

	switch envelope.Type {
	case "connection", "subscribed":
		c.config.Logger.Printf("Server message: %s", envelope.Type)
	case "pong":
		// Heartbeat acknowledged; nothing to do.
	case "bookmark_change":
		var change bookmarks.Change
		if err := json.Unmarshal(data, &change); err != nil {
			c.config.Logger.Printf("Warning: failed to parse bookmark change: %v", err)
			break
		}
		if c.config.OnBookmarkChange != nil {
			c.config.OnBookmarkChange(ctx, change)
		}
	case "password_change":
		// Dispatched to registered handlers below.
	default:
		c.config.Logger.Printf("Unknown message type %q", envelope.Type)
	}

	c.handlersMu.Lock()
	handlers := make([]Handler, len(c.handlers[envelope.Type]))
	copy(handlers, c.handlers[envelope.Type])
	c.handlersMu.Unlock()
	for _, h := range handlers {
		h(json.RawMessage(data))
	}
}

// scheduleReconnect arms a timer for the next attempt, backing off
// exponentially. Beyond the attempt cap no further automatic attempts are
// made.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.config.MaxReconnectAttempts {
		c.mu.Unlock()
		c.config.Logger.Printf("Reconnect attempts exhausted, giving up")
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := reconnectDelay(c.config.BaseReconnectDelay, attempt)
	c.timer = time.AfterFunc(delay, func() {
		_ = c.Connect(context.Background())
	})
	c.mu.Unlock()

	c.config.Logger.Printf("Scheduling reconnect attempt %d in %s", attempt, delay)
}

// reconnectDelay computes base * 2^(attempt-1).
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
