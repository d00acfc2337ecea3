package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/marksync/marksync/internal/bookmarks"
)

// Topics a client may subscribe to.
const (
	TopicBookmarks = "bookmarks"
	TopicPasswords = "passwords"
)

// hubClient is one connected WebSocket with its subscription set.
type hubClient struct {
	conn   *websocket.Conn
	userID string

	mu     sync.Mutex
	topics map[string]bool
}

func (c *hubClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

func (c *hubClient) subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = true
	}
}

// Hub manages WebSocket connections and fans change notifications out to
// the affected user's subscribed clients only. A change never crosses user
// boundaries.
type Hub struct {
	clientsMu sync.RWMutex
	clients   map[*hubClient]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewHub creates a hub ready to accept connections.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: make(map[*hubClient]bool),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Close disconnects all clients and stops the hub.
func (h *Hub) Close() {
	h.cancel()

	h.clientsMu.Lock()
	for client := range h.clients {
		_ = client.conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.clients, client)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// ClientCount returns the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an authenticated request and serves the
// connection until the client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &hubClient{
		conn:   conn,
		userID: userID,
		topics: make(map[string]bool),
	}

	h.clientsMu.Lock()
	h.clients[client] = true
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Client connected for user %s (total: %d)", userID, clientCount)

	h.writeMessage(client, map[string]string{
		"type":    "connection",
		"message": "connected",
	})

	h.wg.Add(1)
	go h.readLoop(client)
}

// readLoop processes client messages: subscription requests and heartbeat
// pings. Everything else is ignored.
func (h *Hub) readLoop(client *hubClient) {
	defer h.wg.Done()
	defer h.removeClient(client)

	for {
		_, data, err := client.conn.Read(h.ctx)
		if err != nil {
			return
		}

		var msg struct {
			Type          string   `json:"type"`
			Subscriptions []string `json:"subscriptions"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Printf("Warning: unreadable client message: %v", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			client.subscribe(msg.Subscriptions)
			h.writeMessage(client, map[string]any{
				"type":          "subscribed",
				"subscriptions": msg.Subscriptions,
			})
		case "ping":
			h.writeMessage(client, map[string]string{"type": "pong"})
		}
	}
}

func (h *Hub) removeClient(client *hubClient) {
	h.clientsMu.Lock()
	if _, exists := h.clients[client]; exists {
		delete(h.clients, client)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		_ = client.conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		h.clientsMu.Unlock()
	}
}

// NotifyBookmarkChange pushes a bookmark mutation to every client of the
// user subscribed to the bookmarks topic.
func (h *Hub) NotifyBookmarkChange(userID string, action bookmarks.Action, data bookmarks.Bookmark) {
	h.notify(userID, TopicBookmarks, map[string]any{
		"type":   "bookmark_change",
		"action": action,
		"data":   data,
	})
}

// NotifyPasswordChange pushes a password-collection change marker. The
// payload carries no secrets, only the fact that the collection changed.
func (h *Hub) NotifyPasswordChange(userID string, action string) {
	h.notify(userID, TopicPasswords, map[string]any{
		"type":   "password_change",
		"action": action,
	})
}

func (h *Hub) notify(userID, topic string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("Failed to marshal notification: %v", err)
		return
	}

	h.clientsMu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		if client.userID == userID && client.subscribed(topic) {
			targets = append(targets, client)
		}
	}
	h.clientsMu.RUnlock()

	// Send outside the read lock to avoid blocking other broadcasts.
	for _, client := range targets {
		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			h.logger.Printf("Failed to send to client: %v", err)
			h.removeClient(client)
		}
	}
}

func (h *Hub) writeMessage(client *hubClient, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	if err := client.conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Printf("Failed to send to client: %v", err)
	}
}
