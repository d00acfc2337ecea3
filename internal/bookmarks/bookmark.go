// Package bookmarks defines the plaintext bookmark record shared between the
// client sync engine and the server API, along with the change-event types
// carried over the WebSocket channel.
package bookmarks

import (
	"fmt"
	"strings"
	"time"
)

// Action describes what the server did (or decided) for a bookmark.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionNone    Action = "none"
)

// Bookmark is the decrypted server-side record as it travels over the API.
// Position lives outside the encrypted payload so the server can sort
// without decrypting.
type Bookmark struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Folder      string    `json:"folder"`
	Tags        []string  `json:"tags"`
	Description string    `json:"description"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Payload is the portion of a bookmark that is stored encrypted.
type Payload struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Folder      string   `json:"folder"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

// Validate rejects payloads that must never reach the wire: the URL and
// title are required, though the URL is deliberately permissive about
// scheme (javascript:, data:, about: and friends are all legal browser
// bookmark targets).
func (p Payload) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("bookmark url is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("bookmark title is required")
	}
	return nil
}

// SyncRequest is the body of POST /bookmarks/sync. ID is the server-side
// identifier when the client has one mapped; zero means unknown.
type SyncRequest struct {
	ID             int64    `json:"id,omitempty"`
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Folder         string   `json:"folder"`
	Tags           []string `json:"tags"`
	Description    string   `json:"description"`
	Position       int      `json:"position"`
	IsInSyncFolder bool     `json:"isInSyncFolder"`
}

// SyncResult is the server's reconciliation decision. Bookmark is set for
// created and updated actions.
type SyncResult struct {
	Action   Action    `json:"action"`
	Message  string    `json:"message,omitempty"`
	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// Change is a server-pushed mutation notification.
type Change struct {
	Action Action   `json:"action"`
	Data   Bookmark `json:"data"`
}
