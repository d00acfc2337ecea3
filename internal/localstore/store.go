// Package localstore models the local (browser-native) bookmark tree behind
// a capability interface, so the sync engine can run against an in-memory
// tree in tests and against whatever bridge feeds the daemon in production.
//
// The tree mirrors the browser model: nodes have an opaque identifier, a
// title, an optional URL, and exactly one parent. A node without a URL is a
// folder. Mutations fire events to subscribers regardless of who performed
// them, which is exactly why the engine needs its sync-loop guard.
package localstore

import (
	"context"
	"errors"
)

// NodeID is an opaque identifier assigned by the store.
type NodeID string

// Node is a single bookmark or folder.
type Node struct {
	ID       NodeID `json:"id"`
	ParentID NodeID `json:"parentId"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Index    int    `json:"index"`
}

// IsFolder reports whether the node is a folder (no URL).
func (n Node) IsFolder() bool { return n.URL == "" }

// EventKind identifies a tree mutation.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventRemoved EventKind = "removed"
	EventMoved   EventKind = "moved"
	EventChanged EventKind = "changed"
)

// Event describes one mutation. For EventRemoved, Subtree carries the
// removed node and all of its descendants so handlers can recurse into
// bookmarks that were deleted along with a folder.
type Event struct {
	Kind        EventKind
	Node        Node
	OldParentID NodeID // set for EventMoved
	Subtree     []Node // set for EventRemoved
}

// Listener receives tree mutation events.
type Listener func(Event)

// Query selects nodes by exact title or exact URL; zero fields match
// everything for that field.
type Query struct {
	Title string
	URL   string
}

// ErrNotFound is returned when a node identifier does not exist.
var ErrNotFound = errors.New("bookmark node not found")

// Store is the capability interface over the local bookmark tree.
type Store interface {
	// Get returns the node with the given identifier.
	Get(ctx context.Context, id NodeID) (Node, error)

	// GetChildren returns the direct children of a folder in sibling order.
	GetChildren(ctx context.Context, id NodeID) ([]Node, error)

	// Create adds a bookmark (url non-empty) or folder (url empty) under
	// parent and returns the new node.
	Create(ctx context.Context, parentID NodeID, title, url string) (Node, error)

	// Update changes the title (and url for bookmarks) of a node.
	Update(ctx context.Context, id NodeID, title, url string) (Node, error)

	// Move reparents a node.
	Move(ctx context.Context, id NodeID, newParentID NodeID) (Node, error)

	// Remove deletes a node and, for folders, its whole subtree.
	Remove(ctx context.Context, id NodeID) error

	// Search returns all nodes matching the query, anywhere in the tree.
	Search(ctx context.Context, q Query) ([]Node, error)

	// RootID returns the tree root.
	RootID() NodeID

	// DefaultParentID returns the vendor default folder under which the
	// sync folder lives ("unfiled" in the browser model).
	DefaultParentID() NodeID

	// Subscribe registers a listener for mutation events.
	Subscribe(l Listener)
}
