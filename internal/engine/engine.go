// Package engine implements bidirectional bookmark synchronization: a full
// reconciliation pass against the server's bookmark set, incremental
// handling of local tree events, and application of server-pushed changes
// to the local tree.
//
// The engine is single-writer in spirit: the only concurrency-control
// primitives are the full-sync in-flight phase and the guard flags in
// SyncState. A local event racing a running full sync is resolved by
// last-write-wins, which is the accepted consistency model.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/localstore"
)

// DefaultSyncFolderTitle is the reserved marker name of the local folder
// whose contents are mirrored to the server.
const DefaultSyncFolderTitle = "Synced Bookmarks"

// DefaultMaxDepth bounds ancestor walks and index traversals against
// corrupted or pathological trees.
const DefaultMaxDepth = 10

// APIClient is the server API surface the engine needs. *api.Client
// satisfies it; tests substitute a fake.
type APIClient interface {
	Token() string
	ListBookmarks(ctx context.Context) ([]bookmarks.Bookmark, error)
	CreateBookmark(ctx context.Context, p bookmarks.Payload, position int) (*bookmarks.Bookmark, error)
	UpdateBookmark(ctx context.Context, id int64, p bookmarks.Payload, position int) (*bookmarks.Bookmark, error)
	DeleteBookmark(ctx context.Context, id int64) error
	SyncBookmark(ctx context.Context, req bookmarks.SyncRequest) (*bookmarks.SyncResult, error)
	SearchByURL(ctx context.Context, url string) ([]bookmarks.Bookmark, error)
}

// Mapper is the persisted local-id to remote-id mapping. *idmap.Store
// satisfies it.
type Mapper interface {
	Record(ctx context.Context, localID string, remoteID int64) error
	Lookup(ctx context.Context, localID string) (int64, bool, error)
	Forget(ctx context.Context, localID string) error
}

// Config holds engine configuration.
type Config struct {
	// SyncFolderTitle is the reserved sync-folder name.
	SyncFolderTitle string

	// MaxDepth bounds tree walks.
	MaxDepth int

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncFolderTitle: DefaultSyncFolderTitle,
		MaxDepth:        DefaultMaxDepth,
		Logger:          log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine drives synchronization between a local bookmark tree and the
// server-side store.
type Engine struct {
	store  localstore.Store
	ids    Mapper
	api    APIClient
	state  *SyncState
	config *Config

	fullSync *phaseGate
}

// New creates an engine. A nil config uses DefaultConfig.
func New(store localstore.Store, ids Mapper, client APIClient, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncFolderTitle == "" {
		config.SyncFolderTitle = DefaultSyncFolderTitle
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		store:    store,
		ids:      ids,
		api:      client,
		state:    NewSyncState(),
		config:   config,
		fullSync: newPhaseGate(),
	}
}

// State exposes the guard flags, for bulk import/export callers.
func (e *Engine) State() *SyncState { return e.state }

// EnsureSyncFolder finds the reserved sync folder under the vendor default
// parent, creating it if absent.
func (e *Engine) EnsureSyncFolder(ctx context.Context) (localstore.Node, error) {
	parentID := e.store.DefaultParentID()

	children, err := e.store.GetChildren(ctx, parentID)
	if err != nil {
		return localstore.Node{}, fmt.Errorf("failed to list default folder: %w", err)
	}
	for _, child := range children {
		if child.IsFolder() && child.Title == e.config.SyncFolderTitle {
			return child, nil
		}
	}

	folder, err := e.store.Create(ctx, parentID, e.config.SyncFolderTitle, "")
	if err != nil {
		return localstore.Node{}, fmt.Errorf("failed to create sync folder: %w", err)
	}
	e.config.Logger.Printf("Created sync folder %s", folder.ID)
	return folder, nil
}

// syncScope walks the parent chain of a node, bounded by MaxDepth, looking
// for the reserved sync folder. It returns whether the node is in sync
// scope and, when it is, the sync folder's identifier.
func (e *Engine) syncScope(ctx context.Context, node localstore.Node) (bool, localstore.NodeID, error) {
	current := node
	for depth := 0; current.ParentID != ""; depth++ {
		if depth >= e.config.MaxDepth {
			e.config.Logger.Printf("Warning: ancestor walk for %q exceeded max depth %d, stopping", node.Title, e.config.MaxDepth)
			return false, "", nil
		}

		parent, err := e.store.Get(ctx, current.ParentID)
		if err != nil {
			return false, "", fmt.Errorf("failed to walk ancestors of %q: %w", node.Title, err)
		}
		if parent.IsFolder() && parent.Title == e.config.SyncFolderTitle {
			return true, parent.ID, nil
		}
		current = parent
	}
	return false, "", nil
}
