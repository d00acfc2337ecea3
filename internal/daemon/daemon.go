// Package daemon runs the client-side sync process: it owns the local
// bookmark tree, feeds tree events to the sync engine, keeps the push
// channel open, persists the tree across restarts, and watches the import
// file for bulk additions.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/localstore"
	"github.com/marksync/marksync/internal/wsclient"
)

// Config holds daemon configuration.
type Config struct {
	// TreePath is where the local tree snapshot is persisted.
	TreePath string

	// SyncOnStartup runs a full sync once the daemon is up.
	SyncOnStartup bool

	// ImportFile, when set, is watched for bulk bookmark imports.
	ImportFile string

	// SyncFolderTitle mirrors the engine's reserved folder name; the
	// importer resolves folders beneath it.
	SyncFolderTitle string

	// DebounceInterval batches rapid import-file writes (default 500ms).
	DebounceInterval time.Duration

	// PersistInterval batches tree snapshot writes (default 2s).
	PersistInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncOnStartup:    true,
		SyncFolderTitle:  engine.DefaultSyncFolderTitle,
		DebounceInterval: 500 * time.Millisecond,
		PersistInterval:  2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the local tree, the sync engine, and the push channel into
// one long-running process.
type Daemon struct {
	tree   *localstore.Tree
	engine *engine.Engine
	ws     *wsclient.Client
	config *Config

	dirty chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. A nil config uses DefaultConfig.
func New(tree *localstore.Tree, eng *engine.Engine, ws *wsclient.Client, config *Config) (*Daemon, error) {
	if tree == nil {
		return nil, fmt.Errorf("tree cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncFolderTitle == "" {
		config.SyncFolderTitle = engine.DefaultSyncFolderTitle
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.PersistInterval <= 0 {
		config.PersistInterval = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		tree:   tree,
		engine: eng,
		ws:     ws,
		config: config,
		dirty:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// SetPushChannel attaches the WebSocket client. It exists because the
// client's change callback usually points back at this daemon; call it
// before Start.
func (d *Daemon) SetPushChannel(ws *wsclient.Client) {
	d.ws = ws
}

// Start runs the daemon until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.config.TreePath != "" {
		if err := d.tree.LoadFile(d.config.TreePath); err != nil {
			return fmt.Errorf("failed to load tree snapshot: %w", err)
		}
	}

	// Subscribe after restore so replayed nodes do not fire sync events.
	d.tree.Subscribe(d.onTreeEvent)

	if d.config.TreePath != "" {
		d.wg.Add(1)
		go d.persistLoop()
	}

	if d.config.ImportFile != "" {
		if err := d.watchImportFile(); err != nil {
			return err
		}
	}

	if d.ws != nil {
		if err := d.ws.Connect(ctx); err != nil {
			d.config.Logger.Printf("Warning: initial WebSocket connect failed: %v", err)
		}
	}

	if d.config.SyncOnStartup {
		if err := d.engine.FullSync(ctx); err != nil {
			d.config.Logger.Printf("Warning: startup full sync failed: %v", err)
		}
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down, flushing the tree snapshot.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if d.ws != nil {
		d.ws.Disconnect()
	}
	d.wg.Wait()

	if d.config.TreePath != "" {
		if err := d.tree.SaveFile(d.config.TreePath); err != nil {
			return fmt.Errorf("failed to save tree snapshot: %w", err)
		}
	}

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// ApplyRemoteChange forwards a pushed change to the engine. It is the
// wsclient bookmark-change callback.
func (d *Daemon) ApplyRemoteChange(ctx context.Context, change bookmarks.Change) {
	if err := d.engine.ApplyRemoteChange(ctx, change); err != nil {
		d.config.Logger.Printf("Warning: failed to apply pushed change: %v", err)
	}
}

// onTreeEvent runs on every local tree mutation: the engine decides what
// to sync, and the snapshot is marked dirty.
func (d *Daemon) onTreeEvent(ev localstore.Event) {
	if err := d.engine.HandleEvent(d.ctx, ev); err != nil {
		d.config.Logger.Printf("Warning: failed to sync %s event: %v", ev.Kind, err)
	}
	d.markDirty()
}

func (d *Daemon) markDirty() {
	select {
	case d.dirty <- struct{}{}:
	default:
	}
}

// persistLoop writes the tree snapshot at most once per interval while
// mutations keep arriving.
func (d *Daemon) persistLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PersistInterval)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.dirty:
			pending = true
		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false
			if err := d.tree.SaveFile(d.config.TreePath); err != nil {
				d.config.Logger.Printf("Warning: failed to save tree snapshot: %v", err)
			}
		}
	}
}
