package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/marksync/marksync/internal/folderpath"
	"github.com/marksync/marksync/internal/localstore"
)

// Phase is the explicit full-sync progress state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
)

func (p Phase) String() string {
	if p == PhaseRunning {
		return "running"
	}
	return "idle"
}

// phaseGate enforces the at-most-one-concurrent-full-sync policy.
type phaseGate struct {
	mu    sync.Mutex
	phase Phase
}

func newPhaseGate() *phaseGate { return &phaseGate{} }

// tryStart transitions idle -> running; it reports false when a pass is
// already in flight.
func (g *phaseGate) tryStart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phase == PhaseRunning {
		return false
	}
	g.phase = PhaseRunning
	return true
}

func (g *phaseGate) finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.phase = PhaseIdle
}

func (g *phaseGate) current() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// FullSyncPhase returns the current full-sync progress state.
func (e *Engine) FullSyncPhase() Phase { return e.fullSync.current() }

// FullSync reconciles the entire local sync-folder subtree against the
// entire remote bookmark set.
//
// A call while a pass is already running is a no-op, not an error and not
// queued. A missing auth token is likewise a silent no-op. An empty remote
// set stops the pass without touching local bookmarks: an empty server
// must never be read as "delete everything locally".
//
// Per-bookmark apply failures are logged and skipped; only a failure to
// fetch the remote set or to ensure the sync folder aborts the pass. The
// syncing-from-server guard is held for the whole apply phase and released
// on every exit path.
func (e *Engine) FullSync(ctx context.Context) error {
	if !e.fullSync.tryStart() {
		e.config.Logger.Printf("Full sync already running, skipping duplicate request")
		return nil
	}
	defer e.fullSync.finish()

	if e.api.Token() == "" {
		e.config.Logger.Printf("Not logged in, skipping full sync")
		return nil
	}

	e.config.Logger.Printf("Starting full sync")

	remote, err := e.api.ListBookmarks(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch remote bookmarks: %w", err)
	}
	e.config.Logger.Printf("Fetched %d remote bookmarks", len(remote))

	if len(remote) == 0 {
		e.config.Logger.Printf("Server has no bookmarks, nothing to sync")
		return nil
	}

	syncFolder, err := e.EnsureSyncFolder(ctx)
	if err != nil {
		return fmt.Errorf("full sync aborted: %w", err)
	}

	entries, err := localstore.ListSyncedBookmarks(ctx, e.store, syncFolder.ID, e.config.MaxDepth, e.config.Logger)
	if err != nil {
		return fmt.Errorf("failed to index local bookmarks: %w", err)
	}
	byURL := localstore.IndexByURL(entries)
	e.config.Logger.Printf("Indexed %d local bookmarks under sync folder", len(entries))

	var created, updated, skipped int

	err = e.state.With(FlagSyncingFromServer, func() error {
		for _, rb := range remote {
			url := strings.TrimSpace(rb.URL)
			title := strings.TrimSpace(rb.Title)
			if url == "" || title == "" {
				// Invalid remote records are skipped, never fabricated
				// into local placeholders during full sync.
				skipped++
				e.config.Logger.Printf("Warning: skipping remote bookmark %d with empty url or title", rb.ID)
				continue
			}

			local, exists := byURL[url]
			if exists {
				if err := e.correctLocal(ctx, syncFolder.ID, local, rb.Title, rb.Folder); err != nil {
					e.config.Logger.Printf("Warning: failed to update local bookmark %q: %v", rb.Title, err)
					continue
				}
				updated++
				continue
			}

			parentID, err := folderpath.Resolve(ctx, e.store, syncFolder.ID, rb.Folder, e.config.SyncFolderTitle, e.config.Logger)
			if err != nil {
				e.config.Logger.Printf("Warning: failed to resolve folder %q: %v", rb.Folder, err)
				continue
			}
			if _, err := e.store.Create(ctx, parentID, rb.Title, url); err != nil {
				e.config.Logger.Printf("Warning: failed to create local bookmark %q: %v", rb.Title, err)
				continue
			}
			created++
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.config.Logger.Printf("Full sync complete: created=%d updated=%d skipped=%d", created, updated, skipped)
	return nil
}

// correctLocal converges an existing local bookmark on the remote record:
// the title is updated when it differs and the bookmark is moved when its
// folder no longer matches the remote folder path.
func (e *Engine) correctLocal(ctx context.Context, syncFolderID localstore.NodeID, local localstore.IndexEntry, title, folder string) error {
	if local.Title != title {
		if _, err := e.store.Update(ctx, local.ID, title, ""); err != nil {
			return err
		}
	}

	wantPath := strings.Join(folderpath.Normalize(folder, e.config.SyncFolderTitle), localstore.PathSeparator)
	if local.FolderPath == wantPath {
		return nil
	}

	parentID, err := folderpath.Resolve(ctx, e.store, syncFolderID, folder, e.config.SyncFolderTitle, e.config.Logger)
	if err != nil {
		return err
	}
	if parentID != local.ParentID {
		if _, err := e.store.Move(ctx, local.ID, parentID); err != nil {
			return err
		}
	}
	return nil
}
