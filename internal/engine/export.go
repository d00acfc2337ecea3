package engine

import (
	"context"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/localstore"
)

// PushLocal reports every bookmark currently under the sync folder to the
// reconciliation endpoint. It is the bulk counterpart of the per-event
// handlers, used after imports and other local batch mutations whose
// individual events were suppressed.
//
// Per-bookmark failures are logged and skipped.
func (e *Engine) PushLocal(ctx context.Context) error {
	if e.api.Token() == "" {
		e.config.Logger.Printf("Not logged in, skipping local push")
		return nil
	}

	syncFolder, err := e.EnsureSyncFolder(ctx)
	if err != nil {
		return err
	}

	entries, err := localstore.ListSyncedBookmarks(ctx, e.store, syncFolder.ID, e.config.MaxDepth, e.config.Logger)
	if err != nil {
		return err
	}

	var synced, failed int
	err = e.state.With(FlagExporting, func() error {
		for _, entry := range entries {
			node, err := e.store.Get(ctx, entry.ID)
			if err != nil {
				failed++
				e.config.Logger.Printf("Warning: failed to load bookmark %q: %v", entry.Title, err)
				continue
			}

			req := bookmarks.SyncRequest{
				Title:          eventTitle(entry.Title),
				URL:            entry.URL,
				Folder:         entry.FolderPath,
				Tags:           []string{},
				Position:       node.Index,
				IsInSyncFolder: true,
			}
			if remoteID, ok, err := e.ids.Lookup(ctx, string(entry.ID)); err == nil && ok {
				req.ID = remoteID
			}

			res, err := e.api.SyncBookmark(ctx, req)
			if err != nil {
				failed++
				e.config.Logger.Printf("Warning: failed to push bookmark %q: %v", entry.Title, err)
				continue
			}
			if err := e.applySyncResult(ctx, entry.ID, res); err != nil {
				e.config.Logger.Printf("Warning: failed to record mapping for %q: %v", entry.Title, err)
			}
			synced++
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.config.Logger.Printf("Local push complete: synced=%d failed=%d", synced, failed)
	return nil
}
