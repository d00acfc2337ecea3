package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/folderpath"
	"github.com/marksync/marksync/internal/localstore"
)

// ApplyRemoteChange applies one server-pushed bookmark change to the local
// tree. The syncing-from-server guard is held around the whole local-apply
// sequence, including folder resolution, so the resulting tree events are
// not echoed back to the server.
func (e *Engine) ApplyRemoteChange(ctx context.Context, change bookmarks.Change) error {
	switch change.Action {
	case bookmarks.ActionCreated:
		return e.applyRemoteCreated(ctx, change.Data)
	case bookmarks.ActionUpdated:
		return e.applyRemoteUpdated(ctx, change.Data)
	case bookmarks.ActionDeleted:
		return e.applyRemoteDeleted(ctx, change.Data)
	default:
		return fmt.Errorf("unknown change action %q", change.Action)
	}
}

func validRemote(b bookmarks.Bookmark) error {
	if strings.TrimSpace(b.URL) == "" {
		return fmt.Errorf("remote bookmark %d has empty url", b.ID)
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("remote bookmark %d has empty title", b.ID)
	}
	return nil
}

func (e *Engine) applyRemoteCreated(ctx context.Context, b bookmarks.Bookmark) error {
	if err := validRemote(b); err != nil {
		e.config.Logger.Printf("Warning: rejecting pushed create: %v", err)
		return nil
	}

	return e.state.With(FlagSyncingFromServer, func() error {
		syncFolder, err := e.EnsureSyncFolder(ctx)
		if err != nil {
			return err
		}

		parentID, err := folderpath.Resolve(ctx, e.store, syncFolder.ID, b.Folder, e.config.SyncFolderTitle, e.config.Logger)
		if err != nil {
			return err
		}

		entries, err := localstore.ListSyncedBookmarks(ctx, e.store, syncFolder.ID, e.config.MaxDepth, e.config.Logger)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.URL == b.URL {
				e.config.Logger.Printf("Bookmark %q already present locally, skipping pushed create", b.Title)
				return nil
			}
		}

		if _, err := e.store.Create(ctx, parentID, b.Title, b.URL); err != nil {
			return fmt.Errorf("failed to create local bookmark %q: %w", b.Title, err)
		}
		e.config.Logger.Printf("Applied pushed create for %q", b.Title)
		return nil
	})
}

func (e *Engine) applyRemoteUpdated(ctx context.Context, b bookmarks.Bookmark) error {
	if err := validRemote(b); err != nil {
		e.config.Logger.Printf("Warning: rejecting pushed update: %v", err)
		return nil
	}

	return e.state.With(FlagSyncingFromServer, func() error {
		syncFolder, err := e.EnsureSyncFolder(ctx)
		if err != nil {
			return err
		}

		parentID, err := folderpath.Resolve(ctx, e.store, syncFolder.ID, b.Folder, e.config.SyncFolderTitle, e.config.Logger)
		if err != nil {
			return err
		}

		entries, err := localstore.ListSyncedBookmarks(ctx, e.store, syncFolder.ID, e.config.MaxDepth, e.config.Logger)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if entry.URL != b.URL {
				continue
			}
			if entry.Title != b.Title {
				if _, err := e.store.Update(ctx, entry.ID, b.Title, ""); err != nil {
					return fmt.Errorf("failed to update local bookmark %q: %w", b.Title, err)
				}
			}
			if entry.ParentID != parentID {
				if _, err := e.store.Move(ctx, entry.ID, parentID); err != nil {
					return fmt.Errorf("failed to move local bookmark %q: %w", b.Title, err)
				}
			}
			e.config.Logger.Printf("Applied pushed update for %q", b.Title)
			return nil
		}

		// No local match: nothing to update. The next full sync will pull
		// the record if it belongs here.
		return nil
	})
}

func (e *Engine) applyRemoteDeleted(ctx context.Context, b bookmarks.Bookmark) error {
	if strings.TrimSpace(b.URL) == "" {
		e.config.Logger.Printf("Warning: pushed delete without url, ignoring")
		return nil
	}

	// The remote record is gone and carries no folder context anymore, so
	// the search is tree-wide, not restricted to the sync folder.
	return e.state.With(FlagSyncingFromServer, func() error {
		matches, err := e.store.Search(ctx, localstore.Query{URL: b.URL})
		if err != nil {
			return fmt.Errorf("failed to search for %q: %w", b.URL, err)
		}

		for _, match := range matches {
			if match.IsFolder() {
				continue
			}
			if err := e.store.Remove(ctx, match.ID); err != nil {
				return fmt.Errorf("failed to remove local bookmark %q: %w", match.Title, err)
			}
			if err := e.ids.Forget(ctx, string(match.ID)); err != nil {
				return err
			}
			e.config.Logger.Printf("Applied pushed delete for %q", b.Title)
			return nil
		}
		return nil
	})
}
