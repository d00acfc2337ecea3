package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/folderpath"
	"github.com/marksync/marksync/internal/localstore"
)

// placeholderTitle substitutes an empty title in event-sync paths only.
// Full sync never fabricates titles.
const placeholderTitle = "(untitled)"

// HandleEvent dispatches one local tree event to the matching handler.
func (e *Engine) HandleEvent(ctx context.Context, ev localstore.Event) error {
	switch ev.Kind {
	case localstore.EventCreated:
		return e.OnCreated(ctx, ev.Node)
	case localstore.EventRemoved:
		return e.OnRemoved(ctx, ev)
	case localstore.EventMoved:
		return e.OnMoved(ctx, ev.Node)
	case localstore.EventChanged:
		return e.OnChanged(ctx, ev.Node)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// OnCreated pushes a newly created bookmark to the server when it lives
// inside the sync folder, then records the id mapping.
func (e *Engine) OnCreated(ctx context.Context, node localstore.Node) error {
	if e.state.Suppressed() {
		return nil
	}
	if node.IsFolder() {
		return nil
	}

	inScope, syncFolderID, err := e.syncScope(ctx, node)
	if err != nil {
		return err
	}
	if !inScope {
		return nil
	}
	if e.api.Token() == "" {
		e.config.Logger.Printf("Not logged in, skipping create sync for %q", node.Title)
		return nil
	}

	path, err := folderpath.Encode(ctx, e.store, node, syncFolderID, e.config.MaxDepth)
	if err != nil {
		return fmt.Errorf("failed to encode folder path: %w", err)
	}

	created, err := e.api.CreateBookmark(ctx, bookmarks.Payload{
		Title:  eventTitle(node.Title),
		URL:    node.URL,
		Folder: path,
		Tags:   []string{},
	}, node.Index)
	if err != nil {
		return fmt.Errorf("failed to create remote bookmark %q: %w", node.Title, err)
	}

	if err := e.ids.Record(ctx, string(node.ID), created.ID); err != nil {
		return fmt.Errorf("failed to record id mapping: %w", err)
	}
	e.config.Logger.Printf("Synced created bookmark %q (remote id %d)", node.Title, created.ID)
	return nil
}

// OnRemoved deletes the removed bookmarks server-side. Folder deletions
// recurse into every bookmark of the removed subtree; per-bookmark
// failures are logged and the rest of the subtree is still processed.
func (e *Engine) OnRemoved(ctx context.Context, ev localstore.Event) error {
	if e.state.Suppressed() {
		return nil
	}
	if e.api.Token() == "" {
		return nil
	}

	nodes := ev.Subtree
	if len(nodes) == 0 {
		nodes = []localstore.Node{ev.Node}
	}

	for _, node := range nodes {
		if node.IsFolder() {
			continue
		}
		if err := e.removeRemote(ctx, node); err != nil {
			e.config.Logger.Printf("Warning: failed to delete remote bookmark %q: %v", node.Title, err)
		}
	}
	return nil
}

func (e *Engine) removeRemote(ctx context.Context, node localstore.Node) error {
	remoteID, ok, err := e.ids.Lookup(ctx, string(node.ID))
	if err != nil {
		return err
	}
	if !ok {
		// No mapping: the bookmark may have been pulled by full sync.
		// Fall back to an exact URL search.
		matches, err := e.api.SearchByURL(ctx, node.URL)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			e.config.Logger.Printf("No remote record for removed bookmark %q, nothing to delete", node.Title)
			return nil
		}
		remoteID = matches[0].ID
	}

	if err := e.api.DeleteBookmark(ctx, remoteID); err != nil {
		return err
	}
	if err := e.ids.Forget(ctx, string(node.ID)); err != nil {
		return err
	}
	e.config.Logger.Printf("Deleted remote bookmark %d for %q", remoteID, node.Title)
	return nil
}

// OnMoved reports a moved bookmark to the reconciliation endpoint, which
// decides between create, update, and delete based on the bookmark's
// current sync-folder membership.
func (e *Engine) OnMoved(ctx context.Context, node localstore.Node) error {
	if e.state.Suppressed() {
		return nil
	}
	if node.IsFolder() {
		return nil
	}
	if e.api.Token() == "" {
		return nil
	}

	inScope, syncFolderID, err := e.syncScope(ctx, node)
	if err != nil {
		return err
	}

	var path string
	if inScope {
		path, err = folderpath.Encode(ctx, e.store, node, syncFolderID, e.config.MaxDepth)
		if err != nil {
			return fmt.Errorf("failed to encode folder path: %w", err)
		}
	}

	req := bookmarks.SyncRequest{
		Title:          eventTitle(node.Title),
		URL:            node.URL,
		Folder:         path,
		Tags:           []string{},
		Position:       node.Index,
		IsInSyncFolder: inScope,
	}
	if remoteID, ok, err := e.ids.Lookup(ctx, string(node.ID)); err != nil {
		return err
	} else if ok {
		req.ID = remoteID
	}

	res, err := e.api.SyncBookmark(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to sync moved bookmark %q: %w", node.Title, err)
	}

	if err := e.applySyncResult(ctx, node.ID, res); err != nil {
		return err
	}
	e.config.Logger.Printf("Synced moved bookmark %q [%s]", node.Title, res.Action)
	return nil
}

// OnChanged re-saves an edited bookmark currently inside the sync folder.
func (e *Engine) OnChanged(ctx context.Context, node localstore.Node) error {
	if e.state.Suppressed() {
		return nil
	}
	if node.IsFolder() {
		return nil
	}

	inScope, syncFolderID, err := e.syncScope(ctx, node)
	if err != nil {
		return err
	}
	if !inScope {
		return nil
	}
	if e.api.Token() == "" {
		return nil
	}

	path, err := folderpath.Encode(ctx, e.store, node, syncFolderID, e.config.MaxDepth)
	if err != nil {
		return fmt.Errorf("failed to encode folder path: %w", err)
	}

	req := bookmarks.SyncRequest{
		Title:          eventTitle(node.Title),
		URL:            node.URL,
		Folder:         path,
		Tags:           []string{},
		Position:       node.Index,
		IsInSyncFolder: true,
	}
	if remoteID, ok, err := e.ids.Lookup(ctx, string(node.ID)); err != nil {
		return err
	} else if ok {
		req.ID = remoteID
	}

	res, err := e.api.SyncBookmark(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to sync changed bookmark %q: %w", node.Title, err)
	}

	if err := e.applySyncResult(ctx, node.ID, res); err != nil {
		return err
	}
	e.config.Logger.Printf("Synced changed bookmark %q [%s]", node.Title, res.Action)
	return nil
}

// applySyncResult keeps the id mapping consistent with the server's
// reconciliation decision.
func (e *Engine) applySyncResult(ctx context.Context, localID localstore.NodeID, res *bookmarks.SyncResult) error {
	switch res.Action {
	case bookmarks.ActionCreated:
		if res.Bookmark != nil {
			return e.ids.Record(ctx, string(localID), res.Bookmark.ID)
		}
	case bookmarks.ActionDeleted:
		return e.ids.Forget(ctx, string(localID))
	}
	return nil
}

func eventTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return placeholderTitle
	}
	return title
}
