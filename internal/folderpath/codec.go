// Package folderpath converts between the local bookmark-tree ancestor
// chain and the flat "A > B > C" folder string stored server-side.
//
// Paths are always relative to (and exclude) the sync folder. Legacy
// records may carry the sync folder's own title as a path prefix, possibly
// repeated; Resolve strips those defensively instead of materializing
// folders named after the reserved title.
package folderpath

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/marksync/marksync/internal/localstore"
)

// ErrDepthExceeded reports that an ancestor walk ran past the configured
// maximum depth, which indicates a corrupted or pathological tree.
var ErrDepthExceeded = errors.New("folder path exceeds maximum depth")

// Encode walks ancestors from the node's parent upward, collecting folder
// titles, stopping at (and excluding) syncFolderID. Titles are returned in
// root-to-leaf order joined by " > "; a direct child of the sync folder
// yields the empty string.
func Encode(ctx context.Context, store localstore.Store, node localstore.Node, syncFolderID localstore.NodeID, maxDepth int) (string, error) {
	var titles []string

	current := node
	for depth := 0; current.ParentID != ""; depth++ {
		if depth >= maxDepth {
			return strings.Join(titles, localstore.PathSeparator),
				fmt.Errorf("encoding path for %q: %w", node.Title, ErrDepthExceeded)
		}
		if current.ParentID == syncFolderID {
			break
		}

		parent, err := store.Get(ctx, current.ParentID)
		if err != nil {
			return "", fmt.Errorf("failed to walk ancestors of %q: %w", node.Title, err)
		}
		if parent.Title != "" {
			titles = append([]string{parent.Title}, titles...)
		}
		current = parent
	}

	return strings.Join(titles, localstore.PathSeparator), nil
}

// Resolve walks (and lazily creates) each named segment of path as a child
// folder under the previous segment, starting from syncFolderID, and
// returns the deepest folder's identifier.
//
// Repeated occurrences of the reserved sync-folder title at the start of
// the path are collapsed, so "Sync > Sync > A" resolves identically to "A".
// If the store is unavailable, the sync folder itself is returned as a safe
// fallback and the condition is logged as a warning; no bookmark data is
// lost, the record merely lands at the sync folder root.
func Resolve(ctx context.Context, store localstore.Store, syncFolderID localstore.NodeID, path, reservedTitle string, logger *log.Logger) (localstore.NodeID, error) {
	segments := Normalize(path, reservedTitle)
	if len(segments) == 0 {
		return syncFolderID, nil
	}

	currentID := syncFolderID
	for _, name := range segments {
		children, err := store.GetChildren(ctx, currentID)
		if err != nil {
			if logger != nil {
				logger.Printf("Warning: bookmark store unavailable resolving %q, falling back to sync folder: %v", path, err)
			}
			return syncFolderID, nil
		}

		var found *localstore.Node
		for i := range children {
			if children[i].IsFolder() && children[i].Title == name {
				found = &children[i]
				break
			}
		}

		if found != nil {
			currentID = found.ID
			continue
		}

		created, err := store.Create(ctx, currentID, name, "")
		if err != nil {
			return syncFolderID, fmt.Errorf("failed to create folder %q: %w", name, err)
		}
		currentID = created.ID
	}

	return currentID, nil
}

// Normalize splits a folder path into its segments, dropping blank segments
// and collapsing any run of the reserved sync-folder title at the start.
func Normalize(path, reservedTitle string) []string {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	parts := strings.Split(path, localstore.PathSeparator)
	var segments []string
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		// Leading reserved-title segments are a legacy encoding artifact,
		// not real folders.
		if len(segments) == 0 && name == reservedTitle {
			continue
		}
		segments = append(segments, name)
	}
	return segments
}
