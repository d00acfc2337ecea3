package localstore

import (
	"context"
	"fmt"
	"log"
)

// PathSeparator joins folder titles into the flat folder-path string used
// as the server-side folder field.
const PathSeparator = " > "

// IndexEntry is one synced bookmark found under the sync folder. FolderPath
// is the " > "-joined chain of folder titles below the sync folder, empty
// for direct children.
type IndexEntry struct {
	ID         NodeID
	Title      string
	URL        string
	FolderPath string
	ParentID   NodeID
}

// ListSyncedBookmarks walks every descendant of syncFolderID and returns
// one entry per bookmark (non-folder) node. The walk is iterative and
// depth-bounded: subtrees deeper than maxDepth are logged and skipped
// rather than silently truncated mid-branch.
func ListSyncedBookmarks(ctx context.Context, store Store, syncFolderID NodeID, maxDepth int, logger *log.Logger) ([]IndexEntry, error) {
	type frame struct {
		id    NodeID
		path  string
		depth int
	}

	var entries []IndexEntry
	stack := []frame{{id: syncFolderID}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := store.GetChildren(ctx, cur.id)
		if err != nil {
			return nil, fmt.Errorf("failed to list children of %s: %w", cur.id, err)
		}

		for _, child := range children {
			if !child.IsFolder() {
				entries = append(entries, IndexEntry{
					ID:         child.ID,
					Title:      child.Title,
					URL:        child.URL,
					FolderPath: cur.path,
					ParentID:   child.ParentID,
				})
				continue
			}

			if cur.depth+1 > maxDepth {
				if logger != nil {
					logger.Printf("Warning: folder %q exceeds max depth %d, skipping subtree", child.Title, maxDepth)
				}
				continue
			}

			childPath := child.Title
			if cur.path != "" {
				childPath = cur.path + PathSeparator + child.Title
			}
			stack = append(stack, frame{id: child.ID, path: childPath, depth: cur.depth + 1})
		}
	}

	return entries, nil
}

// IndexByURL keys index entries by URL for fast membership tests during
// full sync. Later duplicates of the same URL are kept out: the first
// occurrence wins, matching the find-first semantics of event sync.
func IndexByURL(entries []IndexEntry) map[string]IndexEntry {
	byURL := make(map[string]IndexEntry, len(entries))
	for _, e := range entries {
		if _, ok := byURL[e.URL]; !ok {
			byURL[e.URL] = e
		}
	}
	return byURL
}
