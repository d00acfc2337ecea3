package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestCreateEmitsEvent(t *testing.T) {
	tree := NewTree()

	var events []Event
	tree.Subscribe(func(ev Event) { events = append(events, ev) })

	node, err := tree.Create(context.Background(), tree.DefaultParentID(), "Example", "https://example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != EventCreated {
		t.Errorf("event kind = %s, want %s", events[0].Kind, EventCreated)
	}
	if events[0].Node.ID != node.ID {
		t.Errorf("event node = %s, want %s", events[0].Node.ID, node.ID)
	}
}

func TestListenerMayCallBackIntoTree(t *testing.T) {
	tree := NewTree()
	ctx := context.Background()

	// A listener reading the tree during dispatch must not deadlock.
	tree.Subscribe(func(ev Event) {
		if _, err := tree.Get(ctx, ev.Node.ID); err != nil && ev.Kind != EventRemoved {
			t.Errorf("listener failed to read tree: %v", err)
		}
	})

	if _, err := tree.Create(ctx, tree.DefaultParentID(), "Example", "https://example.com"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func TestMoveEmitsOldParent(t *testing.T) {
	tree := NewTree()
	ctx := context.Background()

	folder, err := tree.Create(ctx, tree.DefaultParentID(), "Work", "")
	if err != nil {
		t.Fatalf("Create folder failed: %v", err)
	}
	node, err := tree.Create(ctx, tree.DefaultParentID(), "Example", "https://example.com")
	if err != nil {
		t.Fatalf("Create bookmark failed: %v", err)
	}

	var moved *Event
	tree.Subscribe(func(ev Event) {
		if ev.Kind == EventMoved {
			moved = &ev
		}
	})

	if _, err := tree.Move(ctx, node.ID, folder.ID); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	if moved == nil {
		t.Fatal("no moved event emitted")
	}
	if moved.OldParentID != tree.DefaultParentID() {
		t.Errorf("old parent = %s, want %s", moved.OldParentID, tree.DefaultParentID())
	}
	if moved.Node.ParentID != folder.ID {
		t.Errorf("new parent = %s, want %s", moved.Node.ParentID, folder.ID)
	}
}

func TestRemoveFolderCarriesSubtree(t *testing.T) {
	tree := NewTree()
	ctx := context.Background()

	folder, err := tree.Create(ctx, tree.DefaultParentID(), "Work", "")
	if err != nil {
		t.Fatalf("Create folder failed: %v", err)
	}
	sub, err := tree.Create(ctx, folder.ID, "Projects", "")
	if err != nil {
		t.Fatalf("Create subfolder failed: %v", err)
	}
	if _, err := tree.Create(ctx, folder.ID, "A", "https://a.example.com"); err != nil {
		t.Fatalf("Create bookmark failed: %v", err)
	}
	if _, err := tree.Create(ctx, sub.ID, "B", "https://b.example.com"); err != nil {
		t.Fatalf("Create bookmark failed: %v", err)
	}

	var removed *Event
	tree.Subscribe(func(ev Event) {
		if ev.Kind == EventRemoved {
			removed = &ev
		}
	})

	if err := tree.Remove(ctx, folder.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if removed == nil {
		t.Fatal("no removed event emitted")
	}
	// Folder, subfolder, and both bookmarks.
	if len(removed.Subtree) != 4 {
		t.Errorf("subtree size = %d, want 4", len(removed.Subtree))
	}

	if _, err := tree.Get(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("descendant still present after folder removal")
	}
}

func TestRemoveTopLevelFoldersRejected(t *testing.T) {
	tree := NewTree()
	ctx := context.Background()

	if err := tree.Remove(ctx, tree.RootID()); err == nil {
		t.Error("removing root succeeded, want error")
	}
	if err := tree.Remove(ctx, tree.DefaultParentID()); err == nil {
		t.Error("removing default folder succeeded, want error")
	}
}

func TestSearchByURL(t *testing.T) {
	tree := NewTree()
	ctx := context.Background()

	if _, err := tree.Create(ctx, tree.DefaultParentID(), "A", "https://a.example.com"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := tree.Create(ctx, tree.DefaultParentID(), "B", "https://b.example.com"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	matches, err := tree.Search(ctx, Query{URL: "https://a.example.com"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Title != "A" {
		t.Errorf("Search returned %v, want single match A", matches)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tree := NewTree()
	ctx := context.Background()

	folder, err := tree.Create(ctx, tree.DefaultParentID(), "Work", "")
	if err != nil {
		t.Fatalf("Create folder failed: %v", err)
	}
	if _, err := tree.Create(ctx, folder.ID, "Example", "https://example.com"); err != nil {
		t.Fatalf("Create bookmark failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "tree.json")
	if err := tree.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	restored := NewTree()
	fired := false
	restored.Subscribe(func(Event) { fired = true })
	if err := restored.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if fired {
		t.Error("restore fired events")
	}

	matches, err := restored.Search(ctx, Query{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("restored tree has %d matches, want 1", len(matches))
	}
	parent, err := restored.Get(ctx, matches[0].ParentID)
	if err != nil {
		t.Fatalf("failed to load restored parent: %v", err)
	}
	if parent.Title != "Work" {
		t.Errorf("restored parent = %q, want Work", parent.Title)
	}

	// New nodes must not collide with restored identifiers.
	fresh, err := restored.Create(ctx, restored.DefaultParentID(), "New", "https://new.example.com")
	if err != nil {
		t.Fatalf("Create after restore failed: %v", err)
	}
	if fresh.ID == folder.ID || fresh.ID == matches[0].ID {
		t.Errorf("id collision after restore: %s", fresh.ID)
	}
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	tree := NewTree()
	if err := tree.LoadFile(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("LoadFile on missing file failed: %v", err)
	}
}
