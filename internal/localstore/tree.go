package localstore

import (
	"context"
	"fmt"
	"sync"
)

const (
	rootID    NodeID = "root"
	unfiledID NodeID = "unfiled"
)

// Tree is the in-memory Store implementation. It is safe for concurrent
// use; events are dispatched after the internal lock is released so
// listeners may call back into the tree.
type Tree struct {
	mu        sync.Mutex
	nodes     map[NodeID]*Node
	children  map[NodeID][]NodeID
	nextID    int
	listeners []Listener
}

// NewTree creates an empty tree with the vendor top-level folders.
func NewTree() *Tree {
	t := &Tree{
		nodes:    make(map[NodeID]*Node),
		children: make(map[NodeID][]NodeID),
	}
	t.nodes[rootID] = &Node{ID: rootID, Title: "root"}
	t.nodes[unfiledID] = &Node{ID: unfiledID, ParentID: rootID, Title: "Other Bookmarks"}
	t.children[rootID] = []NodeID{unfiledID}
	t.children[unfiledID] = nil
	return t
}

// RootID implements Store.
func (t *Tree) RootID() NodeID { return rootID }

// DefaultParentID implements Store.
func (t *Tree) DefaultParentID() NodeID { return unfiledID }

// Subscribe implements Store.
func (t *Tree) Subscribe(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *Tree) dispatch(events []Event) {
	t.mu.Lock()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

// Get implements Store.
func (t *Tree) Get(ctx context.Context, id NodeID) (Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return *n, nil
}

// GetChildren implements Store.
func (t *Tree) GetChildren(ctx context.Context, id NodeID) ([]Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("children of %s: %w", id, ErrNotFound)
	}

	ids := t.children[id]
	out := make([]Node, 0, len(ids))
	for i, cid := range ids {
		child := *t.nodes[cid]
		child.Index = i
		out = append(out, child)
	}
	return out, nil
}

// Create implements Store.
func (t *Tree) Create(ctx context.Context, parentID NodeID, title, url string) (Node, error) {
	t.mu.Lock()

	if _, ok := t.nodes[parentID]; !ok {
		t.mu.Unlock()
		return Node{}, fmt.Errorf("create under %s: %w", parentID, ErrNotFound)
	}

	t.nextID++
	id := NodeID(fmt.Sprintf("n%d", t.nextID))
	node := &Node{
		ID:       id,
		ParentID: parentID,
		Title:    title,
		URL:      url,
		Index:    len(t.children[parentID]),
	}
	t.nodes[id] = node
	t.children[parentID] = append(t.children[parentID], id)
	created := *node
	t.mu.Unlock()

	t.dispatch([]Event{{Kind: EventCreated, Node: created}})
	return created, nil
}

// Update implements Store.
func (t *Tree) Update(ctx context.Context, id NodeID, title, url string) (Node, error) {
	t.mu.Lock()

	n, ok := t.nodes[id]
	if !ok {
		t.mu.Unlock()
		return Node{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	n.Title = title
	if !n.IsFolder() && url != "" {
		n.URL = url
	}
	updated := *n
	t.mu.Unlock()

	t.dispatch([]Event{{Kind: EventChanged, Node: updated}})
	return updated, nil
}

// Move implements Store.
func (t *Tree) Move(ctx context.Context, id NodeID, newParentID NodeID) (Node, error) {
	t.mu.Lock()

	n, ok := t.nodes[id]
	if !ok {
		t.mu.Unlock()
		return Node{}, fmt.Errorf("move %s: %w", id, ErrNotFound)
	}
	if _, ok := t.nodes[newParentID]; !ok {
		t.mu.Unlock()
		return Node{}, fmt.Errorf("move %s to %s: %w", id, newParentID, ErrNotFound)
	}

	oldParent := n.ParentID
	t.children[oldParent] = removeID(t.children[oldParent], id)
	n.ParentID = newParentID
	n.Index = len(t.children[newParentID])
	t.children[newParentID] = append(t.children[newParentID], id)
	moved := *n
	t.mu.Unlock()

	t.dispatch([]Event{{Kind: EventMoved, Node: moved, OldParentID: oldParent}})
	return moved, nil
}

// Remove implements Store. Removing a folder removes its whole subtree; the
// emitted event carries every removed node so handlers can recurse.
func (t *Tree) Remove(ctx context.Context, id NodeID) error {
	t.mu.Lock()

	n, ok := t.nodes[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	if id == rootID || id == unfiledID {
		t.mu.Unlock()
		return fmt.Errorf("cannot remove top-level folder %s", id)
	}

	removed := *n
	subtree := t.collectSubtree(id)
	for _, node := range subtree {
		delete(t.nodes, node.ID)
		delete(t.children, node.ID)
	}
	t.children[removed.ParentID] = removeID(t.children[removed.ParentID], id)
	t.mu.Unlock()

	t.dispatch([]Event{{Kind: EventRemoved, Node: removed, Subtree: subtree}})
	return nil
}

// collectSubtree returns the node and all descendants. Caller holds the lock.
func (t *Tree) collectSubtree(id NodeID) []Node {
	var out []Node
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n, ok := t.nodes[cur]; ok {
			out = append(out, *n)
			stack = append(stack, t.children[cur]...)
		}
	}
	return out
}

// Search implements Store.
func (t *Tree) Search(ctx context.Context, q Query) ([]Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Node
	for _, n := range t.nodes {
		if q.Title != "" && n.Title != q.Title {
			continue
		}
		if q.URL != "" && n.URL != q.URL {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func removeID(ids []NodeID, id NodeID) []NodeID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
