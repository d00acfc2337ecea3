package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// treeFile is the on-disk shape of a persisted tree. Nodes are stored in
// breadth-first order so parents always precede children on restore.
type treeFile struct {
	Nodes []Node `json:"nodes"`
}

// Snapshot returns every node except the built-in top-level folders, in
// breadth-first order.
func (t *Tree) Snapshot() []Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Node
	queue := []NodeID{rootID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i, cid := range t.children[cur] {
			n := *t.nodes[cid]
			n.Index = i
			if cid != unfiledID {
				out = append(out, n)
			}
			queue = append(queue, cid)
		}
	}
	return out
}

// Restore rebuilds the tree from a snapshot without firing events. Nodes
// whose parent is unknown are attached to the default folder rather than
// dropped.
func (t *Tree) Restore(nodes []Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes = map[NodeID]*Node{
		rootID:    {ID: rootID, Title: "root"},
		unfiledID: {ID: unfiledID, ParentID: rootID, Title: "Other Bookmarks"},
	}
	t.children = map[NodeID][]NodeID{
		rootID:    {unfiledID},
		unfiledID: nil,
	}

	maxID := 0
	for _, n := range nodes {
		node := n
		if _, ok := t.nodes[node.ParentID]; !ok {
			node.ParentID = unfiledID
		}
		t.nodes[node.ID] = &node
		t.children[node.ParentID] = append(t.children[node.ParentID], node.ID)
		if _, ok := t.children[node.ID]; !ok {
			t.children[node.ID] = nil
		}

		if num, err := strconv.Atoi(strings.TrimPrefix(string(node.ID), "n")); err == nil && num > maxID {
			maxID = num
		}
	}
	t.nextID = maxID
}

// SaveFile persists the tree as JSON.
func (t *Tree) SaveFile(path string) error {
	data, err := json.MarshalIndent(treeFile{Nodes: t.Snapshot()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tree: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create tree directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write tree file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace tree file: %w", err)
	}
	return nil
}

// LoadFile restores the tree from a file written by SaveFile. A missing
// file leaves the tree empty and is not an error.
func (t *Tree) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read tree file: %w", err)
	}

	var tf treeFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("failed to parse tree file: %w", err)
	}

	t.Restore(tf.Nodes)
	return nil
}
