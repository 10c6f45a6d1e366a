package tree

import (
	"fmt"
	"strings"
)

// Find returns the first node with id in a depth-first, pre-order walk.
func Find(f Forest, id string) (Node, bool) {
	for _, n := range f {
		if n.ID == id {
			return n, true
		}
		if n.IsFolder() {
			if found, ok := Find(n.Children, id); ok {
				return found, true
			}
		}
	}
	return Node{}, false
}

// UpdateByID replaces the node with id by fn(node). Only the slices on the
// path to the node are copied; every other node is shared with f. If id is
// absent, f itself is returned.
func UpdateByID(f Forest, id string, fn func(Node) Node) Forest {
	out, _ := updateNodes(f, id, fn)
	return out
}

func updateNodes(nodes []Node, id string, fn func(Node) Node) ([]Node, bool) {
	for i, n := range nodes {
		if n.ID == id {
			out := make([]Node, len(nodes))
			copy(out, nodes)
			out[i] = fn(n)
			return out, true
		}
		if !n.IsFolder() {
			continue
		}
		if children, ok := updateNodes(n.Children, id, fn); ok {
			out := make([]Node, len(nodes))
			copy(out, nodes)
			n.Children = children
			out[i] = n
			return out, true
		}
	}
	return nodes, false
}

// DeleteByID removes the node with id and its whole subtree.
func DeleteByID(f Forest, id string) Forest {
	out, _, _ := Remove(f, id)
	return out
}

// Remove is DeleteByID that also returns the removed node.
func Remove(f Forest, id string) (Forest, Node, bool) {
	out, removed, ok := removeNode(f, id)
	if !ok {
		return f, Node{}, false
	}
	return out, removed, true
}

func removeNode(nodes []Node, id string) ([]Node, Node, bool) {
	for i, n := range nodes {
		if n.ID == id {
			out := make([]Node, 0, len(nodes)-1)
			out = append(out, nodes[:i]...)
			out = append(out, nodes[i+1:]...)
			return out, n, true
		}
		if !n.IsFolder() {
			continue
		}
		if children, removed, ok := removeNode(n.Children, id); ok {
			out := make([]Node, len(nodes))
			copy(out, nodes)
			n.Children = children
			out[i] = n
			return out, removed, true
		}
	}
	return nodes, Node{}, false
}

// InsertUnder appends node as the last child of the folder parentID, or at
// root level when parentID is empty. The receiving folder is opened. A missing
// or non-folder parent drops the insert and reports false.
func InsertUnder(f Forest, parentID string, node Node) (Forest, bool) {
	if parentID == "" {
		out := make(Forest, 0, len(f)+1)
		out = append(out, f...)
		return append(out, node), true
	}
	parent, ok := Find(f, parentID)
	if !ok || !parent.IsFolder() {
		return f, false
	}
	return UpdateByID(f, parentID, func(p Node) Node {
		children := make([]Node, 0, len(p.Children)+1)
		children = append(children, p.Children...)
		p.Children = append(children, node)
		p.IsOpen = true
		return p
	}), true
}

// Contains reports whether id is n itself or anywhere below n.
func Contains(n Node, id string) bool {
	if n.ID == id {
		return true
	}
	for _, c := range n.Children {
		if Contains(c, id) {
			return true
		}
	}
	return false
}

// InSubtree reports whether id is rootID or one of its descendants in f.
func InSubtree(f Forest, rootID, id string) bool {
	root, ok := Find(f, rootID)
	if !ok {
		return false
	}
	return Contains(root, id)
}

// IDs returns every id in n's subtree, n first.
func IDs(n Node) []string {
	ids := []string{n.ID}
	for _, c := range n.Children {
		ids = append(ids, IDs(c)...)
	}
	return ids
}

// Walk visits every node pre-order with its parent id ("" at root level)
// and depth. Returning false from fn stops the walk.
func Walk(f Forest, fn func(n Node, parentID string, depth int) bool) {
	walk(f, "", 0, fn)
}

func walk(nodes []Node, parentID string, depth int, fn func(Node, string, int) bool) bool {
	for _, n := range nodes {
		if !fn(n, parentID, depth) {
			return false
		}
		if n.IsFolder() && !walk(n.Children, n.ID, depth+1, fn) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of f with normalized variants.
func Clone(f Forest) Forest {
	out := make(Forest, len(f))
	for i, n := range f {
		out[i] = n.normalized()
	}
	return out
}

// Validate checks the forest invariants: non-empty unique ids, known kinds,
// and no fields from the other variant.
func Validate(f Forest) error {
	seen := make(map[string]bool)
	var err error
	Walk(f, func(n Node, _ string, _ int) bool {
		switch {
		case strings.TrimSpace(n.ID) == "":
			err = fmt.Errorf("node %q has an empty id", n.Name)
		case seen[n.ID]:
			err = fmt.Errorf("duplicate node id %q", n.ID)
		case !n.Type.Valid():
			err = fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
		case n.IsFolder() && (n.Content != "" || len(n.Links) > 0 || len(n.Prompts) > 0):
			err = fmt.Errorf("folder %q carries file fields", n.ID)
		case n.IsFile() && (n.IsOpen || len(n.Children) > 0):
			err = fmt.Errorf("file %q carries folder fields", n.ID)
		}
		seen[n.ID] = true
		return err == nil
	})
	return err
}
