package workspace

import (
	stderrors "errors"
	"strings"

	"github.com/hpungsan/folio/internal/content"
	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/tree"
)

// errUnchanged aborts a mutation without committing or reporting an error.
var errUnchanged = stderrors.New("unchanged")

type state struct {
	files    tree.Forest
	activeID string
}

// mutate runs fn against the current state and commits its result as a local
// transition. fn must not modify its input.
func (m *Manager) mutate(fn func(s state) (state, error)) error {
	m.mu.Lock()
	next, err := fn(state{files: m.files, activeID: m.activeID})
	if err != nil {
		m.mu.Unlock()
		if err == errUnchanged {
			return nil
		}
		return err
	}
	m.commitLocked(next.files, next.activeID, OriginLocal)
	return nil
}

// AddNode creates a folder or file under parentID ("" for the root level).
// A new file becomes the active selection.
func (m *Manager) AddNode(parentID string, kind tree.Kind, name string) (tree.Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return tree.Node{}, errors.NewInvalidName(name)
	}
	var n tree.Node
	switch kind {
	case tree.KindFolder:
		n = tree.NewFolder(m.newID(), name)
	case tree.KindFile:
		n = tree.NewFile(m.newID(), name)
	default:
		return tree.Node{}, errors.NewInvalidRequest("type must be folder or file")
	}

	err := m.mutate(func(s state) (state, error) {
		files, ok := tree.InsertUnder(s.files, parentID, n)
		if !ok {
			return s, parentError(s.files, parentID)
		}
		s.files = files
		// Folders are never selected; adding one keeps the current selection.
		if n.IsFile() {
			s.activeID = n.ID
		}
		return s, nil
	})
	if err != nil {
		return tree.Node{}, err
	}
	return n, nil
}

// DeleteNode removes id and its subtree, clearing the selection if it was
// inside that subtree.
func (m *Manager) DeleteNode(id string) error {
	return m.mutate(func(s state) (state, error) {
		files, removed, ok := tree.Remove(s.files, id)
		if !ok {
			return s, errors.NewNotFound(id)
		}
		s.files = files
		if s.activeID != "" && tree.Contains(removed, s.activeID) {
			s.activeID = ""
		}
		return s, nil
	})
}

// RenameNode changes a node's display name. Blank names are refused.
func (m *Manager) RenameNode(id, name string) error {
	name = strings.TrimSpace(name)
	return m.mutate(func(s state) (state, error) {
		if _, ok := tree.Find(s.files, id); !ok {
			return s, errors.NewNotFound(id)
		}
		if name == "" {
			return s, errors.NewInvalidName(name)
		}
		s.files = tree.UpdateByID(s.files, id, func(n tree.Node) tree.Node {
			n.Name = name
			return n
		})
		return s, nil
	})
}

// MoveNode re-parents id as the last child of targetParentID ("" for the
// root level). Moving a node onto itself is a no-op; moving it under its own
// descendant is refused.
func (m *Manager) MoveNode(id, targetParentID string) error {
	if id == targetParentID {
		return nil
	}
	return m.mutate(func(s state) (state, error) {
		if _, ok := tree.Find(s.files, id); !ok {
			return s, errors.NewNotFound(id)
		}
		if targetParentID != "" {
			target, ok := tree.Find(s.files, targetParentID)
			if !ok {
				return s, errors.NewNotFound(targetParentID)
			}
			if !target.IsFolder() {
				return s, errors.NewInvalidRequest("target parent is not a folder")
			}
			if tree.InSubtree(s.files, id, targetParentID) {
				return s, errors.NewCycle(id, targetParentID)
			}
		}
		files, node, _ := tree.Remove(s.files, id)
		files, ok := tree.InsertUnder(files, targetParentID, node)
		if !ok {
			return s, errUnchanged
		}
		s.files = files
		return s, nil
	})
}

// ToggleFolder flips a folder's open state. Files are ignored.
func (m *Manager) ToggleFolder(id string) error {
	return m.mutate(func(s state) (state, error) {
		n, ok := tree.Find(s.files, id)
		if !ok {
			return s, errors.NewNotFound(id)
		}
		if !n.IsFolder() {
			return s, errUnchanged
		}
		s.files = tree.UpdateByID(s.files, id, func(n tree.Node) tree.Node {
			n.IsOpen = !n.IsOpen
			return n
		})
		return s, nil
	})
}

// SetActive selects a file. An empty id clears the selection.
func (m *Manager) SetActive(id string) error {
	return m.mutate(func(s state) (state, error) {
		if id == s.activeID {
			return s, errUnchanged
		}
		if id != "" {
			n, ok := tree.Find(s.files, id)
			if !ok {
				return s, errors.NewNotFound(id)
			}
			if !n.IsFile() {
				return s, errors.NewNotAFile(id)
			}
		}
		s.activeID = id
		return s, nil
	})
}

// UpdateFileContent replaces a file's body.
func (m *Manager) UpdateFileContent(id, body string) error {
	return m.mutate(func(s state) (state, error) {
		n, ok := tree.Find(s.files, id)
		if !ok {
			return s, errors.NewNotFound(id)
		}
		if !n.IsFile() {
			return s, errors.NewNotAFile(id)
		}
		if n.Content == body {
			return s, errUnchanged
		}
		s.files = tree.UpdateByID(s.files, id, func(n tree.Node) tree.Node {
			n.Content = body
			return n
		})
		return s, nil
	})
}

// FileStats measures a file's body.
func (m *Manager) FileStats(id string) (content.Stats, error) {
	n, ok := m.Find(id)
	if !ok {
		return content.Stats{}, errors.NewNotFound(id)
	}
	if !n.IsFile() {
		return content.Stats{}, errors.NewNotAFile(id)
	}
	return content.Measure(n.Content), nil
}

func parentError(files tree.Forest, parentID string) error {
	if _, ok := tree.Find(files, parentID); !ok {
		return errors.NewNotFound(parentID)
	}
	return errors.NewInvalidRequest("parent is not a folder")
}
