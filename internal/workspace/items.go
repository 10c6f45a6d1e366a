package workspace

import (
	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/tree"
)

// withActiveFile applies fn to the active file node. Without an active file
// the mutation is refused with ErrNoActiveFile.
func (m *Manager) withActiveFile(fn func(n tree.Node) (tree.Node, error)) error {
	return m.mutate(func(s state) (state, error) {
		if s.activeID == "" {
			return s, errors.NewNoActiveFile()
		}
		n, ok := tree.Find(s.files, s.activeID)
		if !ok || !n.IsFile() {
			return s, errors.NewNoActiveFile()
		}
		updated, err := fn(n)
		if err != nil {
			return s, err
		}
		s.files = tree.UpdateByID(s.files, n.ID, func(tree.Node) tree.Node { return updated })
		return s, nil
	})
}

// AddLink appends a link to the active file. An empty ID is minted.
func (m *Manager) AddLink(link tree.LinkItem) (tree.LinkItem, error) {
	if link.ID == "" {
		link.ID = m.newID()
	}
	err := m.withActiveFile(func(n tree.Node) (tree.Node, error) {
		links := make([]tree.LinkItem, 0, len(n.Links)+1)
		links = append(links, n.Links...)
		n.Links = append(links, link)
		return n, nil
	})
	if err != nil {
		return tree.LinkItem{}, err
	}
	return link, nil
}

// UpdateLink replaces the active file's link with the same ID.
func (m *Manager) UpdateLink(link tree.LinkItem) error {
	return m.withActiveFile(func(n tree.Node) (tree.Node, error) {
		links, ok := replaceByID(n.Links, link, func(l tree.LinkItem) string { return l.ID })
		if !ok {
			return n, errors.NewNotFound(link.ID)
		}
		n.Links = links
		return n, nil
	})
}

// DeleteLink removes a link from the active file.
func (m *Manager) DeleteLink(id string) error {
	return m.withActiveFile(func(n tree.Node) (tree.Node, error) {
		links, ok := removeByID(n.Links, id, func(l tree.LinkItem) string { return l.ID })
		if !ok {
			return n, errors.NewNotFound(id)
		}
		n.Links = links
		return n, nil
	})
}

// AddPrompt appends a prompt to the active file. An empty ID is minted.
func (m *Manager) AddPrompt(p tree.PromptItem) (tree.PromptItem, error) {
	if p.ID == "" {
		p.ID = m.newID()
	}
	err := m.withActiveFile(func(n tree.Node) (tree.Node, error) {
		prompts := make([]tree.PromptItem, 0, len(n.Prompts)+1)
		prompts = append(prompts, n.Prompts...)
		n.Prompts = append(prompts, p)
		return n, nil
	})
	if err != nil {
		return tree.PromptItem{}, err
	}
	return p, nil
}

// UpdatePrompt replaces the active file's prompt with the same ID.
func (m *Manager) UpdatePrompt(p tree.PromptItem) error {
	return m.withActiveFile(func(n tree.Node) (tree.Node, error) {
		prompts, ok := replaceByID(n.Prompts, p, func(p tree.PromptItem) string { return p.ID })
		if !ok {
			return n, errors.NewNotFound(p.ID)
		}
		n.Prompts = prompts
		return n, nil
	})
}

// DeletePrompt removes a prompt from the active file.
func (m *Manager) DeletePrompt(id string) error {
	return m.withActiveFile(func(n tree.Node) (tree.Node, error) {
		prompts, ok := removeByID(n.Prompts, id, func(p tree.PromptItem) string { return p.ID })
		if !ok {
			return n, errors.NewNotFound(id)
		}
		n.Prompts = prompts
		return n, nil
	})
}

// FindPrompt looks up a prompt on the active file.
func (m *Manager) FindPrompt(id string) (tree.PromptItem, error) {
	n, ok := m.ActiveNode()
	if !ok {
		return tree.PromptItem{}, errors.NewNoActiveFile()
	}
	for _, p := range n.Prompts {
		if p.ID == id {
			return p, nil
		}
	}
	return tree.PromptItem{}, errors.NewNotFound(id)
}

func replaceByID[T any](items []T, item T, key func(T) string) ([]T, bool) {
	id := key(item)
	for i := range items {
		if key(items[i]) == id {
			out := make([]T, len(items))
			copy(out, items)
			out[i] = item
			return out, true
		}
	}
	return items, false
}

func removeByID[T any](items []T, id string, key func(T) string) ([]T, bool) {
	for i := range items {
		if key(items[i]) == id {
			out := make([]T, 0, len(items)-1)
			out = append(out, items[:i]...)
			return append(out, items[i+1:]...), true
		}
	}
	return items, false
}
