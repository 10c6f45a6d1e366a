// Package workspace owns the canonical forest and the active-file pointer.
//
// A Manager is the only mutator of workspace state. Every accepted mutation
// produces a new Snapshot with a higher Revision and is reported to listeners
// after the Manager's lock is released, so listeners may call back into it.
package workspace

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/folio/internal/tree"
)

// Origin tells listeners where a state transition came from.
type Origin string

const (
	// OriginLocal marks mutations made by this session's user.
	OriginLocal Origin = "local"
	// OriginRemote marks replacements delivered by the remote store.
	OriginRemote Origin = "remote"
)

// Snapshot is an immutable view of the workspace at one revision.
// ActiveFileID is empty when no file is selected.
type Snapshot struct {
	Files        tree.Forest `json:"files"`
	ActiveFileID string      `json:"activeFileId"`
	Revision     uint64      `json:"revision"`
}

// Listener receives every state transition. Calls may arrive concurrently
// and out of order; compare Revision to discard stale snapshots.
type Listener func(s Snapshot, origin Origin)

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator replaces the ULID generator, mostly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// Manager holds the workspace state.
type Manager struct {
	mu       sync.Mutex
	files    tree.Forest
	activeID string
	rev      uint64

	listeners map[int]Listener
	nextLis   int

	newID func() string
}

// New returns a Manager with an empty forest.
func New(opts ...Option) *Manager {
	m := &Manager{
		files:     tree.Forest{},
		listeners: make(map[int]Listener),
		newID:     NewID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewID mints a time-ordered unique identifier.
func NewID() string {
	return ulid.Make().String()
}

// Subscribe registers fn for future transitions and returns a func that
// removes it.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextLis
	m.nextLis++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{Files: m.files, ActiveFileID: m.activeID, Revision: m.rev}
}

// Load installs the initial state without notifying listeners. A persisted
// active id that no longer resolves to a file is cleared.
func (m *Manager) Load(s Snapshot) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = nonNil(s.Files)
	m.activeID = validActive(m.files, s.ActiveFileID)
	m.rev++
	return m.snapshotLocked()
}

// Seed installs the first-run workspace without notifying listeners.
func (m *Manager) Seed() Snapshot {
	files, active := SeedForest(m.newID)
	return m.Load(Snapshot{Files: files, ActiveFileID: active})
}

// Replace swaps the whole forest. The active selection survives only if it
// still resolves to a file in files.
func (m *Manager) Replace(files tree.Forest, origin Origin) Snapshot {
	m.mu.Lock()
	files = nonNil(files)
	return m.commitLocked(files, validActive(files, m.activeID), origin)
}

// commitLocked installs new state, releases the lock and notifies listeners.
// The caller must hold m.mu.
func (m *Manager) commitLocked(files tree.Forest, activeID string, origin Origin) Snapshot {
	m.files = files
	m.activeID = activeID
	m.rev++
	s := m.snapshotLocked()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(s, origin)
	}
	return s
}

// Find looks up a node by id.
func (m *Manager) Find(id string) (tree.Node, bool) {
	return tree.Find(m.Snapshot().Files, id)
}

// ActiveNode returns the selected file, if any.
func (m *Manager) ActiveNode() (tree.Node, bool) {
	s := m.Snapshot()
	if s.ActiveFileID == "" {
		return tree.Node{}, false
	}
	return tree.Find(s.Files, s.ActiveFileID)
}

// Search returns the forest filtered by a case-insensitive name query.
func (m *Manager) Search(query string) tree.Forest {
	return tree.Filter(m.Snapshot().Files, query)
}

func validActive(files tree.Forest, id string) string {
	if id == "" {
		return ""
	}
	n, ok := tree.Find(files, id)
	if !ok || !n.IsFile() {
		return ""
	}
	return id
}

func nonNil(f tree.Forest) tree.Forest {
	if f == nil {
		return tree.Forest{}
	}
	return f
}
