package remote

import (
	"context"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
)

func init() {
	Register("memory", func(dsn string, _ logrus.FieldLogger) (Store, error) {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, err
		}
		return NewMemoryStore(NamedHub(u.Host)), nil
	})
}

var namedHubs = struct {
	mu   sync.Mutex
	hubs map[string]*Hub
}{hubs: map[string]*Hub{}}

// NamedHub returns the process-wide hub for name, creating it on first use.
// Every memory://<name> store opened in this process shares it.
func NamedHub(name string) *Hub {
	namedHubs.mu.Lock()
	defer namedHubs.mu.Unlock()
	h, ok := namedHubs.hubs[name]
	if !ok {
		h = NewHub()
		namedHubs.hubs[name] = h
	}
	return h
}

// Hub is an in-process document store shared by any number of MemoryStores.
type Hub struct {
	mu      sync.Mutex
	docs    map[string][]byte
	subs    map[string]map[int]*memorySub
	nextSub int
	writes  map[string]int
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		docs:   map[string][]byte{},
		subs:   map[string]map[int]*memorySub{},
		writes: map[string]int{},
	}
}

// Writes reports how many merges name has received.
func (h *Hub) Writes(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes[name]
}

// Fail delivers err to every subscriber of name and drops them.
func (h *Hub) Fail(name string, err error) {
	h.mu.Lock()
	subs := h.subs[name]
	delete(h.subs, name)
	h.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

func (h *Hub) get(name string) (Document, error) {
	h.mu.Lock()
	data, ok := h.docs[name]
	h.mu.Unlock()
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	return DecodeDocument(data)
}

func (h *Hub) merge(name string, doc Document) error {
	patch, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	h.mu.Lock()
	merged, err := MergeJSON(h.docs[name], patch)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.docs[name] = merged
	h.writes[name]++
	decoded, err := DecodeDocument(merged)
	subs := make([]*memorySub, 0, len(h.subs[name]))
	for _, s := range h.subs[name] {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	if err != nil {
		return err
	}

	for _, s := range subs {
		s.push(decoded)
	}
	return nil
}

func (h *Hub) subscribe(name string, onUpdate UpdateFunc, onError ErrorFunc) *memorySub {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	s := &memorySub{
		onUpdate: onUpdate,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.cancel = func() {
		h.mu.Lock()
		delete(h.subs[name], id)
		h.mu.Unlock()
	}
	if h.subs[name] == nil {
		h.subs[name] = map[int]*memorySub{}
	}
	h.subs[name][id] = s
	go s.run()
	return s
}

// memorySub delivers updates in order on its own goroutine so a slow
// subscriber never blocks writers.
type memorySub struct {
	onUpdate UpdateFunc
	onError  ErrorFunc
	cancel   func()

	mu     sync.Mutex
	queue  []Document
	failed error
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *memorySub) push(d Document) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	s.signal()
}

func (s *memorySub) fail(err error) {
	s.mu.Lock()
	s.failed = err
	s.mu.Unlock()
	s.signal()
}

func (s *memorySub) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				failed := s.failed
				s.mu.Unlock()
				if failed != nil {
					if s.onError != nil {
						s.onError(failed)
					}
					return
				}
				break
			}
			d := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.onUpdate(d)
		}
	}
}

func (s *memorySub) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		close(s.done)
	})
}

// MemoryStore is a Store backed by a Hub. Faults can be injected to exercise
// the sync coordinator's failure paths.
type MemoryStore struct {
	hub *Hub

	mu        sync.Mutex
	authed    bool
	authErr   error
	mergeErrs []error
	getErr    error
}

// NewMemoryStore returns a store over hub.
func NewMemoryStore(hub *Hub) *MemoryStore {
	return &MemoryStore{hub: hub}
}

// Hub returns the backing hub.
func (m *MemoryStore) Hub() *Hub { return m.hub }

// FailAuth makes Authenticate return err until cleared with nil. It also
// drops an established credential.
func (m *MemoryStore) FailAuth(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authErr = err
	if err != nil {
		m.authed = false
	}
}

// FailMerges makes the next len(errs) merges fail with errs in order.
func (m *MemoryStore) FailMerges(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeErrs = append(m.mergeErrs, errs...)
}

// FailGet makes Get return err until cleared with nil.
func (m *MemoryStore) FailGet(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

func (m *MemoryStore) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authErr != nil {
		return m.authErr
	}
	m.authed = true
	return nil
}

func (m *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.authed {
		return ErrNotAuthenticated
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, name string) (Document, error) {
	m.mu.Lock()
	err := m.check(ctx)
	if err == nil {
		err = m.getErr
	}
	m.mu.Unlock()
	if err != nil {
		return Document{}, err
	}
	return m.hub.get(name)
}

func (m *MemoryStore) Merge(ctx context.Context, name string, doc Document) error {
	m.mu.Lock()
	err := m.check(ctx)
	if err == nil && len(m.mergeErrs) > 0 {
		err = m.mergeErrs[0]
		m.mergeErrs = m.mergeErrs[1:]
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.hub.merge(name, doc)
}

func (m *MemoryStore) Subscribe(ctx context.Context, name string, onUpdate UpdateFunc, onError ErrorFunc) (Subscription, error) {
	m.mu.Lock()
	err := m.check(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.hub.subscribe(name, onUpdate, onError), nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authed = false
	return nil
}
