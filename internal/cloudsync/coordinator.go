// Package cloudsync keeps the workspace in step with local and remote storage.
//
// Every accepted local change is saved locally right away and, while the
// session is cloud-active, pushed to the shared remote document after a quiet
// period. Remote changes made by other sessions replace the in-memory tree.
// Each remote write is tagged with this session's id and a per-session
// version so that the subscription echo of our own write is recognized and
// dropped instead of being applied again.
package cloudsync

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/folio/internal/local"
	"github.com/hpungsan/folio/internal/metrics"
	"github.com/hpungsan/folio/internal/remote"
	"github.com/hpungsan/folio/internal/workspace"
)

// DefaultDebounce is the quiet period before a local change is pushed.
const DefaultDebounce = 2 * time.Second

// Demotion causes, used in logs, status and metrics.
const (
	causeNotConfigured = "not_configured"
	causeAuth          = "auth"
	causeSubscribe     = "subscribe"
	causeFetch         = "fetch"
	causeSeed          = "seed"
	causeWrite         = "write"
)

var errAuth = stderrors.New("remote authentication failed")

// Options configures a Coordinator. Manager and Local are required.
type Options struct {
	Manager *workspace.Manager
	Local   local.Store
	// Remote is nil when no remote store is configured.
	Remote       remote.Store
	DocumentName string
	Debounce     time.Duration
	Logger       logrus.FieldLogger
	Metrics      *metrics.SyncMetrics
	// Session overrides the generated session id.
	Session string
	Now     func() time.Time
}

// Coordinator runs the sync state machine for one workspace session.
type Coordinator struct {
	mgr      *workspace.Manager
	local    local.Store
	remote   remote.Store
	docName  string
	debounce time.Duration
	log      logrus.FieldLogger
	metrics  *metrics.SyncMetrics
	session  string
	now      func() time.Time

	// pushMu serializes remote writes. Taken before mu.
	pushMu sync.Mutex
	// saveMu serializes local saves. Taken before mu.
	saveMu       sync.Mutex
	lastSavedRev uint64

	mu        sync.Mutex
	mode      Mode
	cloud     CloudState
	demoted   bool
	closed    bool
	timer     *time.Timer
	gen       uint64
	failures  int
	version   uint64
	inflight  map[uint64]struct{}
	sub       remote.Subscription
	unlisten  func()
	localErr  string
	remoteErr string
}

// New returns a coordinator in ModeUninitialized. Call Start to begin.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		mgr:      opts.Manager,
		local:    opts.Local,
		remote:   opts.Remote,
		docName:  opts.DocumentName,
		debounce: opts.Debounce,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		session:  opts.Session,
		now:      opts.Now,
		mode:     ModeUninitialized,
		inflight: map[uint64]struct{}{},
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.session == "" {
		c.session = uuid.NewString()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.docName == "" {
		c.docName = "global_v1"
	}
	c.log = c.log.WithField("session", c.session)
	c.metrics.SetMode(string(ModeUninitialized), modes...)
	return c
}

// Session returns the id this coordinator tags its remote writes with.
func (c *Coordinator) Session() string { return c.session }

// Start loads the persisted workspace (or seeds a new one), then tries to
// bring the remote path up. Remote failures demote the session to local-only
// and are not returned; the error is reserved for a closed coordinator.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return stderrors.New("cloudsync: coordinator is closed")
	}
	c.mu.Unlock()

	if snap, ok := c.local.Load(); ok {
		c.mgr.Load(snap)
		c.log.WithField("revision", snap.Revision).Debug("loaded local workspace")
	} else {
		snap := c.mgr.Seed()
		c.saveLocal(snap)
		c.log.Info("seeded new workspace")
	}

	unlisten := c.mgr.Subscribe(c.onLocalChange)
	c.mu.Lock()
	c.unlisten = unlisten
	c.mu.Unlock()

	if c.remote == nil {
		c.fallback(causeNotConfigured, nil, false)
		return nil
	}

	c.setMode(ModeAuthenticating)
	if err := c.remote.Authenticate(ctx); err != nil {
		c.fallback(causeAuth, err, true)
		return nil
	}

	sub, err := c.remote.Subscribe(ctx, c.docName, c.onRemoteUpdate, c.onRemoteError)
	if err != nil {
		c.fallback(causeSubscribe, err, true)
		return nil
	}
	c.mu.Lock()
	if c.closed || c.mode != ModeAuthenticating {
		// Closed or failed while subscribing.
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	doc, err := c.remote.Get(ctx, c.docName)
	switch {
	case stderrors.Is(err, remote.ErrDocumentNotFound):
		return c.seedRemote(ctx)
	case err != nil:
		c.fallback(causeFetch, err, true)
		return nil
	}

	c.mu.Lock()
	if c.mode != ModeAuthenticating {
		c.mu.Unlock()
		return nil
	}
	c.mode = ModeCloudActive
	c.cloud = CloudSynced
	c.mu.Unlock()
	c.metrics.SetMode(string(ModeCloudActive), modes...)

	c.mgr.Replace(doc.Files, workspace.OriginRemote)
	c.log.WithField("document", c.docName).Info("cloud sync active")
	return nil
}

// seedRemote writes the current tree as the first version of the document.
func (c *Coordinator) seedRemote(ctx context.Context) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.Lock()
	if c.mode != ModeAuthenticating {
		c.mu.Unlock()
		return nil
	}
	c.mode = ModeCloudActive
	c.cloud = CloudSaving
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.metrics.SetMode(string(ModeCloudActive), modes...)

	if err := c.write(ctx, c.mgr.Snapshot()); err != nil {
		c.fallback(causeSeed, err, true)
		return nil
	}
	c.mu.Lock()
	if gen == c.gen && c.mode == ModeCloudActive {
		c.cloud = CloudSynced
	}
	c.mu.Unlock()
	c.log.WithField("document", c.docName).Info("seeded remote document")
	return nil
}

// onLocalChange runs for every workspace transition.
func (c *Coordinator) onLocalChange(s workspace.Snapshot, origin workspace.Origin) {
	c.saveLocal(s)
	if origin != workspace.OriginLocal {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.mode != ModeCloudActive {
		return
	}
	c.scheduleLocked()
}

// saveLocal writes s unless a newer revision was already saved. Failures
// are recorded in the status and otherwise swallowed.
func (c *Coordinator) saveLocal(s workspace.Snapshot) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if s.Revision != 0 && s.Revision <= c.lastSavedRev {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	err := c.local.Save(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.localErr = err.Error()
		c.metrics.RecordLocalSaveFailure()
		c.log.WithError(err).Warn("local save failed")
		return
	}
	c.lastSavedRev = s.Revision
	c.localErr = ""
}

// scheduleLocked (re)arms the debounce timer. Only the latest arming fires.
func (c *Coordinator) scheduleLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.cloud = CloudSaving
	c.timer = time.AfterFunc(c.debounce, func() { c.fire(gen) })
}

func (c *Coordinator) fire(gen uint64) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.Lock()
	if c.closed || c.mode != ModeCloudActive || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.push(context.Background(), gen)
}

// Flush pushes a pending change now instead of waiting for the timer.
// It returns the write error, if any. Nothing pending is not an error.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.Lock()
	if c.closed || c.mode != ModeCloudActive || c.timer == nil {
		c.mu.Unlock()
		return nil
	}
	c.timer.Stop()
	c.timer = nil
	gen := c.gen
	c.mu.Unlock()

	return c.push(ctx, gen)
}

// push writes the current snapshot and settles the cloud sub-state.
// The caller holds pushMu.
func (c *Coordinator) push(ctx context.Context, gen uint64) error {
	err := c.write(ctx, c.mgr.Snapshot())
	if err != nil && stderrors.Is(err, errAuth) {
		c.fallback(causeAuth, err, true)
		return err
	}

	c.mu.Lock()
	if c.mode != ModeCloudActive {
		c.mu.Unlock()
		return err
	}
	if err == nil {
		c.failures = 0
		c.remoteErr = ""
		if gen == c.gen {
			c.cloud = CloudSynced
		}
		c.mu.Unlock()
		return nil
	}
	c.failures++
	c.remoteErr = err.Error()
	if c.failures < 2 {
		if gen == c.gen {
			c.cloud = CloudError
		}
		c.mu.Unlock()
		c.log.WithError(err).Warn("remote write failed")
		return err
	}
	c.mu.Unlock()
	c.fallback(causeWrite, err, true)
	return err
}

// write authenticates and merges s into the remote document.
func (c *Coordinator) write(ctx context.Context, s workspace.Snapshot) error {
	if err := c.remote.Authenticate(ctx); err != nil {
		return fmt.Errorf("%w: %w", errAuth, err)
	}

	c.mu.Lock()
	c.version++
	v := c.version
	c.inflight[v] = struct{}{}
	c.mu.Unlock()

	doc := remote.Document{
		Files:       s.Files,
		LastUpdated: c.now().UTC(),
		Origin:      &remote.Origin{Session: c.session, Version: v},
	}
	err := c.remote.Merge(ctx, c.docName, doc)
	c.metrics.RecordWrite(err == nil)
	if err != nil {
		c.mu.Lock()
		delete(c.inflight, v)
		c.mu.Unlock()
		return fmt.Errorf("write remote document: %w", err)
	}
	c.log.WithFields(logrus.Fields{"version": v, "revision": s.Revision}).Debug("pushed workspace")
	return nil
}

// onRemoteUpdate handles every document version the subscription delivers.
// Stores deliver versions in write order, so a foreign update is applied
// whatever its LastUpdated says; writer clocks are not comparable.
func (c *Coordinator) onRemoteUpdate(doc remote.Document) {
	c.mu.Lock()
	if doc.Origin != nil && doc.Origin.Session == c.session {
		delete(c.inflight, doc.Origin.Version)
		c.mu.Unlock()
		c.metrics.RecordEcho()
		c.log.WithField("version", doc.Origin.Version).Debug("suppressed echo")
		return
	}

	var reason string
	switch {
	case c.closed || c.mode != ModeCloudActive:
		reason = metrics.DiscardInactive
	case c.cloud == CloudSaving:
		reason = metrics.DiscardPending
	}
	if reason != "" {
		c.mu.Unlock()
		c.metrics.RecordDiscarded(reason)
		c.log.WithField("reason", reason).Debug("discarded remote update")
		return
	}
	c.mu.Unlock()

	c.mgr.Replace(doc.Files, workspace.OriginRemote)
	c.metrics.RecordApplied()
	c.log.Debug("applied remote update")
}

func (c *Coordinator) onRemoteError(err error) {
	c.fallback(causeSubscribe, err, true)
}

// fallback moves the session to local-only for good. demoted distinguishes
// a lost remote path from one that was never configured.
func (c *Coordinator) fallback(cause string, err error, demoted bool) {
	c.mu.Lock()
	if c.mode == ModeLocalFallback || c.closed {
		c.mu.Unlock()
		return
	}
	c.mode = ModeLocalFallback
	c.cloud = ""
	c.demoted = demoted
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	sub := c.sub
	c.sub = nil
	if err != nil {
		c.remoteErr = fmt.Sprintf("%s: %v", cause, err)
	}
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.metrics.SetMode(string(ModeLocalFallback), modes...)
	if !demoted {
		c.log.Info("no remote store configured, working locally")
		return
	}
	c.metrics.RecordDemotion(cause)
	c.log.WithError(err).WithField("cause", cause).Warn("remote sync disabled for this session")
}

func (c *Coordinator) setMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	c.metrics.SetMode(string(m), modes...)
}

// Status reports the current state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Mode:        c.mode,
		Cloud:       c.cloud,
		Session:     c.session,
		LocalError:  c.localErr,
		RemoteError: c.remoteErr,
		InFlight:    len(c.inflight),
		Indicator:   indicator(c.mode, c.cloud, c.demoted, c.localErr),
	}
	if c.remote != nil {
		st.Document = c.docName
	}
	return st
}

// Close cancels a pending push, stops the subscription and closes both
// stores. It does not flush; call Flush first to keep pending edits.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	sub := c.sub
	c.sub = nil
	unlisten := c.unlisten
	c.unlisten = nil
	c.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	if sub != nil {
		sub.Unsubscribe()
	}

	// Wait out a write or save already in progress.
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	var errs []error
	if c.remote != nil {
		if err := c.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close remote store: %w", err))
		}
	}
	if err := c.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local store: %w", err))
	}
	return stderrors.Join(errs...)
}
