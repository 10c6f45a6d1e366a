package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/folio/internal/local"
	"github.com/hpungsan/folio/internal/metrics"
	"github.com/hpungsan/folio/internal/remote"
	"github.com/hpungsan/folio/internal/tree"
	"github.com/hpungsan/folio/internal/workspace"
)

const docName = "test_doc"

type fixture struct {
	mgr     *workspace.Manager
	local   local.Store
	remote  *remote.MemoryStore
	hub     *remote.Hub
	metrics *metrics.SyncMetrics
	coord   *Coordinator
}

func seqIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func newFixture(t *testing.T, debounce time.Duration, withRemote bool) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{
		mgr:     workspace.New(workspace.WithIDGenerator(seqIDs())),
		local:   local.NewMemory(log),
		hub:     remote.NewHub(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	opts := Options{
		Manager:      f.mgr,
		Local:        f.local,
		DocumentName: docName,
		Debounce:     debounce,
		Logger:       log,
		Metrics:      f.metrics,
		Session:      "session-a",
	}
	if withRemote {
		f.remote = remote.NewMemoryStore(f.hub)
		opts.Remote = f.remote
	}
	f.coord = New(opts)
	t.Cleanup(func() { _ = f.coord.Close() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.coord.Start(context.Background()))
}

// settle waits until every write's echo has been consumed.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.coord.Status().InFlight == 0
	}, time.Second, 5*time.Millisecond)
}

// otherSession returns an authenticated store on the same hub.
func (f *fixture) otherSession(t *testing.T) *remote.MemoryStore {
	t.Helper()
	other := remote.NewMemoryStore(f.hub)
	require.NoError(t, other.Authenticate(context.Background()))
	return other
}

func (f *fixture) remoteDoc(t *testing.T) remote.Document {
	t.Helper()
	doc, err := f.otherSession(t).Get(context.Background(), docName)
	require.NoError(t, err)
	return doc
}

func ids(f tree.Forest) []string {
	var out []string
	tree.Walk(f, func(n tree.Node, _ string, _ int) bool {
		out = append(out, n.ID)
		return true
	})
	return out
}

func TestStart_NoRemoteWorksLocally(t *testing.T) {
	f := newFixture(t, time.Hour, false)
	f.start(t)

	st := f.coord.Status()
	require.Equal(t, ModeLocalFallback, st.Mode)
	require.Equal(t, IndicatorSaved, st.Indicator)
	require.Empty(t, st.Document)

	// The seed workspace was persisted.
	saved, ok := f.local.Load()
	require.True(t, ok)
	require.Equal(t, ids(f.mgr.Snapshot().Files), ids(saved.Files))
	require.Equal(t, 0.0, testutil.ToFloat64(f.metrics.DemotionsTotal.WithLabelValues(causeNotConfigured)))
}

func TestStart_LoadsLocalWorkspace(t *testing.T) {
	f := newFixture(t, time.Hour, false)
	file := tree.NewFile("f1", "Persisted")
	require.NoError(t, f.local.Save(workspace.Snapshot{Files: tree.Forest{file}, ActiveFileID: "f1"}))

	f.start(t)

	s := f.mgr.Snapshot()
	require.Equal(t, []string{"f1"}, ids(s.Files))
	require.Equal(t, "f1", s.ActiveFileID)
}

func TestStart_LocalChangesSavedWithoutRemote(t *testing.T) {
	f := newFixture(t, time.Hour, false)
	f.start(t)

	n, err := f.mgr.AddNode("", tree.KindFile, "New")
	require.NoError(t, err)

	saved, ok := f.local.Load()
	require.True(t, ok)
	require.Contains(t, ids(saved.Files), n.ID)
	require.Equal(t, n.ID, saved.ActiveFileID)
}

func TestStart_SeedsMissingRemoteDocument(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)

	st := f.coord.Status()
	require.Equal(t, ModeCloudActive, st.Mode)
	require.Equal(t, CloudSynced, st.Cloud)
	require.Equal(t, IndicatorSyncedCloud, st.Indicator)
	require.Equal(t, docName, st.Document)
	require.Equal(t, 1, f.hub.Writes(docName))

	doc := f.remoteDoc(t)
	require.Equal(t, ids(f.mgr.Snapshot().Files), ids(doc.Files))
	require.NotNil(t, doc.Origin)
	require.Equal(t, "session-a", doc.Origin.Session)
}

func TestStart_ReplacesFromExistingDocument(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	shared := tree.Forest{tree.NewFile("shared", "Shared")}
	require.NoError(t, f.otherSession(t).Merge(context.Background(), docName, remote.Document{
		Files:       shared,
		LastUpdated: time.Now(),
		Origin:      &remote.Origin{Session: "session-b", Version: 1},
	}))

	f.start(t)

	require.Equal(t, []string{"shared"}, ids(f.mgr.Snapshot().Files))
	require.Equal(t, 1, f.hub.Writes(docName), "existing document must not be rewritten")

	saved, ok := f.local.Load()
	require.True(t, ok)
	require.Equal(t, []string{"shared"}, ids(saved.Files))
}

func TestStart_AuthFailureFallsBack(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.remote.FailAuth(errors.New("no credentials"))

	f.start(t)

	st := f.coord.Status()
	require.Equal(t, ModeLocalFallback, st.Mode)
	require.Equal(t, IndicatorLocalOnly, st.Indicator)
	require.Contains(t, st.RemoteError, "no credentials")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DemotionsTotal.WithLabelValues(causeAuth)))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Mode.WithLabelValues(string(ModeLocalFallback))))
	require.Equal(t, 0, f.hub.Writes(docName))
}

func TestStart_FetchFailureFallsBack(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.remote.FailGet(errors.New("timeout"))

	f.start(t)

	require.Equal(t, ModeLocalFallback, f.coord.Status().Mode)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DemotionsTotal.WithLabelValues(causeFetch)))
}

func TestStart_SeedFailureFallsBack(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.remote.FailMerges(errors.New("quota"))

	f.start(t)

	require.Equal(t, ModeLocalFallback, f.coord.Status().Mode)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DemotionsTotal.WithLabelValues(causeSeed)))
}

func TestDebounce_CoalescesIntoOneWrite(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond, true)
	f.start(t)
	f.settle(t)
	require.Equal(t, 1, f.hub.Writes(docName))

	var last tree.Node
	for i := 0; i < 5; i++ {
		n, err := f.mgr.AddNode("", tree.KindFile, fmt.Sprintf("file %d", i))
		require.NoError(t, err)
		last = n
	}
	require.Equal(t, CloudSaving, f.coord.Status().Cloud)
	require.Equal(t, IndicatorSaving, f.coord.Status().Indicator)

	require.Eventually(t, func() bool {
		return f.coord.Status().Cloud == CloudSynced
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	require.Equal(t, 2, f.hub.Writes(docName))
	doc := f.remoteDoc(t)
	require.Equal(t, ids(f.mgr.Snapshot().Files), ids(doc.Files))
	require.Contains(t, ids(doc.Files), last.ID)
}

func TestEcho_DoesNotReplaceState(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)
	f.settle(t)

	_, err := f.mgr.AddNode("", tree.KindFolder, "Echoed")
	require.NoError(t, err)
	before := f.mgr.Snapshot()

	require.NoError(t, f.coord.Flush(context.Background()))
	f.settle(t)

	after := f.mgr.Snapshot()
	require.Equal(t, before.Revision, after.Revision)
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EchoesSuppressedTotal))
	require.Equal(t, 0.0, testutil.ToFloat64(f.metrics.RemoteUpdatesAppliedTotal))
}

func TestRemoteUpdate_AppliedAndNotPushedBack(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, true)
	f.start(t)
	f.settle(t)

	external := tree.Forest{tree.NewFolder("ext", "External")}
	require.NoError(t, f.otherSession(t).Merge(context.Background(), docName, remote.Document{
		Files:       external,
		LastUpdated: time.Now(),
		Origin:      &remote.Origin{Session: "session-b", Version: 7},
	}))

	require.Eventually(t, func() bool {
		return len(ids(f.mgr.Snapshot().Files)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"ext"}, ids(f.mgr.Snapshot().Files))
	require.Empty(t, f.mgr.Snapshot().ActiveFileID, "active file no longer exists")

	saved, ok := f.local.Load()
	require.True(t, ok)
	require.Equal(t, []string{"ext"}, ids(saved.Files))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, f.hub.Writes(docName), "remote replacement must not be pushed back")
	require.Equal(t, CloudSynced, f.coord.Status().Cloud)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RemoteUpdatesAppliedTotal))
}

func TestRemoteUpdate_AppliedWhenWriterClockIsBehind(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)
	f.settle(t)

	_, err := f.mgr.AddNode("", tree.KindFile, "Mine")
	require.NoError(t, err)
	require.NoError(t, f.coord.Flush(context.Background()))
	f.settle(t)
	require.Equal(t, CloudSynced, f.coord.Status().Cloud)

	require.NoError(t, f.otherSession(t).Merge(context.Background(), docName, remote.Document{
		Files:       tree.Forest{tree.NewFolder("ext", "External")},
		LastUpdated: time.Now().Add(-time.Hour),
		Origin:      &remote.Origin{Session: "session-b", Version: 1},
	}))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RemoteUpdatesAppliedTotal) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"ext"}, ids(f.mgr.Snapshot().Files))
	require.Equal(t, ids(f.remoteDoc(t).Files), ids(f.mgr.Snapshot().Files))
	require.Equal(t, CloudSynced, f.coord.Status().Cloud)
}

func TestRemoteUpdate_DiscardedWhileSaving(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)
	f.settle(t)

	mine, err := f.mgr.AddNode("", tree.KindFile, "Mine")
	require.NoError(t, err)
	require.Equal(t, CloudSaving, f.coord.Status().Cloud)

	require.NoError(t, f.otherSession(t).Merge(context.Background(), docName, remote.Document{
		Files:       tree.Forest{tree.NewFile("theirs", "Theirs")},
		LastUpdated: time.Now(),
		Origin:      &remote.Origin{Session: "session-b", Version: 1},
	}))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RemoteUpdatesDiscardedTotal.WithLabelValues(metrics.DiscardPending)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, ids(f.mgr.Snapshot().Files), mine.ID)

	// The pending push wins.
	require.NoError(t, f.coord.Flush(context.Background()))
	doc := f.remoteDoc(t)
	require.Contains(t, ids(doc.Files), mine.ID)
	require.NotContains(t, ids(doc.Files), "theirs")
}

func TestWriteFailure_ErrorThenFallback(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)
	f.remote.FailMerges(errors.New("boom 1"), errors.New("boom 2"))

	_, err := f.mgr.AddNode("", tree.KindFile, "One")
	require.NoError(t, err)
	require.Error(t, f.coord.Flush(context.Background()))

	st := f.coord.Status()
	require.Equal(t, ModeCloudActive, st.Mode)
	require.Equal(t, CloudError, st.Cloud)
	require.Equal(t, IndicatorError, st.Indicator)
	require.Contains(t, st.RemoteError, "boom 1")

	_, err = f.mgr.AddNode("", tree.KindFile, "Two")
	require.NoError(t, err)
	require.Equal(t, CloudSaving, f.coord.Status().Cloud)
	require.Error(t, f.coord.Flush(context.Background()))

	st = f.coord.Status()
	require.Equal(t, ModeLocalFallback, st.Mode)
	require.Equal(t, IndicatorLocalOnly, st.Indicator)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DemotionsTotal.WithLabelValues(causeWrite)))
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.RemoteWritesTotal.WithLabelValues(metrics.ResultError)))

	// Local-only from here: edits are saved but never pushed.
	n, err := f.mgr.AddNode("", tree.KindFile, "Three")
	require.NoError(t, err)
	require.NoError(t, f.coord.Flush(context.Background()))
	require.Equal(t, 1, f.hub.Writes(docName))
	saved, ok := f.local.Load()
	require.True(t, ok)
	require.Contains(t, ids(saved.Files), n.ID)
}

func TestWriteFailure_RecoveryResetsCount(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)

	f.remote.FailMerges(errors.New("blip"))
	_, err := f.mgr.AddNode("", tree.KindFile, "One")
	require.NoError(t, err)
	require.Error(t, f.coord.Flush(context.Background()))
	require.Equal(t, CloudError, f.coord.Status().Cloud)

	_, err = f.mgr.AddNode("", tree.KindFile, "Two")
	require.NoError(t, err)
	require.NoError(t, f.coord.Flush(context.Background()))
	st := f.coord.Status()
	require.Equal(t, CloudSynced, st.Cloud)
	require.Empty(t, st.RemoteError)

	f.remote.FailMerges(errors.New("blip again"))
	_, err = f.mgr.AddNode("", tree.KindFile, "Three")
	require.NoError(t, err)
	require.Error(t, f.coord.Flush(context.Background()))
	require.Equal(t, ModeCloudActive, f.coord.Status().Mode)
	require.Equal(t, CloudError, f.coord.Status().Cloud)
}

func TestAuthFailureBeforeWrite_Demotes(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)

	f.remote.FailAuth(errors.New("token revoked"))
	_, err := f.mgr.AddNode("", tree.KindFile, "One")
	require.NoError(t, err)
	require.Error(t, f.coord.Flush(context.Background()))

	st := f.coord.Status()
	require.Equal(t, ModeLocalFallback, st.Mode)
	require.Contains(t, st.RemoteError, "token revoked")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DemotionsTotal.WithLabelValues(causeAuth)))
}

func TestSubscriptionError_Demotes(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)

	f.hub.Fail(docName, errors.New("stream reset"))

	require.Eventually(t, func() bool {
		return f.coord.Status().Mode == ModeLocalFallback
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, f.coord.Status().RemoteError, "stream reset")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DemotionsTotal.WithLabelValues(causeSubscribe)))
}

func TestFlush_NothingPending(t *testing.T) {
	f := newFixture(t, time.Hour, true)
	f.start(t)
	require.NoError(t, f.coord.Flush(context.Background()))
	require.Equal(t, 1, f.hub.Writes(docName))
}

func TestClose_CancelsPendingPush(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, true)
	f.start(t)
	f.settle(t)

	_, err := f.mgr.AddNode("", tree.KindFile, "Unsent")
	require.NoError(t, err)
	require.NoError(t, f.coord.Close())

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, f.hub.Writes(docName))

	// Closing twice is harmless.
	require.NoError(t, f.coord.Close())
	require.Error(t, f.coord.Start(context.Background()))
}

type failingStore struct {
	mu    sync.Mutex
	saves int
}

func (s *failingStore) Save(workspace.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return errors.New("disk full")
}

func (s *failingStore) Load() (workspace.Snapshot, bool) { return workspace.Snapshot{}, false }
func (s *failingStore) Close() error                     { return nil }

func TestLocalSaveFailure_IsSwallowed(t *testing.T) {
	log, _ := test.NewNullLogger()
	store := &failingStore{}
	m := metrics.New(prometheus.NewRegistry())
	mgr := workspace.New(workspace.WithIDGenerator(seqIDs()))
	c := New(Options{Manager: mgr, Local: store, Logger: log, Metrics: m})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(context.Background()))

	_, err := mgr.AddNode("", tree.KindFile, "Still in memory")
	require.NoError(t, err)

	st := c.Status()
	require.Equal(t, IndicatorError, st.Indicator)
	require.Contains(t, st.LocalError, "disk full")
	require.Equal(t, 2.0, testutil.ToFloat64(m.LocalSaveFailuresTotal))
	require.Equal(t, 2, store.saves)
	require.NotEmpty(t, c.Session())
}

func TestIndicator(t *testing.T) {
	tests := []struct {
		mode     Mode
		cloud    CloudState
		demoted  bool
		localErr string
		want     string
	}{
		{ModeCloudActive, CloudSynced, false, "", IndicatorSyncedCloud},
		{ModeCloudActive, CloudSaving, false, "", IndicatorSaving},
		{ModeCloudActive, CloudError, false, "", IndicatorError},
		{ModeLocalFallback, "", true, "", IndicatorLocalOnly},
		{ModeLocalFallback, "", false, "", IndicatorSaved},
		{ModeLocalFallback, "", false, "io", IndicatorError},
		{ModeAuthenticating, "", false, "", IndicatorSaving},
		{ModeUninitialized, "", false, "", IndicatorSaved},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.mode, tt.want), func(t *testing.T) {
			require.Equal(t, tt.want, indicator(tt.mode, tt.cloud, tt.demoted, tt.localErr))
		})
	}
}
