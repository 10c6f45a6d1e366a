package session

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/folio/internal/cloudsync"
	"github.com/hpungsan/folio/internal/config"
	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/remote"
	"github.com/hpungsan/folio/internal/tree"
)

func testConfig(remoteURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.LocalStore = "memory"
	cfg.RemoteURL = remoteURL
	cfg.DocumentName = "session_test"
	return cfg
}

func open(t *testing.T, cfg *config.Config) *Session {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	log, _ := test.NewNullLogger()
	s, err := Open(context.Background(), cfg, t.TempDir(), log, prometheus.NewRegistry())
	require.NoError(t, err)
	return s
}

func TestOpen_LocalOnly(t *testing.T) {
	s := open(t, testConfig(""))
	defer s.Close()

	st := s.Status()
	require.Equal(t, cloudsync.ModeLocalFallback, st.Mode)
	require.Equal(t, cloudsync.IndicatorSaved, st.Indicator)
	require.NotEmpty(t, s.Workspace.Snapshot().Files, "first run seeds the workspace")
	require.Nil(t, s.Runner)
	require.NotNil(t, s.Gatherer, "a registry passed to Open is kept for scraping")
}

func TestOpen_BadRemoteFallsBack(t *testing.T) {
	s := open(t, testConfig("ftp://nowhere"))
	defer s.Close()
	require.Equal(t, cloudsync.ModeLocalFallback, s.Status().Mode)
}

func TestOpen_UnknownLocalStore(t *testing.T) {
	cfg := testConfig("")
	cfg.LocalStore = "floppy"
	_, err := Open(context.Background(), cfg, t.TempDir(), nil, nil)
	require.Error(t, err)
}

func TestOpen_CloudAndCloseFlushes(t *testing.T) {
	hubName := "session-" + t.Name()
	s := open(t, testConfig("memory://"+hubName))
	require.Equal(t, cloudsync.ModeCloudActive, s.Status().Mode)

	hub := remote.NamedHub(hubName)
	require.Equal(t, 1, hub.Writes("session_test"))

	n, err := s.Workspace.AddNode("", tree.KindFile, "Pending")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Equal(t, 2, hub.Writes("session_test"))

	// A second session on the same hub starts from the pushed tree.
	s2 := open(t, testConfig("memory://"+hubName))
	defer s2.Close()
	_, ok := s2.Workspace.Find(n.ID)
	require.True(t, ok)
}

type stubRunner struct{ gotPrompt, gotContext string }

func (r *stubRunner) Run(_ context.Context, p, c string) (string, error) {
	r.gotPrompt, r.gotContext = p, c
	return "done", nil
}

func TestRunPrompt(t *testing.T) {
	s := open(t, testConfig(""))
	defer s.Close()

	active, ok := s.Workspace.ActiveNode()
	require.True(t, ok)
	require.NotEmpty(t, active.Prompts)
	p := active.Prompts[0]

	// No runner: the failure comes back as text.
	out, err := s.RunPrompt(context.Background(), p.ID)
	require.NoError(t, err)
	require.Contains(t, out, "Prompt failed")

	stub := &stubRunner{}
	s.Runner = stub
	out, err = s.RunPrompt(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Equal(t, p.PromptText, stub.gotPrompt)
	require.NotContains(t, stub.gotContext, "<")

	_, err = s.RunPrompt(context.Background(), "missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, s.Workspace.SetActive(""))
	_, err = s.RunPrompt(context.Background(), p.ID)
	require.True(t, errors.Is(err, errors.ErrNoActiveFile))
}
