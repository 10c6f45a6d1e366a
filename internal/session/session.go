// Package session assembles a live workspace: local and remote stores, the
// state manager, the sync coordinator and the prompt runner.
package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/folio/internal/cloudsync"
	"github.com/hpungsan/folio/internal/config"
	"github.com/hpungsan/folio/internal/content"
	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/local"
	"github.com/hpungsan/folio/internal/metrics"
	"github.com/hpungsan/folio/internal/prompt"
	"github.com/hpungsan/folio/internal/remote"
	"github.com/hpungsan/folio/internal/workspace"
)

// closeFlushTimeout bounds the final push made by Close.
const closeFlushTimeout = 5 * time.Second

// Session is one running workspace.
type Session struct {
	Config    *config.Config
	Workspace *workspace.Manager
	Sync      *cloudsync.Coordinator
	Metrics   *metrics.SyncMetrics
	// Gatherer is set when the registry passed to Open can also be scraped.
	Gatherer prometheus.Gatherer
	// Runner is nil when no API key is configured.
	Runner prompt.Runner

	log logrus.FieldLogger
}

// Open builds and starts a session. Remote problems never fail Open: the
// session falls back to local-only and reports it through Status. reg may be
// nil to skip metrics registration.
func Open(ctx context.Context, cfg *config.Config, baseDir string, log logrus.FieldLogger, reg prometheus.Registerer) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	store, err := local.Open(cfg.LocalStore, baseDir, log)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	var rs remote.Store
	if cfg.RemoteURL != "" {
		rs, err = remote.Open(cfg.RemoteURL, log)
		if err != nil {
			log.WithError(err).Warn("remote store unavailable, working locally")
			rs = nil
		}
	}

	m := metrics.New(reg)
	mgr := workspace.New()
	coord := cloudsync.New(cloudsync.Options{
		Manager:      mgr,
		Local:        store,
		Remote:       rs,
		DocumentName: cfg.DocumentName,
		Debounce:     cfg.Debounce(),
		Logger:       log,
		Metrics:      m,
	})
	if err := coord.Start(ctx); err != nil {
		_ = coord.Close()
		return nil, err
	}

	s := &Session{
		Config:    cfg,
		Workspace: mgr,
		Sync:      coord,
		Metrics:   m,
		log:       log,
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		s.Gatherer = g
	}
	runner, err := prompt.NewOpenAIRunner(prompt.Options{
		APIKey:       os.Getenv("OPENAI_API_KEY"),
		BaseURL:      cfg.AIBaseURL,
		Model:        cfg.AIModel,
		SystemPrompt: cfg.AISystemPrompt,
	}, log)
	if err == nil {
		s.Runner = runner
	} else {
		log.WithError(err).Debug("prompt runner disabled")
	}
	return s, nil
}

// Log returns the session's logger.
func (s *Session) Log() logrus.FieldLogger { return s.log }

// Status reports the sync state.
func (s *Session) Status() cloudsync.Status {
	return s.Sync.Status()
}

// RunPrompt runs one of the active file's prompts with the file's text as
// context. Model failures come back as text, not as an error.
func (s *Session) RunPrompt(ctx context.Context, promptID string) (string, error) {
	p, err := s.Workspace.FindPrompt(promptID)
	if err != nil {
		return "", err
	}
	file, ok := s.Workspace.ActiveNode()
	if !ok {
		return "", errors.NewNoActiveFile()
	}
	return prompt.Execute(ctx, s.Runner, p.PromptText, content.PlainText(file.Content)), nil
}

// Flush pushes a pending remote write now.
func (s *Session) Flush(ctx context.Context) error {
	return s.Sync.Flush(ctx)
}

// Close pushes pending edits, then releases every resource.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	if err := s.Sync.Flush(ctx); err != nil {
		s.log.WithError(err).Warn("final remote push failed")
	}
	return s.Sync.Close()
}
