// Package docserver serves a remote.Store over HTTP so sessions on other
// machines can share one workspace document.
//
// Routes:
//
//	POST  /v1/auth/anonymous                 issue a bearer token
//	GET   /v1/documents/{name}               read a document
//	PATCH /v1/documents/{name}               merge into a document
//	GET   /v1/documents/{name}/subscribe     websocket feed of every write
package docserver

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/folio/internal/remote"
)

const (
	maxDocumentBytes = 10 << 20
	writeWait        = 10 * time.Second
)

// Server exposes a backing store to HTTP clients.
type Server struct {
	store    remote.Store
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	tokens map[string]time.Time
}

// New authenticates against store and returns a server for it.
func New(ctx context.Context, store remote.Store, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := store.Authenticate(ctx); err != nil {
		return nil, err
	}
	return &Server{
		store: store,
		log:   log.WithField("component", "docserver"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Clients are folio sessions, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		tokens: map[string]time.Time{},
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/anonymous", s.handleAuth)
	mux.HandleFunc("GET /v1/documents/{name}", s.requireToken(s.handleGet))
	mux.HandleFunc("PATCH /v1/documents/{name}", s.requireToken(s.handlePatch))
	mux.HandleFunc("GET /v1/documents/{name}/subscribe", s.requireToken(s.handleSubscribe))
	return mux
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = time.Now()
	s.mu.Unlock()
	s.log.WithField("remote_addr", r.RemoteAddr).Debug("issued anonymous token")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.RLock()
		_, known := s.tokens[strings.TrimSpace(token)]
		s.mu.RUnlock()
		if !ok || !known {
			writeError(w, http.StatusUnauthorized, "missing or unknown bearer token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(r.Context(), r.PathValue("name"))
	if stderrors.Is(err, remote.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("read document")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeDocument(w, http.StatusOK, doc)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) > maxDocumentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}
	doc, err := remote.DecodeDocument(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Merge(r.Context(), r.PathValue("name"), doc); err != nil {
		s.log.WithError(err).Error("merge document")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	latest := newLatest()
	sub, err := s.store.Subscribe(ctx, name, latest.set, func(err error) {
		s.log.WithError(err).Warn("backing subscription failed")
		cancel()
	})
	if err != nil {
		s.log.WithError(err).Error("subscribe to backing store")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		return
	}
	defer sub.Unsubscribe()

	// The reader only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.log.WithField("document", name)
	log.Debug("subscriber connected")
	for {
		select {
		case <-ctx.Done():
			log.Debug("subscriber disconnected")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-latest.ready:
			doc, ok := latest.take()
			if !ok {
				continue
			}
			data, err := remote.EncodeDocument(doc)
			if err != nil {
				log.WithError(err).Error("encode document")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// latest holds the newest undelivered document. Each update carries the
// whole document, so a slow client only ever needs the most recent one.
type latest struct {
	mu    sync.Mutex
	doc   *remote.Document
	ready chan struct{}
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{}, 1)}
}

func (l *latest) set(d remote.Document) {
	l.mu.Lock()
	l.doc = &d
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) take() (remote.Document, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.doc == nil {
		return remote.Document{}, false
	}
	d := *l.doc
	l.doc = nil
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDocument(w http.ResponseWriter, status int, doc remote.Document) {
	data, err := remote.EncodeDocument(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
