package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/folio/internal/session"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// NewServer creates the HTTP server for the workspace API. When gatherer is
// non-nil its metrics are served at /metrics.
func NewServer(s *session.Session, gatherer prometheus.Gatherer, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewHandler(s, gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler returns the routed API handler.
func NewHandler(s *session.Session, gatherer prometheus.Gatherer) http.Handler {
	h := &Handlers{s: s}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("GET /api/tree", h.HandleTree)
	mux.HandleFunc("GET /api/search", h.HandleSearch)

	mux.HandleFunc("POST /api/nodes", h.HandleAddNode)
	mux.HandleFunc("PATCH /api/nodes/{id}", h.HandleRenameNode)
	mux.HandleFunc("DELETE /api/nodes/{id}", h.HandleDeleteNode)
	mux.HandleFunc("POST /api/nodes/{id}/move", h.HandleMoveNode)
	mux.HandleFunc("POST /api/folders/{id}/toggle", h.HandleToggleFolder)

	mux.HandleFunc("PUT /api/active", h.HandleSetActive)
	mux.HandleFunc("GET /api/files/{id}", h.HandleGetFile)
	mux.HandleFunc("PUT /api/files/{id}/content", h.HandlePutContent)

	mux.HandleFunc("POST /api/links", h.HandleAddLink)
	mux.HandleFunc("PUT /api/links/{id}", h.HandleUpdateLink)
	mux.HandleFunc("DELETE /api/links/{id}", h.HandleDeleteLink)

	mux.HandleFunc("POST /api/prompts", h.HandleAddPrompt)
	mux.HandleFunc("PUT /api/prompts/{id}", h.HandleUpdatePrompt)
	mux.HandleFunc("DELETE /api/prompts/{id}", h.HandleDeletePrompt)
	mux.HandleFunc("POST /api/prompts/{id}/run", h.HandleRunPrompt)

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves srv until ctx is cancelled, then shuts it down gracefully.
func Run(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Infof("listening on http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
