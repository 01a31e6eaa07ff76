// Package server exposes the persisted tables read-only over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/pipeline"
	"github.com/sells-group/geoenrich/internal/store"
	"github.com/sells-group/geoenrich/internal/table"
)

// Page size limits for /tables/{name}.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Server serves tables from a DatasetStore.
type Server struct {
	store store.DatasetStore
	log   *zap.Logger
}

// New returns a server over st.
func New(st store.DatasetStore) *Server {
	return &Server{store: st, log: zap.L().With(zap.String("component", "server"))}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/tables", s.listTables)
	r.Get("/tables/{name}", s.getTable)
	r.Get("/report", s.report)
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tables": names})
}

// tablePage is the /tables/{name} response.
type tablePage struct {
	Name    string         `json:"name"`
	Columns []table.Column `json:"columns"`
	Rows    [][]any        `json:"rows"`
	Total   int            `json:"total"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
}

func (s *Server) getTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !table.ValidName(name) {
		writeError(w, http.StatusBadRequest, "invalid table name")
		return
	}
	limit, err := intParam(r, "limit", DefaultLimit)
	if err != nil || limit < 1 || limit > MaxLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}

	t, err := s.store.Load(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page := t.Page(offset, limit)
	writeJSON(w, http.StatusOK, tablePage{
		Name:    t.Name,
		Columns: t.Columns,
		Rows:    page.Rows,
		Total:   t.Len(),
		Offset:  offset,
		Limit:   limit,
	})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Load(r.Context(), pipeline.TableRunReport)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := pipeline.ReportFromTable(t)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
