// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bryan-buckman/rssynthesis/internal/backend"
	"github.com/bryan-buckman/rssynthesis/internal/database"
	"github.com/bryan-buckman/rssynthesis/internal/handler"
	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// RefreshTimeout bounds a manual refresh request.
const RefreshTimeout = 5 * time.Minute

// Server is the main HTTP server.
type Server struct {
	backend *backend.Backend
	router  chi.Router
	http    *http.Server
	logger  *zap.Logger
}

// New creates a new server.
func New(b *backend.Backend, logger *zap.Logger) *Server {
	s := &Server{
		backend: b,
		logger:  logger.Named("server"),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/about", s.handleAbout)

		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleUpdateFeed)
		r.Get("/feeds/{id}", s.handleGetFeed)
		r.Delete("/feeds/{id}", s.handleDeleteFeed)
		r.Post("/feeds/{id}/refresh", s.handleRefreshFeed)

		r.Get("/entries", s.handleListEntries)
		r.Get("/entries/{id}", s.handleReadEntry)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleSaveSettings)

		r.Get("/handlers", s.handleListHandlers)
		r.Get("/handlers/choices/{role}", s.handleHandlerChoices)
		r.Get("/handlers/{key}", s.handleGetHandler)
		r.Put("/handlers/{key}", s.handleUpdateHandler)

		r.Get("/backup", s.handleBackup)
		r.Post("/restore", s.handleRestore)
		r.Get("/opml", s.handleExportOPML)
		r.Post("/opml", s.handleImportOPML)
		r.Post("/refresh", s.handleRefresh)
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("server starting", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.Health())
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.About())
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.backend.ListFeeds(r.Context(), flag(r, "counts"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	var feed model.Feed
	if err := json.NewDecoder(r.Body).Decode(&feed); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.backend.UpdateFeed(r.Context(), feed); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, backend.FeedSummary{ID: feed.ID(), Feed: feed})
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.backend.FeedConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteFeed(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshFeed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), RefreshTimeout)
	defer cancel()

	n, err := s.backend.RefreshFeed(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "new_items": n})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), RefreshTimeout)
	defer cancel()

	results, err := s.backend.RefreshAll(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}

	total := 0
	for _, c := range results {
		total += c
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"new_items": total,
		"feeds":     len(results),
	})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.backend.ListEntries(r.Context(), r.URL.Query().Get("feed_id"), flag(r, "recent"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReadEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.backend.ReadEntry(r.Context(), chi.URLParam(r, "id"), flag(r, "redrive"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.Settings(r.Context()))
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.GlobalSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.backend.UpdateSettings(r.Context(), settings); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleListHandlers(w http.ResponseWriter, r *http.Request) {
	handlers, err := s.backend.Handlers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, handlers)
}

func (s *Server) handleGetHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.backend.HandlerConfig(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUpdateHandler(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	config, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := s.backend.UpdateHandler(r.Context(), key, config); err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.backend.HandlerConfig(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHandlerChoices(w http.ResponseWriter, r *http.Request) {
	keys, err := s.backend.HandlerChoices(handler.Role(chi.URLParam(r, "role")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	doc, err := s.backend.Backup(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=rssynthesis-backup.json")
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	body, err := upload(r, "file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer body.Close()

	doc, err := backend.DecodeBackup(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse backup: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.backend.Restore(r.Context(), doc); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "feeds": len(doc.Feeds)})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	body, err := upload(r, "opml")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer body.Close()

	imported, err := s.backend.ImportOPML(r.Context(), body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "imported": imported})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := s.backend.ExportOPML(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=rssynthesis-feeds.opml")
	_, _ = w.Write(data)
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, handler.ErrUnknownHandler):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrInvalidFeed),
		errors.Is(err, backend.ErrInvalidSettings),
		errors.Is(err, handler.ErrInvalidConfig):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// flag reads a boolean query parameter; anything unparsable is false.
func flag(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// upload returns the multipart file field, or the raw body for other content types.
func upload(r *http.Request, field string) (io.ReadCloser, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile(field)
		return file, err
	}
	return r.Body, nil
}
