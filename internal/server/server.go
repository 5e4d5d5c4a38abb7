// Package server exposes the session manager over HTTP: a JSON API for
// session and approval control, and a websocket stream for live
// notifications.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rwalker-dev/foreman/internal/archive"
	"github.com/rwalker-dev/foreman/internal/manager"
	"github.com/rwalker-dev/foreman/internal/session"
	"github.com/rwalker-dev/foreman/pkg/models"
)

// Server wires the manager and hub into an HTTP handler.
type Server struct {
	manager *manager.Manager
	hub     *Hub
	archive *archive.Store // nil disables archive endpoints
	http    *http.Server
}

// Config carries the server's collaborators.
type Config struct {
	// Addr is the listen address.
	Addr string
	// Manager owns the live sessions. Required.
	Manager *manager.Manager
	// Hub fans out notifications. Required.
	Hub *Hub
	// Archive serves terminated-session queries. Nil disables them.
	Archive *archive.Store
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		manager: cfg.Manager,
		hub:     cfg.Hub,
		archive: cfg.Archive,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleStopSession)
			r.Post("/events", s.handlePostEvent)
			r.Get("/ws", s.handleSubscribe)
			r.Post("/approvals/{requestID}", s.handleResolveApproval)
			r.Post("/autoapprove", s.handleAutoApprove)
		})
	})

	r.Get("/approvals", s.handleListApprovals)

	if s.archive != nil {
		r.Route("/archive/sessions", func(r chi.Router) {
			r.Get("/", s.handleArchiveList)
			r.Get("/{id}", s.handleArchiveGet)
			r.Get("/{id}/history", s.handleArchiveHistory)
		})
	}

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully within the given timeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Count(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Goal string `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	id, err := s.manager.Create(req.Goal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.manager.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         state.ID(),
		"goal":       state.Goal(),
		"status":     state.Status(),
		"started_at": state.StartedAt(),
		"task":       state.Tree(),
		"workers":    state.Workers().List(),
		"resources":  state.Resources(),
	})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Stop(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.SessionStatusStopped)})
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var ev session.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.Type == "" {
		writeError(w, http.StatusBadRequest, "event type is required")
		return
	}
	// Internal completion tags never come over the wire.
	if strings.HasPrefix(string(ev.Type), "_") {
		writeError(w, http.StatusBadRequest, "reserved event type")
		return
	}

	if err := s.manager.Dispatch(id, ev); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.manager.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.hub.Subscribe(w, r, id)
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	requestID := chi.URLParam(r, "requestID")

	var req struct {
		Decision models.Decision `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Decision == "" {
		writeError(w, http.StatusBadRequest, "decision is required")
		return
	}

	if err := s.manager.ResolveApproval(id, requestID, req.Decision); err != nil {
		if errors.Is(err, manager.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleAutoApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Worker  string `json:"worker"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Worker == "" {
		writeError(w, http.StatusBadRequest, "worker is required")
		return
	}

	if err := s.manager.SetAutoApprove(id, req.Worker, req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker": req.Worker, "enabled": req.Enabled})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	pending := s.manager.PendingApprovals()
	if pending == nil {
		pending = []manager.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.archive.ListSessions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.archive.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "archived session not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArchiveHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := s.archive.GetHistory(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
