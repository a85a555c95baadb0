// Package api exposes the operator surface over HTTP: binding control,
// state, the live event stream and metrics.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/binding"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/sink"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/supervisor"
)

// Controller is the part of the supervisor the API drives.
type Controller interface {
	Bind(loc string) (*binding.Binding, error)
	Unbind() error
	Status() supervisor.Status
}

// Config configures a Server.
type Config struct {
	Controller Controller
	Hub        *sink.Hub

	// TokenHash is a bcrypt hash of the operator token. Empty leaves the
	// API open.
	TokenHash string

	// Healthy, when set, is reported by /healthz as the tunnel state.
	Healthy func() bool

	Logger *slog.Logger
}

// Server is the operator HTTP API.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/bind", s.handleGetBind)
		r.Post("/bind", s.handlePostBind)
		r.Delete("/bind", s.handleDeleteBind)
		r.Get("/state", s.handleState)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// requireToken checks the bearer token (or ?token= for websocket clients
// that cannot set headers) against the configured hash.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.TokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = r.URL.Query().Get("token")
		}
		if token == "" || bcrypt.CompareHashAndPassword([]byte(s.cfg.TokenHash), []byte(token)) != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.cfg.Controller.Status()
	resp := map[string]any{"status": "ok", "state": st.State}
	if s.cfg.Healthy != nil {
		resp["tunnel"] = s.cfg.Healthy()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBind(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"binding": s.cfg.Controller.Status().Binding})
}

type bindRequest struct {
	URL string `json:"url"`
}

func (s *Server) handlePostBind(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	b, err := s.cfg.Controller.Bind(strings.TrimSpace(req.URL))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("api: bound", "url", b.Location, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"binding": b})
}

func (s *Server) handleDeleteBind(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Controller.Unbind(); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("api: unbound", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Controller.Status())
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrTargetInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, fault.ErrTargetUnresolved):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("api: request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
