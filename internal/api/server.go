// Package api is the HTTP surface for the dashboard and integrations (spec
// §6): deep-work and mission-control REST routes plus a WebSocket feed of
// bus system events. Grounded on the teacher's gateway.Server/Config
// pattern — stdlib net/http, no router framework.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/scheduler"
	"github.com/shabbark/pocketpaw/internal/session"
	"github.com/shabbark/pocketpaw/internal/store"
)

// Config wires an api.Server to the rest of the application.
type Config struct {
	Store     *store.Store
	Manager   *missioncontrol.Manager
	Scheduler *scheduler.Scheduler
	Session   *session.Session
	Bus       *bus.Bus

	// AllowOrigins controls accepted Origin headers for the dashboard
	// WebSocket; empty means same-origin only.
	AllowOrigins []string

	Logger *slog.Logger
}

// Server is the dashboard/integrations HTTP API.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New builds a Server and registers all routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP lets Server be used directly as an http.Handler (e.g. with
// http.Server or httptest.NewServer).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/deep-work/start", s.handleDeepWorkStart)
	s.mux.HandleFunc("GET /api/deep-work/projects/{id}/plan", s.handleDeepWorkPlan)
	s.mux.HandleFunc("POST /api/deep-work/projects/{id}/approve", s.handleDeepWorkApprove)
	s.mux.HandleFunc("POST /api/deep-work/projects/{id}/pause", s.handleDeepWorkPause)
	s.mux.HandleFunc("POST /api/deep-work/projects/{id}/resume", s.handleDeepWorkResume)

	s.mux.HandleFunc("POST /api/mission-control/projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /api/mission-control/projects", s.handleListProjects)
	s.mux.HandleFunc("GET /api/mission-control/projects/{id}", s.handleGetProject)
	s.mux.HandleFunc("PATCH /api/mission-control/projects/{id}", s.handlePatchProject)
	s.mux.HandleFunc("DELETE /api/mission-control/projects/{id}", s.handleDeleteProject)
	s.mux.HandleFunc("POST /api/mission-control/projects/{id}/approve", s.handleDeepWorkApprove)
	s.mux.HandleFunc("POST /api/mission-control/projects/{id}/pause", s.handleDeepWorkPause)
	s.mux.HandleFunc("POST /api/mission-control/projects/{id}/resume", s.handleDeepWorkResume)

	s.mux.HandleFunc("POST /api/mission-control/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/mission-control/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("POST /api/mission-control/tasks/{id}/status", s.handleUpdateTaskStatus)

	s.mux.HandleFunc("GET /api/files", s.handleBrowseFiles)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleWS streams every bus SystemEvent to a connected dashboard client
// (spec §6 "WebSocket events").
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sub := s.cfg.Bus.Subscribe("")
	defer s.cfg.Bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if env.System == nil {
				continue
			}
			if err := wsjson.Write(ctx, conn, env.System); err != nil {
				return
			}
		}
	}
}
