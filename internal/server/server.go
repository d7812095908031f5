package server

import (
	"net/http"
	"time"

	"github.com/peterje/runbox/internal/api"
	"github.com/peterje/runbox/internal/logging"
	"github.com/peterje/runbox/internal/models"
	ptymgr "github.com/peterje/runbox/internal/pty"
	"github.com/peterje/runbox/internal/ws"
	"github.com/sirupsen/logrus"
)

// Options carries what the routes need besides the session manager.
type Options struct {
	Store        api.RunStore
	Executor     api.Executor
	ExecTimeout  time.Duration
	PollInterval time.Duration
	Interpreter  models.InterpreterStatus
	Shepherd     bool
	Log          *logrus.Logger
}

type Server struct {
	mux    *http.ServeMux
	opts   Options
	PtyMgr ptymgr.SessionManager
}

func New(ptyMgr ptymgr.SessionManager, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	s := &Server{
		mux:    http.NewServeMux(),
		opts:   opts,
		PtyMgr: ptyMgr,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	sessions := api.NewSessionsHandler(s.PtyMgr, s.opts.Store, s.opts.Log)
	runs := api.NewRunsHandler(s.opts.Executor, s.opts.ExecTimeout, s.opts.Store, s.opts.Log)
	wsHandler := ws.NewHandler(s.PtyMgr, s.opts.Store, s.opts.PollInterval, s.opts.Log)

	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Runs
	s.mux.HandleFunc("POST /api/run", sessions.HandleRun)
	s.mux.HandleFunc("POST /api/exec", runs.HandleExec)
	s.mux.HandleFunc("GET /api/runs", runs.HandleList)

	// Sessions
	s.mux.HandleFunc("GET /api/sessions", sessions.HandleList)
	s.mux.HandleFunc("GET /api/sessions/{id}", sessions.HandleStatus)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", sessions.HandleDelete)
	s.mux.HandleFunc("POST /api/sessions/{id}/input", sessions.HandleInput)
	s.mux.HandleFunc("GET /api/sessions/{id}/output", sessions.HandleOutput)

	// WebSocket
	s.mux.Handle("GET /ws/session/{id}", wsHandler)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.opts.Interpreter.Installed {
		status = "degraded"
	}
	resp := models.HealthResponse{
		Status:      status,
		Interpreter: s.opts.Interpreter,
		Sessions:    len(s.PtyMgr.List()),
		Shepherd:    s.opts.Shepherd,
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
