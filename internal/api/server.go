// Package api exposes tasks, manual transitions, sweeps and the audit log
// over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tasktide/pkg/audit"
	"tasktide/pkg/lifecycle"
	"tasktide/pkg/task"
	"tasktide/pkg/trigger"
)

// Server is the HTTP API server.
type Server struct {
	tasks   task.Store
	audit   *audit.Bus
	engine  *lifecycle.Engine
	sweeps  *trigger.Trigger
	logger  *slog.Logger
	clock   func() time.Time
	mux     *http.ServeMux
	started time.Time
}

// New creates a new Server. All handles are owned by the caller.
func New(tasks task.Store, log *audit.Bus, engine *lifecycle.Engine, sweeps *trigger.Trigger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		tasks:   tasks,
		audit:   log,
		engine:  engine,
		sweeps:  sweeps,
		logger:  logger,
		clock:   time.Now,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tasks
	s.mux.HandleFunc("GET /api/tasks", s.handleTaskList)
	s.mux.HandleFunc("POST /api/tasks", s.handleTaskCreate)
	s.mux.HandleFunc("GET /api/tasks/export", s.handleTaskExport)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskGet)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleTaskUpdate)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleTaskDelete)
	s.mux.HandleFunc("POST /api/tasks/{id}/complete", s.handleTaskComplete)
	s.mux.HandleFunc("POST /api/tasks/{id}/evaluate", s.handleTaskEvaluate)

	// Sweeps
	s.mux.HandleFunc("POST /api/sweep", s.handleSweep)

	// Audit
	s.mux.HandleFunc("GET /api/audit", s.handleAuditList)
	s.mux.HandleFunc("GET /api/audit/stream", s.handleAuditStream)
	s.mux.HandleFunc("GET /api/audit/verify", s.handleAuditVerify)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: write json", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs err and answers with a coarse message; store and
// engine details stay in the log.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error("api: "+msg, "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}
