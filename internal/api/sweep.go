package api

import (
	"net/http"
	"time"
)

// handleSweep runs one sweep now ("check now").
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	rep, err := s.sweeps.Fire(r.Context())
	if err != nil {
		s.logger.Error("api: sweep", "error", err)
		writeError(w, http.StatusServiceUnavailable, "sweep failed; it will be retried on the next tick")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskCount, _ := s.tasks.Count(ctx)
	open, _ := s.tasks.ListNonTerminal(ctx)
	auditCount, _ := s.audit.Count(ctx)

	status := map[string]any{
		"tasks":          taskCount,
		"open_tasks":     len(open),
		"audit_entries":  auditCount,
		"subscribers":    s.audit.Subscribers(),
		"schedule":       s.sweeps.Schedule(),
		"sweeps":         s.sweeps.Runs(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if rep, ok := s.sweeps.LastReport(); ok {
		rep.Results = nil
		status["last_sweep"] = rep
	}
	if err := s.sweeps.LastError(); err != nil {
		status["last_sweep_error"] = "sweep failed"
	}
	writeJSON(w, http.StatusOK, status)
}
