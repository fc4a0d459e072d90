package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tasktide/pkg/audit"
)

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", 50)

	var (
		entries []audit.Entry
		err     error
	)
	if v := r.URL.Query().Get("task"); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid task id")
			return
		}
		entries, err = s.audit.ByTask(ctx, id, limit)
	} else {
		entries, err = s.audit.Recent(ctx, limit)
	}
	if err != nil {
		s.internalError(w, r, "could not read audit log", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.audit.VerifyChain(ctx); err != nil {
		s.logger.Warn("api: audit chain broken", "error", err)
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	n, err := s.audit.Count(ctx)
	if err != nil {
		s.internalError(w, r, "could not count audit entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": n})
}

// handleAuditStream pushes every new audit entry as a server-sent event.
// With ?after=<id>, entries recorded after that id are replayed first.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.audit.Subscribe()
	defer s.audit.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	seen := make(map[string]bool)
	if after := r.URL.Query().Get("after"); after != "" {
		backlog, err := s.audit.Since(ctx, after, 500)
		if err != nil {
			s.logger.Error("api: SSE replay", "error", err)
		}
		for i := range backlog {
			seen[backlog[i].ID] = true
			writeEvent(w, &backlog[i])
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if seen[e.ID] {
				continue
			}
			writeEvent(w, e)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e *audit.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s\nevent: transition\ndata: %s\n\n", e.ID, data)
}
