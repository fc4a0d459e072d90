package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"tasktide/pkg/lifecycle"
	"tasktide/pkg/report"
	"tasktide/pkg/task"
)

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	var status task.Status
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := task.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = st
	}
	limit := queryInt(r, "limit", 50)
	tasks, err := s.tasks.List(r.Context(), status, limit)
	if err != nil {
		s.internalError(w, r, "could not list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := s.tasks.Get(r.Context(), id)
	if errors.Is(err, task.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "could not load task", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if _, err := s.tasks.Insert(r.Context(), &t); err != nil {
		if task.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "could not save task", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// detailsPatch is the PATCH body. Omitted fields keep their stored value;
// status and schedule fields are rejected as unknown.
type detailsPatch struct {
	ShortName   *string `json:"short_name"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
}

func (p detailsPatch) apply(d task.Details) task.Details {
	if p.ShortName != nil {
		d.ShortName = *p.ShortName
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Location != nil {
		d.Location = *p.Location
	}
	return d
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch detailsPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	cur, err := s.tasks.Get(r.Context(), id)
	if errors.Is(err, task.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "could not load task", err)
		return
	}

	t, err := s.tasks.UpdateDetails(r.Context(), id, patch.apply(cur.Details()))
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case task.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.internalError(w, r, "could not update task", err)
	default:
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := s.tasks.Delete(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "could not delete task", err)
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}

func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Complete(r.Context(), id)
	s.writeResult(w, r, res, err, "could not complete task")
}

func (s *Server) handleTaskEvaluate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Evaluate(r.Context(), id, s.clock())
	s.writeResult(w, r, res, err, "could not evaluate task")
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res lifecycle.Result, err error, msg string) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case task.IsValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		s.internalError(w, r, msg, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleTaskExport(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListNonTerminal(r.Context())
	if err != nil {
		s.internalError(w, r, "could not export tasks", err)
		return
	}
	now := s.clock()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(now)+`"`)
	if err := report.WriteHTML(w, tasks, now); err != nil {
		s.logger.Error("api: export", "error", err)
	}
}
