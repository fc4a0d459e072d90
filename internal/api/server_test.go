package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktide/internal/db"
	"tasktide/pkg/audit"
	"tasktide/pkg/lifecycle"
	"tasktide/pkg/task"
	"tasktide/pkg/trigger"
)

type fixture struct {
	srv   *Server
	tasks *task.SQLiteStore
	bus   *audit.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	tasks := task.NewSQLiteStore(conn)
	log := audit.NewSQLiteStore(conn)
	require.NoError(t, tasks.EnsureTable(ctx))
	require.NoError(t, log.EnsureTable(ctx))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := audit.NewBus(log)
	engine := lifecycle.New(tasks, bus, lifecycle.WithLogger(logger))
	sweeps, err := trigger.New(engine, "", trigger.WithLogger(logger))
	require.NoError(t, err)

	return &fixture{srv: New(tasks, bus, engine, sweeps, logger), tasks: tasks, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) insert(t *testing.T, start time.Time, hours int) int64 {
	t.Helper()
	id, err := f.tasks.Insert(context.Background(), &task.Task{
		ShortName: "Review", Description: "Quarterly review", StartTime: start, DurationHours: hours,
	})
	require.NoError(t, err)
	return id
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTaskCreateAndGet(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/tasks", `{"short_name":"Gym","description":"Leg day","start_time":"2026-09-01T18:00:00Z","duration_hours":2,"location":"Downtown"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[task.Task](t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, task.StatusRecorded, created.Status)

	rec = f.do(t, "GET", "/api/tasks/"+itoa(created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[task.Task](t, rec)
	assert.Equal(t, "Gym", got.ShortName)
	assert.Equal(t, 2, got.DurationHours)

	rec = f.do(t, "GET", "/api/tasks?status=recorded", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]task.Task](t, rec), 1)
}

func TestTaskCreateValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/tasks", `{"short_name":"Gym","description":"x","duration_hours":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "start time is required")

	rec = f.do(t, "POST", "/api/tasks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "GET", "/api/tasks?status=done", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskNotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/tasks/99", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "DELETE", "/api/tasks/99", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/tasks/99/complete", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/api/tasks/abc", "").Code)
}

func TestTaskUpdateDetails(t *testing.T) {
	f := newFixture(t)
	id := f.insert(t, time.Now().Add(-time.Minute), 2)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/tasks/"+itoa(id)+"/evaluate", "").Code)

	rec := f.do(t, "PATCH", "/api/tasks/"+itoa(id), `{"location":"Room 12","description":"Moved"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[task.Task](t, rec)
	assert.Equal(t, "Review", got.ShortName)
	assert.Equal(t, "Moved", got.Description)
	assert.Equal(t, "Room 12", got.Location)
	assert.Equal(t, task.StatusInProgress, got.Status)

	rec = f.do(t, "PATCH", "/api/tasks/"+itoa(id), `{"status":"completed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, "PATCH", "/api/tasks/"+itoa(id), `{"duration_hours":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, "PATCH", "/api/tasks/"+itoa(id), `{"short_name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "PATCH", "/api/tasks/99", `{"location":"x"}`).Code)

	stored, err := f.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, stored.Status)
	assert.Equal(t, 2, stored.DurationHours)
	assert.Equal(t, "Review", stored.ShortName)
}

func TestTaskDelete(t *testing.T) {
	f := newFixture(t)
	id := f.insert(t, time.Now().Add(time.Hour), 1)

	rec := f.do(t, "DELETE", "/api/tasks/"+itoa(id), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/tasks/"+itoa(id), "").Code)
}

func TestTaskCompleteTwice(t *testing.T) {
	f := newFixture(t)
	id := f.insert(t, time.Now().Add(time.Hour), 1)

	rec := f.do(t, "POST", "/api/tasks/"+itoa(id)+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, lifecycle.OutcomeUpdated, decode[lifecycle.Result](t, rec).Outcome)

	rec = f.do(t, "POST", "/api/tasks/"+itoa(id)+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lifecycle.OutcomeSkipped, decode[lifecycle.Result](t, rec).Outcome)

	rec = f.do(t, "GET", "/api/audit?task="+itoa(id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]audit.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.SourceManual, entries[0].Source)
}

func TestTaskEvaluate(t *testing.T) {
	f := newFixture(t)
	id := f.insert(t, time.Now().Add(-time.Minute), 2)

	rec := f.do(t, "POST", "/api/tasks/"+itoa(id)+"/evaluate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[lifecycle.Result](t, rec)
	assert.Equal(t, lifecycle.OutcomeUpdated, res.Outcome)
	assert.Equal(t, task.StatusInProgress, res.To)
}

func TestSweepAndStatus(t *testing.T) {
	f := newFixture(t)
	f.insert(t, time.Now().Add(-time.Minute), 1)
	f.insert(t, time.Now().Add(24*time.Hour), 1)

	rec := f.do(t, "POST", "/api/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[lifecycle.Report](t, rec)
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 1, rep.Skipped)

	rec = f.do(t, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, status["tasks"])
	assert.EqualValues(t, 2, status["open_tasks"])
	assert.EqualValues(t, 1, status["audit_entries"])
	assert.EqualValues(t, 1, status["sweeps"])
	assert.Contains(t, status, "last_sweep")

	rec = f.do(t, "GET", "/api/audit/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["ok"])
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.insert(t, time.Now().Add(time.Hour), 1)

	rec := f.do(t, "GET", "/api/tasks/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "incomplete_tasks_")
	assert.Contains(t, rec.Body.String(), "<td>Review</td>")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuditStream(t *testing.T) {
	f := newFixture(t)
	id := f.insert(t, time.Now().Add(time.Hour), 1)

	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/audit/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	post, err := http.Post(ts.URL+"/api/tasks/"+itoa(id)+"/complete", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e audit.Entry
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		assert.Equal(t, id, e.TaskID)
		assert.Equal(t, task.StatusCompleted, e.NewStatus)
		return
	}
	t.Fatalf("stream ended without an event: %v", sc.Err())
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
