package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/executor"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/planner"
	"github.com/shabbark/pocketpaw/internal/scheduler"
	"github.com/shabbark/pocketpaw/internal/session"
	"github.com/shabbark/pocketpaw/internal/store"
)

type noopDispatcher struct{}

func (noopDispatcher) ExecuteTaskBackground(ctx context.Context, taskID, agentID string) bool {
	return true
}
func (noopDispatcher) SetOnTaskDone(cb executor.OnTaskDone) {}

func newTestServer(t *testing.T, p planner.Planner) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	b := bus.New(nil)
	mgr := missioncontrol.New(st, b, t.TempDir())
	sched := scheduler.New(st, mgr, b, noopDispatcher{}, nil, nil)
	sess := session.New(mgr, st, sched, p)
	srv := New(Config{Store: st, Manager: mgr, Scheduler: sched, Session: sess, Bus: b})
	return srv, st
}

func doRequest(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateProject_AndGet(t *testing.T) {
	srv, _ := newTestServer(t, &planner.StaticPlanner{})

	rec := doRequest(t, srv, http.MethodPost, "/api/mission-control/projects", createProjectRequest{Title: "launch"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Project store.Project `json:"project"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "launch", created.Project.Title)

	rec = doRequest(t, srv, http.MethodGet, "/api/mission-control/projects/"+created.Project.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetProject_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, &planner.StaticPlanner{})
	rec := doRequest(t, srv, http.MethodGet, "/api/mission-control/projects/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpdateTaskStatus_RejectsInvalidEnum(t *testing.T) {
	srv, st := newTestServer(t, &planner.StaticPlanner{})
	task, err := st.CreateTask(context.Background(), store.Task{Title: "a task"})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodPost, "/api/mission-control/tasks/"+task.ID+"/status", updateTaskStatusRequest{Status: "not-a-real-status"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleUpdateTaskStatus_SetsCompletedAtOnlyForDone(t *testing.T) {
	srv, st := newTestServer(t, &planner.StaticPlanner{})
	task, err := st.CreateTask(context.Background(), store.Task{Title: "a task"})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodPost, "/api/mission-control/tasks/"+task.ID+"/status", updateTaskStatusRequest{Status: "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Task store.Task `json:"task"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Task.CompletedAt)

	rec = doRequest(t, srv, http.MethodPost, "/api/mission-control/tasks/"+task.ID+"/status", updateTaskStatusRequest{Status: "done"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Task.CompletedAt)
}

func TestHandleUpdateTaskStatus_UnknownTaskReturns404(t *testing.T) {
	srv, _ := newTestServer(t, &planner.StaticPlanner{})
	rec := doRequest(t, srv, http.MethodPost, "/api/mission-control/tasks/does-not-exist/status", updateTaskStatusRequest{Status: "done"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeepWorkStart_RejectsShortDescription(t *testing.T) {
	srv, _ := newTestServer(t, &planner.StaticPlanner{})
	rec := doRequest(t, srv, http.MethodPost, "/api/deep-work/start", startDeepWorkRequest{Description: "short"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleDeepWorkPlan_ReturnsExecutionLevels(t *testing.T) {
	srv, st := newTestServer(t, &planner.StaticPlanner{})
	ctx := context.Background()
	project, err := st.CreateProject(ctx, store.Project{Title: "plan view"})
	require.NoError(t, err)
	pid := project.ID
	a, err := st.CreateTask(ctx, store.Task{Title: "a", ProjectID: &pid})
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, store.Task{Title: "b", ProjectID: &pid, BlockedBy: []string{a.ID}})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/deep-work/projects/"+pid+"/plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view planView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Tasks, 2)
	require.Len(t, view.ExecutionLevels, 2)
	require.Len(t, view.ExecutionLevels[0], 1)
	require.Len(t, view.ExecutionLevels[1], 1)
}

func TestListVisibleEntries_CapsAfterHiddenFilter(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf(".hidden-%d", i)), nil, 0o644))
	}
	for i := 0; i < 60; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("visible-%02d", i)), nil, 0o644))
	}

	entries, err := listVisibleEntries(dir)
	require.NoError(t, err)
	require.Len(t, entries, maxVisibleEntries)
	for _, e := range entries {
		require.False(t, len(e.Name) > 0 && e.Name[0] == '.')
	}
}

func TestListVisibleEntries_FewerThanCap(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".secret"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), nil, 0o644))

	entries, err := listVisibleEntries(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "readme.txt", entries[0].Name)
}
