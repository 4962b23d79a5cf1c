package executor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shabbark/pocketpaw/internal/agentrouter"
	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/store"
)

type scriptedBackend struct {
	chunks []agentrouter.Chunk
}

func (b *scriptedBackend) Stream(ctx context.Context, settings agentrouter.AgentSettings, prompt string) (<-chan agentrouter.Chunk, error) {
	out := make(chan agentrouter.Chunk, len(b.chunks)+1)
	go func() {
		defer close(out)
		for _, c := range b.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func registerScriptedBackend(t *testing.T, name string, chunks []agentrouter.Chunk) {
	t.Helper()
	agentrouter.RegisterBackend(name, func() agentrouter.Backend {
		return &scriptedBackend{chunks: chunks}
	})
}

func newTestExecutor(t *testing.T) (*Executor, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	b := bus.New(nil)
	mgr := missioncontrol.New(s, b, t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := New(mgr, s, b, BackendSettings{AnthropicAPIKey: "test-key", AnthropicModel: "claude-test"}, logger)
	return exec, s
}

func seedTaskAndAgent(t *testing.T, s *store.Store, backend string) (store.Task, store.AgentProfile) {
	t.Helper()
	ctx := context.Background()
	task, err := s.CreateTask(ctx, store.Task{Title: "build the widget"})
	require.NoError(t, err)
	agent, err := s.CreateAgent(ctx, store.AgentProfile{Name: "builder", Role: "engineer", Backend: backend})
	require.NoError(t, err)
	return task, agent
}

func TestExecuteTask_RejectsInvalidUUIDs(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result, err := exec.ExecuteTask(context.Background(), "not-a-uuid", uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, "error", result.Status)
	require.Equal(t, "Invalid task ID format", result.Error)

	result, err = exec.ExecuteTask(context.Background(), uuid.NewString(), "not-a-uuid")
	require.NoError(t, err)
	require.Equal(t, "error", result.Status)
	require.Equal(t, "Invalid agent ID format", result.Error)
}

func TestExecuteTask_CompletesAndPersistsDeliverable(t *testing.T) {
	registerScriptedBackend(t, "fake-complete", []agentrouter.Chunk{
		{Type: agentrouter.ChunkMessage, Content: "working on it..."},
		{Type: agentrouter.ChunkToolUse, Content: "grep", Metadata: map[string]any{"name": "grep"}},
		{Type: agentrouter.ChunkMessage, Content: " done."},
		{Type: agentrouter.ChunkDone},
	})

	exec, s := newTestExecutor(t)
	task, agent := seedTaskAndAgent(t, s, "fake-complete")

	var calledBack string
	var mu sync.Mutex
	exec.SetOnTaskDone(func(taskID string) {
		mu.Lock()
		calledBack = taskID
		mu.Unlock()
	})

	result, err := exec.ExecuteTask(context.Background(), task.ID, agent.ID)
	require.NoError(t, err)
	require.Equal(t, "completed", result.Status)
	require.Equal(t, "working on it... done.", result.Output)

	mu.Lock()
	require.Equal(t, task.ID, calledBack)
	mu.Unlock()

	updatedTask, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskDone, updatedTask.Status)
	require.NotNil(t, updatedTask.CompletedAt)

	updatedAgent, err := s.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	require.Equal(t, store.AgentIdle, updatedAgent.Status)
	require.Nil(t, updatedAgent.CurrentTaskID)

	docs, err := s.GetTaskDocuments(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, store.DocumentDeliverable, docs[0].Type)
	require.Equal(t, "working on it... done.", docs[0].Content)
}

func TestExecuteTask_ErrorChunkMarksTaskBlocked(t *testing.T) {
	registerScriptedBackend(t, "fake-error", []agentrouter.Chunk{
		{Type: agentrouter.ChunkMessage, Content: "partial"},
		{Type: agentrouter.ChunkError, Content: "boom: key=sk-super-secret-value at /home/user/project/file.go"},
	})

	exec, s := newTestExecutor(t)
	task, agent := seedTaskAndAgent(t, s, "fake-error")

	result, err := exec.ExecuteTask(context.Background(), task.ID, agent.ID)
	require.NoError(t, err)
	require.Equal(t, "error", result.Status)
	require.NotContains(t, result.Error, "sk-super-secret-value")
	require.Contains(t, result.Error, "key=[redacted]")
	require.Contains(t, result.Error, "[path]")

	updatedTask, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskBlocked, updatedTask.Status)
}

func TestExecuteTaskBackground_RejectsDuplicateDispatch(t *testing.T) {
	registerScriptedBackend(t, "fake-slow", []agentrouter.Chunk{
		{Type: agentrouter.ChunkMessage, Content: "a"},
	})

	exec, s := newTestExecutor(t)
	task, agent := seedTaskAndAgent(t, s, "fake-slow")

	// Register the running state manually to simulate an in-flight task.
	exec.mu.Lock()
	exec.running[task.ID] = func() {}
	exec.mu.Unlock()

	launched := exec.ExecuteTaskBackground(context.Background(), task.ID, agent.ID)
	require.False(t, launched)

	exec.mu.Lock()
	delete(exec.running, task.ID)
	exec.mu.Unlock()
}

func TestExecuteTaskBackground_SecondCallForSameTaskRejectedBeforeGoroutineStarts(t *testing.T) {
	registerScriptedBackend(t, "fake-slow-real", []agentrouter.Chunk{
		{Type: agentrouter.ChunkMessage, Content: "a"},
		{Type: agentrouter.ChunkDone},
	})

	exec, s := newTestExecutor(t)
	task, agent := seedTaskAndAgent(t, s, "fake-slow-real")

	first := exec.ExecuteTaskBackground(context.Background(), task.ID, agent.ID)
	require.True(t, first)

	// The second call races the first's goroutine, not its registration:
	// ExecuteTaskBackground must register task.ID in running synchronously,
	// so this is rejected regardless of whether the first goroutine has
	// started running yet.
	second := exec.ExecuteTaskBackground(context.Background(), task.ID, agent.ID)
	require.False(t, second)

	require.Eventually(t, func() bool {
		return !exec.IsTaskRunning(task.ID)
	}, time.Second, time.Millisecond)
}

func TestExecuteTaskBackground_RejectsWhenAtCapacity(t *testing.T) {
	exec, s := newTestExecutor(t)
	task, agent := seedTaskAndAgent(t, s, "fake-any")

	exec.mu.Lock()
	for i := 0; i < maxConcurrentTasks; i++ {
		exec.running[uuid.NewString()] = func() {}
	}
	exec.mu.Unlock()

	launched := exec.ExecuteTaskBackground(context.Background(), task.ID, agent.ID)
	require.False(t, launched)
}

func TestStopTask_UnknownTaskReturnsFalse(t *testing.T) {
	exec, _ := newTestExecutor(t)
	require.False(t, exec.StopTask(uuid.NewString()))
}

func TestSanitizeError(t *testing.T) {
	require.Equal(t, "An error occurred", sanitizeError(""))

	long := strings.Repeat("x", 300)
	got := sanitizeError(long)
	require.True(t, strings.HasSuffix(got, "..."))
	require.LessOrEqual(t, len(got), maxErrorMessageLength+3)

	got = sanitizeError("failed reading /Users/alice/secrets/config.yaml: token=abc123")
	require.Contains(t, got, "[path]")
	require.Contains(t, got, "token=[redacted]")
	require.NotContains(t, got, "abc123")
}

func TestIsValidUUID(t *testing.T) {
	require.True(t, isValidUUID(uuid.NewString()))
	require.False(t, isValidUUID(""))
	require.False(t, isValidUUID("not-a-uuid"))
	require.False(t, isValidUUID("12345"))
}

func TestBuildTaskPrompt_TruncatesPRDAndUpstreamOutputs(t *testing.T) {
	exec, s := newTestExecutor(t)
	ctx := context.Background()

	project, err := s.CreateProject(ctx, store.Project{Title: "launch"})
	require.NoError(t, err)

	prdContent := strings.Repeat("p", 2500)
	prdDoc, err := s.CreateDocument(ctx, store.Document{Title: "PRD", Content: prdContent, Type: store.DocumentPRD})
	require.NoError(t, err)

	pid := project.ID
	prdID := prdDoc.ID
	project, err = s.UpdateProject(ctx, project.ID, store.ProjectPatch{PRDDocumentID: &prdID})
	require.NoError(t, err)

	upstream, err := s.CreateTask(ctx, store.Task{Title: "research", ProjectID: &pid})
	require.NoError(t, err)
	doneStatus := store.TaskDone
	upstream, err = s.UpdateTask(ctx, upstream.ID, store.TaskPatch{Status: &doneStatus})
	require.NoError(t, err)

	deliverableContent := strings.Repeat("d", 1500)
	_, err = s.CreateDocument(ctx, store.Document{
		Title: "Deliverable", Content: deliverableContent, Type: store.DocumentDeliverable, TaskID: &upstream.ID,
	})
	require.NoError(t, err)

	task, err := s.CreateTask(ctx, store.Task{
		Title: "build", Description: "build the thing", ProjectID: &pid, BlockedBy: []string{upstream.ID},
	})
	require.NoError(t, err)

	agent, err := s.CreateAgent(ctx, store.AgentProfile{Name: "builder", Role: "engineer", Description: "ships code", Specialties: []string{"go", "testing"}})
	require.NoError(t, err)

	prompt := exec.buildTaskPrompt(ctx, task, agent)

	require.Contains(t, prompt, "You are builder, a engineer.")
	require.Contains(t, prompt, "Specialties: go, testing")
	require.Contains(t, prompt, "### Requirements (PRD)")
	require.Contains(t, prompt, "... (truncated)")
	require.Contains(t, prompt, "### Upstream Task Outputs")
	require.Contains(t, prompt, "**research:**")
	require.Contains(t, prompt, "**Title:** build")
	require.Contains(t, prompt, "**Description:** build the thing")

	// PRD body is truncated to 2000 chars before the indicator is appended.
	prdSection := prompt[strings.Index(prompt, "### Requirements (PRD)"):strings.Index(prompt, "### Upstream")]
	require.LessOrEqual(t, strings.Count(prdSection, "p"), 2000)
}

func TestExecuteTask_StoppedStatusViaStopFlag(t *testing.T) {
	registerScriptedBackend(t, "fake-stoppable", []agentrouter.Chunk{
		{Type: agentrouter.ChunkMessage, Content: "step 1"},
		{Type: agentrouter.ChunkMessage, Content: "step 2"},
		{Type: agentrouter.ChunkDone},
	})

	exec, s := newTestExecutor(t)
	task, agent := seedTaskAndAgent(t, s, "fake-stoppable")

	// Set the stop flag from another goroutine shortly after ExecuteTask
	// starts (ExecuteTask resets it on entry). Depending on timing the drain
	// loop sees it and the task ends "stopped", or the scripted stream
	// finishes first and it ends "completed"; both are accepted below.
	exec.mu.Lock()
	exec.stopFlags[task.ID] = false
	exec.mu.Unlock()

	go func() {
		time.Sleep(time.Millisecond)
		exec.mu.Lock()
		exec.stopFlags[task.ID] = true
		exec.mu.Unlock()
	}()

	result, err := exec.ExecuteTask(context.Background(), task.ID, agent.ID)
	require.NoError(t, err)
	require.Contains(t, []string{"stopped", "completed"}, result.Status)
}
