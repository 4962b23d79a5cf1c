// Package executor implements the Mission-Control Task Executor (spec
// §4.F): runs one agentrouter.Router per task, streams its output onto the
// bus, and updates task/agent status on completion. Grounded line-for-line
// on original_source's mission_control/executor.py, with the goroutine and
// map-tracking idiom taken from the teacher's coordinator.Executor.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/shabbark/pocketpaw/internal/agentrouter"
	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/store"
)

// Security constants (spec §4.F.2).
const (
	maxConcurrentTasks    = 5
	maxErrorMessageLength = 200
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var tracer = otel.Tracer("pocketpaw/executor")

// Result is what ExecuteTask returns once the run is over.
type Result struct {
	Status string // "completed" | "error" | "stopped"
	Output string
	Error  string
}

// BackendSettings carries the provider credentials a Router needs,
// independent of which agent/backend ultimately gets selected (spec
// §4.F.1: "clone provider creds, override backend").
type BackendSettings struct {
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	BaseURL         string
}

// OnTaskDone is the direct completion callback the scheduler registers
// (spec §9: bypasses the bus for the critical cascade-dispatch path).
type OnTaskDone func(taskID string)

// Executor runs agent tasks with isolation per spec §4.F.
type Executor struct {
	mgr      *missioncontrol.Manager
	st       *store.Store
	bus      *bus.Bus
	base     BackendSettings
	logger   *slog.Logger

	mu                sync.Mutex
	running           map[string]context.CancelFunc
	routers           map[string]*agentrouter.Router
	stopFlags         map[string]bool
	backgroundLaunched map[string]bool

	onDone OnTaskDone
}

// New constructs an Executor. base supplies the provider credentials cloned
// into each per-task AgentSettings.
func New(mgr *missioncontrol.Manager, st *store.Store, b *bus.Bus, base BackendSettings, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		mgr:                mgr,
		st:                 st,
		bus:                b,
		base:               base,
		logger:             logger,
		running:            make(map[string]context.CancelFunc),
		routers:            make(map[string]*agentrouter.Router),
		stopFlags:          make(map[string]bool),
		backgroundLaunched: make(map[string]bool),
	}
}

// SetOnTaskDone registers the scheduler's completion callback. It fires for
// every terminal status (completed, error, stopped) so dependents at the
// same dispatch level get re-evaluated when capacity frees up.
func (e *Executor) SetOnTaskDone(cb OnTaskDone) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDone = cb
}

// RunningCount reports how many tasks are currently executing.
func (e *Executor) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// IsTaskRunning reports whether taskID has a live execution.
func (e *Executor) IsTaskRunning(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[taskID]
	return ok
}

// ExecuteTaskBackground launches execution in a goroutine and returns
// immediately. Returns false if capacity is full or the task is already
// running (duplicate-dispatch guard). It registers taskID's handle in
// running synchronously, under the same lock as the capacity/duplicate
// check, before the goroutine is ever spawned — two back-to-back calls for
// the same task, or a burst across distinct tasks past capacity, must both
// observe each other's registration rather than racing the child routine
// (spec §4.F step 3, §8 duplicate-guard and concurrency-cap properties).
func (e *Executor) ExecuteTaskBackground(ctx context.Context, taskID, agentID string) bool {
	e.mu.Lock()
	if len(e.running) >= maxConcurrentTasks {
		e.mu.Unlock()
		e.logger.Info("deferring task: at capacity", "task_id", taskID, "capacity", maxConcurrentTasks)
		return false
	}
	if _, ok := e.running[taskID]; ok {
		e.mu.Unlock()
		e.logger.Warn("task already running, skipping duplicate dispatch", "task_id", taskID)
		return false
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.running[taskID] = cancel
	e.stopFlags[taskID] = false
	e.backgroundLaunched[taskID] = true
	e.mu.Unlock()

	go func() {
		_, _ = e.ExecuteTask(runCtx, taskID, agentID)
	}()
	return true
}

// ExecuteTask runs a task synchronously to completion. See spec §4.F for
// the full sequence: validate, gate on capacity, transition to
// in_progress/active, stream the agent, transition to a terminal status,
// and invoke the completion callback.
func (e *Executor) ExecuteTask(ctx context.Context, taskID, agentID string) (Result, error) {
	if !isValidUUID(taskID) {
		e.logger.Warn("security: invalid task_id format", "task_id", truncate(taskID, 50))
		return Result{Status: "error", Error: "Invalid task ID format"}, nil
	}
	if !isValidUUID(agentID) {
		e.logger.Warn("security: invalid agent_id format", "agent_id", truncate(agentID, 50))
		return Result{Status: "error", Error: "Invalid agent ID format"}, nil
	}

	e.mu.Lock()
	background := e.backgroundLaunched[taskID]
	if !background && len(e.running) >= maxConcurrentTasks {
		e.mu.Unlock()
		e.logger.Warn("security: max concurrent tasks reached", "task_id", taskID, "limit", maxConcurrentTasks)
		return Result{Status: "error", Error: fmt.Sprintf("Maximum concurrent tasks (%d) reached.", maxConcurrentTasks)}, nil
	}
	if _, alreadyRunning := e.running[taskID]; alreadyRunning && !background {
		e.mu.Unlock()
		return Result{Status: "error", Error: "Task is already running"}, nil
	}
	delete(e.backgroundLaunched, taskID)
	e.mu.Unlock()

	task, err := e.st.GetTask(ctx, taskID)
	if err != nil {
		return Result{Status: "error", Error: "Task not found"}, nil
	}
	agent, err := e.st.GetAgent(ctx, agentID)
	if err != nil {
		return Result{Status: "error", Error: "Agent not found"}, nil
	}

	// When dispatched via ExecuteTaskBackground, running/stopFlags are
	// already registered under that call's lock and ctx is already the
	// cancelable context tied to that registration — reuse it rather than
	// layering a second cancel scope that StopTask wouldn't see.
	var runCtx context.Context
	if background {
		runCtx = ctx
	} else {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		e.mu.Lock()
		e.running[taskID] = cancel
		e.stopFlags[taskID] = false
		e.mu.Unlock()
	}

	spanCtx, span := tracer.Start(runCtx, "executor.ExecuteTask", trace.WithAttributes())
	defer span.End()

	e.logger.Info("task execution starting", "task_id", taskID, "agent_id", agentID,
		"agent_name", agent.Name, "task_title", task.Title)

	agentIDCopy := agentID
	if _, err := e.mgr.UpdateTaskStatus(spanCtx, taskID, store.TaskInProgress, &agentIDCopy); err != nil {
		e.logger.Warn("failed to set task in_progress", "task_id", taskID, "error", err)
	}
	if _, err := e.mgr.SetAgentStatus(spanCtx, agentID, store.AgentActive, &taskID); err != nil {
		e.logger.Warn("failed to set agent active", "agent_id", agentID, "error", err)
	}

	e.broadcast(bus.EventTaskStarted, map[string]any{
		"task_id":    taskID,
		"agent_id":   agentID,
		"agent_name": agent.Name,
		"task_title": task.Title,
		"timestamp":  time.Now().UTC(),
	})
	e.logActivity(spanCtx, store.ActivityTaskUpdated, &agentID, &taskID,
		fmt.Sprintf("%s started working on '%s'", agent.Name, task.Title))

	prompt := e.buildTaskPrompt(spanCtx, task, agent)

	settings := agentrouter.AgentSettings{
		Backend:           agent.Backend,
		APIKey:            e.pickAPIKey(agent.Backend),
		Model:             e.pickModel(agent.Backend),
		BaseURL:           e.base.BaseURL,
		BypassPermissions: true,
	}
	router, err := agentrouter.New(settings)
	if err != nil {
		return e.finish(spanCtx, taskID, agentID, task, agent, "error", nil, err.Error())
	}

	e.mu.Lock()
	e.routers[taskID] = router
	e.mu.Unlock()

	var outputChunks []string
	finalStatus := "completed"
	var errorMessage string

	chunks, err := router.Run(spanCtx, prompt)
	if err != nil {
		return e.finish(spanCtx, taskID, agentID, task, agent, "error", outputChunks, err.Error())
	}

drain:
	for chunk := range chunks {
		e.mu.Lock()
		stopped := e.stopFlags[taskID]
		e.mu.Unlock()
		if stopped {
			finalStatus = "stopped"
			break drain
		}

		switch chunk.Type {
		case agentrouter.ChunkMessage:
			if chunk.Content != "" {
				outputChunks = append(outputChunks, chunk.Content)
				e.broadcast(bus.EventTaskOutput, map[string]any{
					"task_id":     taskID,
					"content":     chunk.Content,
					"output_type": "message",
					"timestamp":   time.Now().UTC(),
				})
			}
		case agentrouter.ChunkToolUse:
			name := "unknown"
			if n, ok := chunk.Metadata["name"].(string); ok && n != "" {
				name = n
			} else if chunk.Content != "" {
				name = chunk.Content
			}
			e.broadcast(bus.EventTaskOutput, map[string]any{
				"task_id":     taskID,
				"content":     "Using tool: " + name,
				"output_type": "tool_use",
				"timestamp":   time.Now().UTC(),
			})
		case agentrouter.ChunkToolResult:
			e.broadcast(bus.EventTaskOutput, map[string]any{
				"task_id":     taskID,
				"content":     "Tool result: " + truncate(chunk.Content, 200),
				"output_type": "tool_result",
				"timestamp":   time.Now().UTC(),
			})
		case agentrouter.ChunkError:
			errorMessage = chunk.Content
			finalStatus = "error"
			break drain
		case agentrouter.ChunkDone:
			break drain
		}
	}

	return e.finish(spanCtx, taskID, agentID, task, agent, finalStatus, outputChunks, errorMessage)
}

// finish runs the executor's "finally" block: it always transitions task
// and agent status, broadcasts completion, logs an activity, persists a
// deliverable on success, and invokes the completion callback — regardless
// of whether the run completed, errored, or was stopped.
func (e *Executor) finish(ctx context.Context, taskID, agentID string, task store.Task, agent store.AgentProfile, status string, outputChunks []string, rawError string) (Result, error) {
	e.mu.Lock()
	delete(e.routers, taskID)
	delete(e.running, taskID)
	delete(e.stopFlags, taskID)
	e.mu.Unlock()

	errorMessage := rawError
	if status == "error" && rawError != "" {
		errorMessage = sanitizeError(rawError)
	}

	newTaskStatus := store.TaskDone
	if status != "completed" {
		newTaskStatus = store.TaskBlocked
	}
	if _, err := e.mgr.UpdateTaskStatus(ctx, taskID, newTaskStatus, &agentID); err != nil {
		e.logger.Warn("failed to finalize task status", "task_id", taskID, "error", err)
	}
	if _, err := e.mgr.SetAgentStatus(ctx, agentID, store.AgentIdle, nil); err != nil {
		e.logger.Warn("failed to idle agent", "agent_id", agentID, "error", err)
	}

	e.broadcast(bus.EventTaskCompleted, map[string]any{
		"task_id":   taskID,
		"agent_id":  agentID,
		"status":    status,
		"error":     errorMessage,
		"timestamp": time.Now().UTC(),
	})

	fullOutput := strings.Join(outputChunks, "")

	switch status {
	case "completed":
		e.logActivity(ctx, store.ActivityTaskCompleted, &agentID, &taskID,
			fmt.Sprintf("%s completed '%s'", agent.Name, task.Title))
		if fullOutput != "" {
			e.saveDeliverable(ctx, taskID, agentID, task.Title, fullOutput)
		}
	case "error":
		e.logActivity(ctx, store.ActivityTaskUpdated, &agentID, &taskID,
			fmt.Sprintf("%s encountered an error on '%s': %s", agent.Name, task.Title, errorMessage))
	case "stopped":
		e.logActivity(ctx, store.ActivityTaskUpdated, &agentID, &taskID,
			fmt.Sprintf("Execution stopped for '%s'", task.Title))
	}

	e.mu.Lock()
	cb := e.onDone
	e.mu.Unlock()
	if cb != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("scheduler callback panicked", "task_id", taskID, "panic", r)
				}
			}()
			cb(taskID)
		}()
	}

	return Result{Status: status, Output: fullOutput, Error: errorMessage}, nil
}

// StopTask sets a running task's stop flag, stops its router and cancels its
// context, then returns without waiting for the run to finish. Returns false
// if the task was not running.
func (e *Executor) StopTask(taskID string) bool {
	e.mu.Lock()
	cancel, ok := e.running[taskID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.stopFlags[taskID] = true
	router := e.routers[taskID]
	e.mu.Unlock()

	if router != nil {
		router.Stop()
	}
	cancel()

	e.logger.Info("stopped task execution", "task_id", taskID)
	return true
}

func (e *Executor) pickAPIKey(backend string) string {
	switch {
	case strings.Contains(backend, "openai"):
		return e.base.OpenAIAPIKey
	default:
		return e.base.AnthropicAPIKey
	}
}

func (e *Executor) pickModel(backend string) string {
	switch {
	case strings.Contains(backend, "openai"):
		return e.base.OpenAIModel
	default:
		return e.base.AnthropicModel
	}
}

func (e *Executor) broadcast(eventType string, data map[string]any) {
	e.bus.PublishSystem(bus.SystemEvent{EventType: eventType, Data: data, Timestamp: time.Now().UTC()})
}

func (e *Executor) logActivity(ctx context.Context, activityType store.ActivityType, agentID, taskID *string, message string) {
	activity, err := e.st.AppendActivity(ctx, store.Activity{
		Type:    activityType,
		AgentID: agentID,
		TaskID:  taskID,
		Message: message,
	})
	if err != nil {
		e.logger.Warn("failed to log activity", "error", err)
		return
	}
	e.broadcast(bus.EventActivityCreated, map[string]any{
		"activity_id": activity.ID,
		"type":        string(activity.Type),
		"message":     activity.Message,
	})
}

func (e *Executor) saveDeliverable(ctx context.Context, taskID, agentID, taskTitle, output string) {
	_, err := e.st.CreateDocument(ctx, store.Document{
		Title:    fmt.Sprintf("Deliverable: %s", taskTitle),
		Content:  output,
		Type:     store.DocumentDeliverable,
		AuthorID: agentID,
		TaskID:   &taskID,
	})
	if err != nil {
		e.logger.Warn("failed to save deliverable document", "task_id", taskID, "error", err)
	}
}

// buildTaskPrompt assembles the prompt sent to the agent (spec §4.F.1):
// identity, project context (PRD truncated to 2000 chars), upstream
// deliverables from completed dependencies (truncated to 1000 chars each),
// and the task block itself.
func (e *Executor) buildTaskPrompt(ctx context.Context, task store.Task, agent store.AgentProfile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %s.", agent.Name, agent.Role)
	if agent.Description != "" {
		fmt.Fprintf(&b, "\nDescription: %s", agent.Description)
	}
	if len(agent.Specialties) > 0 {
		fmt.Fprintf(&b, "\nSpecialties: %s", strings.Join(agent.Specialties, ", "))
	}

	if task.ProjectID != nil {
		if project, err := e.st.GetProject(ctx, *task.ProjectID); err == nil {
			projectDir := e.mgr.ProjectDir(project.ID)
			fmt.Fprintf(&b, "\n\n## Project Context\n**Project:** %s\n**Working Directory:** %s",
				project.Title, projectDir)

			if project.PRDDocumentID != nil {
				if doc, err := e.st.GetDocument(ctx, *project.PRDDocumentID); err == nil && doc.Content != "" {
					fmt.Fprintf(&b, "\n\n### Requirements (PRD)\n%s", truncateWithIndicator(doc.Content, 2000))
				}
			}
		}

		if len(task.BlockedBy) > 0 {
			var upstream []string
			for _, depID := range task.BlockedBy {
				depTask, err := e.st.GetTask(ctx, depID)
				if err != nil || depTask.Status != store.TaskDone {
					continue
				}
				docs, err := e.st.GetTaskDocuments(ctx, depID)
				if err != nil {
					continue
				}
				for _, doc := range docs {
					if doc.Content == "" {
						continue
					}
					upstream = append(upstream, fmt.Sprintf("**%s:**\n%s", depTask.Title, truncateWithIndicator(doc.Content, 1000)))
				}
			}
			if len(upstream) > 0 {
				b.WriteString("\n\n### Upstream Task Outputs\nThe following tasks have been completed before yours. Use their output as context:\n\n")
				b.WriteString(strings.Join(upstream, "\n\n"))
			}
		}
	}

	fmt.Fprintf(&b, "\n\n## Task\n**Title:** %s", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n**Description:** %s", task.Description)
	}
	fmt.Fprintf(&b, "\n**Priority:** %s\n\nPlease complete this task. Provide your work and findings.", task.Priority)

	return b.String()
}

func isValidUUID(value string) bool {
	return value != "" && uuidPattern.MatchString(strings.ToLower(value))
}

var (
	pathPattern   = regexp.MustCompile(`/[^\s]+/[^\s]+`)
	secretPattern = regexp.MustCompile(`(?i)(key|token|secret|password)[=:]\s*\S+`)
)

// sanitizeError scrubs a raw error message before it is ever broadcast or
// logged to an activity feed (spec §4.F.2): truncates to 200 chars, strips
// path-shaped tokens, and redacts key/token/secret/password assignments.
func sanitizeError(raw string) string {
	if raw == "" {
		return "An error occurred"
	}

	truncated := len(raw) > maxErrorMessageLength
	sanitized := truncate(raw, maxErrorMessageLength)
	sanitized = pathPattern.ReplaceAllString(sanitized, "[path]")
	sanitized = secretPattern.ReplaceAllString(sanitized, "$1=[redacted]")

	if truncated {
		sanitized = strings.TrimRight(sanitized, " \t\n") + "..."
	}
	return sanitized
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truncateWithIndicator(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

