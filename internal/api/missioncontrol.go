package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shabbark/pocketpaw/internal/store"
)

type createProjectRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	project, err := s.cfg.Manager.CreateProject(r.Context(), store.Project{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": project})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	status := store.ProjectStatus(r.URL.Query().Get("status"))
	projects, err := s.cfg.Manager.ListProjects(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "count": len(projects)})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.cfg.Manager.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

type patchProjectRequest struct {
	Title       *string              `json:"title"`
	Description *string              `json:"description"`
	Tags        *[]string            `json:"tags"`
	Status      *store.ProjectStatus `json:"status"`
}

func (s *Server) handlePatchProject(w http.ResponseWriter, r *http.Request) {
	var req patchProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	project, err := s.cfg.Manager.UpdateProject(r.Context(), r.PathValue("id"), store.ProjectPatch{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Status:      req.Status,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Manager.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createTaskRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	ProjectID   *string          `json:"project_id"`
	Priority    store.TaskPriority `json:"priority"`
	TaskType    store.TaskType     `json:"task_type"`
	BlockedBy   []string         `json:"blocked_by"`
	AssigneeIDs []string         `json:"assignee_ids"`
	Tags        []string         `json:"tags"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task, err := s.cfg.Manager.CreateTask(r.Context(), store.Task{
		Title:       req.Title,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		Priority:    req.Priority,
		TaskType:    req.TaskType,
		BlockedBy:   req.BlockedBy,
		AssigneeIDs: req.AssigneeIDs,
		Tags:        req.Tags,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.cfg.Store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

type updateTaskStatusRequest struct {
	Status string `json:"status"`
}

var validTaskStatuses = map[store.TaskStatus]bool{
	store.TaskInbox: true, store.TaskAssigned: true, store.TaskInProgress: true,
	store.TaskReview: true, store.TaskDone: true, store.TaskSkipped: true, store.TaskBlocked: true,
}

// handleUpdateTaskStatus applies spec §6's status-update contract: JSON
// body (not query string), 400/422 on an invalid enum value, 404 on an
// unknown task, completed_at set iff the new status is done.
func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req updateTaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status := store.TaskStatus(req.Status)
	if !validTaskStatuses[status] {
		writeError(w, http.StatusUnprocessableEntity, "invalid status value")
		return
	}

	taskID := r.PathValue("id")
	task, err := s.cfg.Manager.UpdateTaskStatus(r.Context(), taskID, status, nil)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}
