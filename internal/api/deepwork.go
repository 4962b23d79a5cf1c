package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shabbark/pocketpaw/internal/scheduler"
	"github.com/shabbark/pocketpaw/internal/session"
	"github.com/shabbark/pocketpaw/internal/store"
)

type startDeepWorkRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleDeepWorkStart(w http.ResponseWriter, r *http.Request) {
	var req startDeepWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	project, err := s.cfg.Session.Start(r.Context(), req.Description)
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
}

// planView is the response shape for GET .../plan (spec §6): project,
// tasks, progress, prd, and the Kahn leveling used purely for display.
type planView struct {
	Project       store.Project                `json:"project"`
	Tasks         []store.Task                  `json:"tasks"`
	Progress      missioncontrolProgress         `json:"progress"`
	PRD           *store.Document                `json:"prd"`
	ExecutionLevels [][]string                  `json:"execution_levels"`
	TaskLevelMap  map[string]int                 `json:"task_level_map"`
}

type missioncontrolProgress struct {
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	InProgress   int     `json:"in_progress"`
	Blocked      int     `json:"blocked"`
	Skipped      int     `json:"skipped"`
	HumanPending int     `json:"human_pending"`
	Percent      float64 `json:"percent"`
}

func (s *Server) handleDeepWorkPlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	project, err := s.cfg.Manager.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	tasks, err := s.cfg.Manager.GetProjectTasks(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	progress, err := s.cfg.Manager.GetProjectProgress(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var prd *store.Document
	if project.PRDDocumentID != nil {
		if doc, err := s.cfg.Store.GetDocument(r.Context(), *project.PRDDocumentID); err == nil {
			prd = &doc
		}
	}

	levels, err := scheduler.Levels(tasks)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	maxLevel := -1
	for _, lvl := range levels {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	executionLevels := make([][]string, maxLevel+1)
	for _, t := range tasks {
		lvl := levels[t.ID]
		executionLevels[lvl] = append(executionLevels[lvl], t.ID)
	}

	writeJSON(w, http.StatusOK, planView{
		Project:  project,
		Tasks:    tasks,
		Progress: missioncontrolProgress(progress),
		PRD:      prd,
		ExecutionLevels: executionLevels,
		TaskLevelMap:    levels,
	})
}

func (s *Server) handleDeepWorkApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.cfg.Session.Approve(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
}

func (s *Server) handleDeepWorkPause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.cfg.Session.Pause(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
}

func (s *Server) handleDeepWorkResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.cfg.Session.Resume(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
}
