package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTask inserts a new Task, maintaining the bidirectional blocked_by/
// blocks edge invariant (spec §3): for every id B in task.BlockedBy, the
// task with id B gets this task's ID appended to its Blocks list.
func (s *Store) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskInbox
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.TaskType == "" {
		t.TaskType = TaskTypeAgent
	}
	for _, slicePtr := range []*[]string{&t.AssigneeIDs, &t.BlockedBy, &t.Blocks, &t.Tags} {
		if *slicePtr == nil {
			*slicePtr = []string{}
		}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTaskTx(ctx, tx, t); err != nil {
			return err
		}
		for _, depID := range t.BlockedBy {
			if err := addBlocksTx(ctx, tx, depID, t.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func insertTaskTx(ctx context.Context, tx *sql.Tx, t Task) error {
	assigneeJSON, _ := json.Marshal(t.AssigneeIDs)
	blockedByJSON, _ := json.Marshal(t.BlockedBy)
	blocksJSON, _ := json.Marshal(t.Blocks)
	tagsJSON, _ := json.Marshal(t.Tags)
	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var completedAt *string
	if t.CompletedAt != nil {
		v := t.CompletedAt.Format(time.RFC3339Nano)
		completedAt = &v
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, status, priority, assignee_ids_json, creator_id,
			parent_task_id, blocked_by_json, blocks_json, tags_json, project_id, task_type,
			active_description, estimated_minutes, completed_at, metadata_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, t.ID, t.Title, t.Description, t.Status, t.Priority, string(assigneeJSON), t.CreatorID,
		t.ParentTaskID, string(blockedByJSON), string(blocksJSON), string(tagsJSON), t.ProjectID, t.TaskType,
		t.ActiveDescription, t.EstimatedMinutes, completedAt, string(metaJSON),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// addBlocksTx appends dependentID to taskID's Blocks list, if not already
// present. Used to keep blocked_by ⇄ blocks symmetric on both ends.
func addBlocksTx(ctx context.Context, tx *sql.Tx, taskID, dependentID string) error {
	row := tx.QueryRowContext(ctx, `SELECT blocks_json FROM tasks WHERE id = ?;`, taskID)
	var blocksJSON string
	if err := row.Scan(&blocksJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("blocked_by references nonexistent task %s", taskID)
		}
		return err
	}
	var blocks []string
	if err := json.Unmarshal([]byte(blocksJSON), &blocks); err != nil {
		return err
	}
	for _, id := range blocks {
		if id == dependentID {
			return nil
		}
	}
	blocks = append(blocks, dependentID)
	newJSON, err := json.Marshal(blocks)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET blocks_json=? WHERE id=?;`, string(newJSON), taskID)
	return err
}

// removeBlocksTx removes dependentID from taskID's Blocks list.
func removeBlocksTx(ctx context.Context, tx *sql.Tx, taskID, dependentID string) error {
	row := tx.QueryRowContext(ctx, `SELECT blocks_json FROM tasks WHERE id = ?;`, taskID)
	var blocksJSON string
	if err := row.Scan(&blocksJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	var blocks []string
	if err := json.Unmarshal([]byte(blocksJSON), &blocks); err != nil {
		return err
	}
	out := blocks[:0]
	for _, id := range blocks {
		if id != dependentID {
			out = append(out, id)
		}
	}
	newJSON, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET blocks_json=? WHERE id=?;`, string(newJSON), taskID)
	return err
}

// GetTask returns a single Task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?;`, id)
	return scanTask(row)
}

const taskSelectColumns = `
	SELECT id, title, description, status, priority, assignee_ids_json, creator_id,
		parent_task_id, blocked_by_json, blocks_json, tags_json, project_id, task_type,
		active_description, estimated_minutes, completed_at, metadata_json, created_at, updated_at`

// ListTasks returns tasks, optionally filtered by project_id. Passing ""
// returns every task (spec §4.A: "list_tasks(project_id?) — linear scan
// filtered by project.").
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var rows *sql.Rows
	var err error
	if projectID != "" {
		rows, err = s.db.QueryContext(ctx, taskSelectColumns+` FROM tasks WHERE project_id = ? ORDER BY created_at ASC;`, projectID)
	} else {
		rows, err = s.db.QueryContext(ctx, taskSelectColumns+` FROM tasks ORDER BY created_at ASC;`)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TaskPatch is a partial update applied by UpdateTask.
type TaskPatch struct {
	Title             *string
	Description       *string
	Status            *TaskStatus
	Priority          *TaskPriority
	AssigneeIDs       *[]string
	BlockedBy         *[]string
	Tags              *[]string
	ProjectID         *string
	ActiveDescription *string
	EstimatedMinutes  *int
	Metadata          map[string]any
}

// UpdateTask applies patch to the task, re-deriving blocked_by ⇄ blocks
// symmetry if BlockedBy changes, and atomically stamping CompletedAt when
// Status transitions to done (spec §3: "Setting status=done must set
// completed_at atomically.").
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	var updated Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanTask(tx.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?;`, id))
		if err != nil {
			return err
		}

		oldBlockedBy := append([]string{}, existing.BlockedBy...)

		if patch.Title != nil {
			existing.Title = *patch.Title
		}
		if patch.Description != nil {
			existing.Description = *patch.Description
		}
		if patch.Priority != nil {
			existing.Priority = *patch.Priority
		}
		if patch.AssigneeIDs != nil {
			existing.AssigneeIDs = *patch.AssigneeIDs
		}
		if patch.Tags != nil {
			existing.Tags = *patch.Tags
		}
		if patch.ProjectID != nil {
			existing.ProjectID = patch.ProjectID
		}
		if patch.ActiveDescription != nil {
			existing.ActiveDescription = *patch.ActiveDescription
		}
		if patch.EstimatedMinutes != nil {
			existing.EstimatedMinutes = patch.EstimatedMinutes
		}
		if patch.Metadata != nil {
			existing.Metadata = patch.Metadata
		}
		if patch.BlockedBy != nil {
			existing.BlockedBy = *patch.BlockedBy
		}
		if patch.Status != nil {
			existing.Status = *patch.Status
			if *patch.Status == TaskDone {
				now := time.Now().UTC()
				existing.CompletedAt = &now
			}
		}
		existing.UpdatedAt = time.Now().UTC()

		if err := updateTaskTx(ctx, tx, existing); err != nil {
			return err
		}

		if patch.BlockedBy != nil {
			if err := reconcileBlockedByTx(ctx, tx, existing.ID, oldBlockedBy, existing.BlockedBy); err != nil {
				return err
			}
		}
		updated = existing
		return nil
	})
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

func reconcileBlockedByTx(ctx context.Context, tx *sql.Tx, taskID string, oldDeps, newDeps []string) error {
	oldSet := map[string]bool{}
	for _, d := range oldDeps {
		oldSet[d] = true
	}
	newSet := map[string]bool{}
	for _, d := range newDeps {
		newSet[d] = true
	}
	for d := range newSet {
		if !oldSet[d] {
			if err := addBlocksTx(ctx, tx, d, taskID); err != nil {
				return err
			}
		}
	}
	for d := range oldSet {
		if !newSet[d] {
			if err := removeBlocksTx(ctx, tx, d, taskID); err != nil {
				return err
			}
		}
	}
	return nil
}

func updateTaskTx(ctx context.Context, tx *sql.Tx, t Task) error {
	assigneeJSON, _ := json.Marshal(t.AssigneeIDs)
	blockedByJSON, _ := json.Marshal(t.BlockedBy)
	tagsJSON, _ := json.Marshal(t.Tags)
	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var completedAt *string
	if t.CompletedAt != nil {
		v := t.CompletedAt.Format(time.RFC3339Nano)
		completedAt = &v
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET
			title=?, description=?, status=?, priority=?, assignee_ids_json=?,
			blocked_by_json=?, tags_json=?, project_id=?, active_description=?,
			estimated_minutes=?, completed_at=?, metadata_json=?, updated_at=?
		WHERE id=?;
	`, t.Title, t.Description, t.Status, t.Priority, string(assigneeJSON),
		string(blockedByJSON), string(tagsJSON), t.ProjectID, t.ActiveDescription,
		t.EstimatedMinutes, completedAt, string(metaJSON), t.UpdatedAt.Format(time.RFC3339Nano), t.ID)
	return err
}

// DeleteTask removes a Task and scrubs it from every other task's blocked_by
// / blocks lists that referenced it.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanTask(tx.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?;`, id))
		if err != nil {
			return err
		}
		for _, dep := range existing.BlockedBy {
			if err := removeBlocksTx(ctx, tx, dep, id); err != nil {
				return err
			}
		}
		for _, dependentID := range existing.Blocks {
			dependent, err := scanTask(tx.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?;`, dependentID))
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			out := dependent.BlockedBy[:0]
			for _, d := range dependent.BlockedBy {
				if d != id {
					out = append(out, d)
				}
			}
			dependent.BlockedBy = out
			if err := updateTaskTx(ctx, tx, dependent); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var assigneeJSON, blockedByJSON, blocksJSON, tagsJSON, metaJSON string
	var parentTaskID, projectID, completedAt sql.NullString
	var estimatedMinutes sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &assigneeJSON, &t.CreatorID,
		&parentTaskID, &blockedByJSON, &blocksJSON, &tagsJSON, &projectID, &t.TaskType,
		&t.ActiveDescription, &estimatedMinutes, &completedAt, &metaJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	if err := json.Unmarshal([]byte(assigneeJSON), &t.AssigneeIDs); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal([]byte(blockedByJSON), &t.BlockedBy); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal([]byte(blocksJSON), &t.Blocks); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &t.Metadata); err != nil {
		return Task{}, err
	}
	if parentTaskID.Valid {
		t.ParentTaskID = &parentTaskID.String
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if completedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return Task{}, err
		}
		t.CompletedAt = &ts
	}
	if estimatedMinutes.Valid {
		v := int(estimatedMinutes.Int64)
		t.EstimatedMinutes = &v
	}
	t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Task{}, err
	}
	t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}
