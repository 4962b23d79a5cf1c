package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const activitySelectColumns = `
	SELECT id, type, agent_id, task_id, project_id, message, created_at`

// AppendActivity writes an append-only Activity log entry. Activities are
// never updated or deleted individually (spec §3: "append-only").
func (s *Store) AppendActivity(ctx context.Context, a Activity) (Activity, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activities (id, type, agent_id, task_id, project_id, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?);
		`, a.ID, a.Type, a.AgentID, a.TaskID, a.ProjectID, a.Message, a.CreatedAt.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return Activity{}, fmt.Errorf("append activity: %w", err)
	}
	return a, nil
}

// ListActivities returns activities, optionally filtered by project_id,
// newest first.
func (s *Store) ListActivities(ctx context.Context, projectID string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if projectID != "" {
		rows, err = s.db.QueryContext(ctx, activitySelectColumns+`
			FROM activities WHERE project_id = ? ORDER BY created_at DESC LIMIT ?;`, projectID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, activitySelectColumns+`
			FROM activities ORDER BY created_at DESC LIMIT ?;`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	return out, rows.Err()
}

func scanActivity(row rowScanner) (Activity, error) {
	var a Activity
	var agentID, taskID, projectID sql.NullString
	var createdAt string

	err := row.Scan(&a.ID, &a.Type, &agentID, &taskID, &projectID, &a.Message, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, fmt.Errorf("scan activity: %w", err)
	}
	if agentID.Valid {
		a.AgentID = &agentID.String
	}
	if taskID.Valid {
		a.TaskID = &taskID.String
	}
	if projectID.Valid {
		a.ProjectID = &projectID.String
	}
	a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Activity{}, err
	}
	return a, nil
}
