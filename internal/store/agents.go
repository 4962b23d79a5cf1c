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

const agentSelectColumns = `
	SELECT id, name, role, description, specialties_json, status, current_task_id,
		backend, level, last_heartbeat, created_at, updated_at`

// CreateAgent inserts a new AgentProfile.
func (s *Store) CreateAgent(ctx context.Context, a AgentProfile) (AgentProfile, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AgentIdle
	}
	if a.Specialties == nil {
		a.Specialties = []string{}
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	specJSON, err := json.Marshal(a.Specialties)
	if err != nil {
		return AgentProfile{}, fmt.Errorf("marshal specialties: %w", err)
	}
	var lastHeartbeat *string
	if a.LastHeartbeat != nil {
		v := a.LastHeartbeat.Format(time.RFC3339Nano)
		lastHeartbeat = &v
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agents (id, name, role, description, specialties_json, status,
				current_task_id, backend, level, last_heartbeat, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, a.ID, a.Name, a.Role, a.Description, string(specJSON), a.Status,
			a.CurrentTaskID, a.Backend, a.Level, lastHeartbeat,
			a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return AgentProfile{}, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

// GetAgent returns a single AgentProfile by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (AgentProfile, error) {
	row := s.db.QueryRowContext(ctx, agentSelectColumns+` FROM agents WHERE id = ?;`, id)
	return scanAgent(row)
}

// ListAgents returns every AgentProfile, optionally filtered by status.
func (s *Store) ListAgents(ctx context.Context, status AgentStatus) ([]AgentProfile, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx, agentSelectColumns+` FROM agents WHERE status = ? ORDER BY created_at ASC;`, status)
	} else {
		rows, err = s.db.QueryContext(ctx, agentSelectColumns+` FROM agents ORDER BY created_at ASC;`)
	}
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []AgentProfile
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AgentPatch is a partial update applied by UpdateAgent.
type AgentPatch struct {
	Name          *string
	Role          *string
	Description   *string
	Specialties   *[]string
	Status        *AgentStatus
	CurrentTaskID **string
	Backend       *string
	Level         *string
	LastHeartbeat **time.Time
}

// UpdateAgent applies each non-nil field of patch to the AgentProfile as
// given; it does not tie current_task_id to status. SetAgentStatus is what
// sets the two together.
func (s *Store) UpdateAgent(ctx context.Context, id string, patch AgentPatch) (AgentProfile, error) {
	existing, err := s.GetAgent(ctx, id)
	if err != nil {
		return AgentProfile{}, err
	}
	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.Role != nil {
		existing.Role = *patch.Role
	}
	if patch.Description != nil {
		existing.Description = *patch.Description
	}
	if patch.Specialties != nil {
		existing.Specialties = *patch.Specialties
	}
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.CurrentTaskID != nil {
		existing.CurrentTaskID = *patch.CurrentTaskID
	}
	if patch.Backend != nil {
		existing.Backend = *patch.Backend
	}
	if patch.Level != nil {
		existing.Level = *patch.Level
	}
	if patch.LastHeartbeat != nil {
		existing.LastHeartbeat = *patch.LastHeartbeat
	}
	existing.UpdatedAt = time.Now().UTC()

	specJSON, err := json.Marshal(existing.Specialties)
	if err != nil {
		return AgentProfile{}, fmt.Errorf("marshal specialties: %w", err)
	}
	var lastHeartbeat *string
	if existing.LastHeartbeat != nil {
		v := existing.LastHeartbeat.Format(time.RFC3339Nano)
		lastHeartbeat = &v
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE agents SET name=?, role=?, description=?, specialties_json=?, status=?,
				current_task_id=?, backend=?, level=?, last_heartbeat=?, updated_at=?
			WHERE id=?;
		`, existing.Name, existing.Role, existing.Description, string(specJSON), existing.Status,
			existing.CurrentTaskID, existing.Backend, existing.Level, lastHeartbeat,
			existing.UpdatedAt.Format(time.RFC3339Nano), id)
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
	if err != nil {
		return AgentProfile{}, fmt.Errorf("update agent: %w", err)
	}
	return existing, nil
}

// SetAgentStatus is a narrow convenience used by Mission-Control when an
// agent picks up or finishes a task, keeping status and current_task_id in
// lockstep.
func (s *Store) SetAgentStatus(ctx context.Context, id string, status AgentStatus, currentTaskID *string) (AgentProfile, error) {
	return s.UpdateAgent(ctx, id, AgentPatch{Status: &status, CurrentTaskID: &currentTaskID})
}

// DeleteAgent removes an AgentProfile.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?;`, id)
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

func scanAgent(row rowScanner) (AgentProfile, error) {
	var a AgentProfile
	var specJSON string
	var currentTaskID sql.NullString
	var lastHeartbeat sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Description, &specJSON, &a.Status,
		&currentTaskID, &a.Backend, &a.Level, &lastHeartbeat, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentProfile{}, ErrNotFound
	}
	if err != nil {
		return AgentProfile{}, fmt.Errorf("scan agent: %w", err)
	}
	if err := json.Unmarshal([]byte(specJSON), &a.Specialties); err != nil {
		return AgentProfile{}, err
	}
	if currentTaskID.Valid {
		a.CurrentTaskID = &currentTaskID.String
	}
	if lastHeartbeat.Valid {
		ts, err := time.Parse(time.RFC3339Nano, lastHeartbeat.String)
		if err != nil {
			return AgentProfile{}, err
		}
		a.LastHeartbeat = &ts
	}
	a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return AgentProfile{}, err
	}
	a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return AgentProfile{}, err
	}
	return a, nil
}
