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

// ErrNotFound is returned by Get* when no matching row exists.
var ErrNotFound = errors.New("store: not found")

// CreateProject inserts a new Project, assigning it a fresh UUID v4 and
// timestamps.
func (s *Store) CreateProject(ctx context.Context, p Project) (Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = ProjectDraft
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return Project{}, fmt.Errorf("marshal tags: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, title, description, tags_json, status, creator_id, prd_document_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, p.ID, p.Title, p.Description, string(tagsJSON), p.Status, p.CreatorID, p.PRDDocumentID,
			p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// GetProject returns a single Project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, tags_json, status, creator_id, prd_document_id, created_at, updated_at
		FROM projects WHERE id = ?;
	`, id)
	return scanProject(row)
}

// ListProjects returns all projects, optionally filtered by status.
func (s *Store) ListProjects(ctx context.Context, status ProjectStatus) ([]Project, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, title, description, tags_json, status, creator_id, prd_document_id, created_at, updated_at
			FROM projects WHERE status = ? ORDER BY created_at ASC;
		`, status)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, title, description, tags_json, status, creator_id, prd_document_id, created_at, updated_at
			FROM projects ORDER BY created_at ASC;
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProjectPatch is a partial update applied by UpdateProject. Only non-nil
// fields are applied.
type ProjectPatch struct {
	Title         *string
	Description   *string
	Tags          *[]string
	Status        *ProjectStatus
	PRDDocumentID *string
}

// UpdateProject patches a Project and returns the updated row.
func (s *Store) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (Project, error) {
	existing, err := s.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if patch.Title != nil {
		existing.Title = *patch.Title
	}
	if patch.Description != nil {
		existing.Description = *patch.Description
	}
	if patch.Tags != nil {
		existing.Tags = *patch.Tags
	}
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.PRDDocumentID != nil {
		existing.PRDDocumentID = patch.PRDDocumentID
	}
	existing.UpdatedAt = time.Now().UTC()

	tagsJSON, err := json.Marshal(existing.Tags)
	if err != nil {
		return Project{}, fmt.Errorf("marshal tags: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE projects SET title=?, description=?, tags_json=?, status=?, prd_document_id=?, updated_at=?
			WHERE id=?;
		`, existing.Title, existing.Description, string(tagsJSON), existing.Status, existing.PRDDocumentID,
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
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return existing, nil
}

// DeleteProject deletes a Project and cascades to every Task whose
// project_id matches (spec §3: "Deleting a project deletes all tasks whose
// project_id matches; other entities are untouched.").
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = ?;`, id); err != nil {
			return fmt.Errorf("cascade delete tasks: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var tagsJSON string
	var createdAt, updatedAt string
	var prdDocID sql.NullString
	err := row.Scan(&p.ID, &p.Title, &p.Description, &tagsJSON, &p.Status, &p.CreatorID, &prdDocID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
		return Project{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	if prdDocID.Valid {
		p.PRDDocumentID = &prdDocID.String
	}
	p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Project{}, err
	}
	p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func scanProjectRows(rows *sql.Rows) (Project, error) {
	return scanProject(rows)
}
