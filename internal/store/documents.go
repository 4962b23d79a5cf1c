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

const documentSelectColumns = `
	SELECT id, title, content, type, author_id, task_id, project_id, tags_json, created_at, updated_at`

// CreateDocument inserts a new Document.
func (s *Store) CreateDocument(ctx context.Context, d Document) (Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Type == "" {
		d.Type = DocumentNote
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	tagsJSON, err := json.Marshal(d.Tags)
	if err != nil {
		return Document{}, fmt.Errorf("marshal tags: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, title, content, type, author_id, task_id, project_id, tags_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, d.ID, d.Title, d.Content, d.Type, d.AuthorID, d.TaskID, d.ProjectID, string(tagsJSON),
			d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	return d, nil
}

// GetDocument returns a single Document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, documentSelectColumns+` FROM documents WHERE id = ?;`, id)
	return scanDocument(row)
}

// GetTaskDocuments returns every Document attached to a task, used by
// Mission-Control to assemble a task's deliverables (spec §4.A:
// "get_task_documents(task_id)").
func (s *Store) GetTaskDocuments(ctx context.Context, taskID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, documentSelectColumns+`
		FROM documents WHERE task_id = ? ORDER BY created_at ASC;`, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDocuments returns documents, optionally filtered by project_id.
func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	var rows *sql.Rows
	var err error
	if projectID != "" {
		rows, err = s.db.QueryContext(ctx, documentSelectColumns+`
			FROM documents WHERE project_id = ? ORDER BY created_at ASC;`, projectID)
	} else {
		rows, err = s.db.QueryContext(ctx, documentSelectColumns+` FROM documents ORDER BY created_at ASC;`)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DocumentPatch is a partial update applied by UpdateDocument.
type DocumentPatch struct {
	Title   *string
	Content *string
	Tags    *[]string
}

// UpdateDocument applies patch to the Document.
func (s *Store) UpdateDocument(ctx context.Context, id string, patch DocumentPatch) (Document, error) {
	existing, err := s.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if patch.Title != nil {
		existing.Title = *patch.Title
	}
	if patch.Content != nil {
		existing.Content = *patch.Content
	}
	if patch.Tags != nil {
		existing.Tags = *patch.Tags
	}
	existing.UpdatedAt = time.Now().UTC()

	tagsJSON, err := json.Marshal(existing.Tags)
	if err != nil {
		return Document{}, fmt.Errorf("marshal tags: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET title=?, content=?, tags_json=?, updated_at=? WHERE id=?;
		`, existing.Title, existing.Content, string(tagsJSON), existing.UpdatedAt.Format(time.RFC3339Nano), id)
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
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	return existing, nil
}

// DeleteDocument removes a Document.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?;`, id)
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

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var tagsJSON string
	var taskID, projectID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&d.ID, &d.Title, &d.Content, &d.Type, &d.AuthorID, &taskID, &projectID, &tagsJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil {
		return Document{}, err
	}
	if taskID.Valid {
		d.TaskID = &taskID.String
	}
	if projectID.Valid {
		d.ProjectID = &projectID.String
	}
	d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Document{}, err
	}
	d.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}
