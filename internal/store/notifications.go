package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const notificationSelectColumns = `
	SELECT id, recipient_id, kind, body, task_id, read, created_at, updated_at`

// CreateNotification inserts a new Notification.
func (s *Store) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, recipient_id, kind, body, task_id, read, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, n.ID, n.RecipientID, n.Kind, n.Body, n.TaskID, n.Read,
			n.CreatedAt.Format(time.RFC3339Nano), n.UpdatedAt.Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return Notification{}, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns notifications for a recipient, newest first.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	query := notificationSelectColumns + ` FROM notifications WHERE recipient_id = ?`
	args := []any{recipientID}
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flips a Notification's read flag to true.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) (Notification, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notifications SET read=1, updated_at=? WHERE id=?;`,
			nowISO(), id)
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
		return Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	row := s.db.QueryRowContext(ctx, notificationSelectColumns+` FROM notifications WHERE id = ?;`, id)
	return scanNotification(row)
}

// DeleteNotification removes a Notification.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?;`, id)
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

func scanNotification(row rowScanner) (Notification, error) {
	var n Notification
	var taskID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Body, &taskID, &n.Read, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("scan notification: %w", err)
	}
	if taskID.Valid {
		n.TaskID = &taskID.String
	}
	n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Notification{}, err
	}
	n.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}
