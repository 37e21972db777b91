package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nicu/nicu/internal/platform/db"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification not found")

type staffDirectoryPG struct{ q db.Querier }

func NewStaffDirectoryPG(q db.Querier) StaffDirectory {
	return &staffDirectoryPG{q: q}
}

func (r *staffDirectoryPG) ListActive(ctx context.Context) ([]*StaffUser, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, role, active FROM staff_users WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var users []*StaffUser
	for rows.Next() {
		var u StaffUser
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.Active); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

type notificationRepoPG struct{ q db.Querier }

func NewNotificationRepoPG(q db.Querier) NotificationRepository {
	return &notificationRepoPG{q: q}
}

const notificationCols = `id, user_id, kind, title, message, priority, patient_id, read, metadata, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message, &n.Priority,
		&n.PatientID, &n.Read, &n.Metadata, &n.CreatedAt)
	return &n, err
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()
	if n.Metadata == nil {
		n.Metadata = map[string]interface{}{}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO notifications (`+notificationCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		n.ID, n.UserID, n.Kind, n.Title, n.Message, n.Priority,
		n.PatientID, n.Read, n.Metadata, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *notificationRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := ` WHERE user_id = $1`
	if unreadOnly {
		where += ` AND NOT read`
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := r.q.Query(ctx, `SELECT `+notificationCols+` FROM notifications`+where+
		` ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
