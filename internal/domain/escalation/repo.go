package escalation

import (
	"context"

	"github.com/google/uuid"
)

// StaffDirectory resolves who is on the unit.
type StaffDirectory interface {
	ListActive(ctx context.Context) ([]*StaffUser, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
}
