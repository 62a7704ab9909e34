package ledger

import (
	"context"

	"pawfund/internal/domain"
)

// ListNotifications returns the newest notifications, capped at limit.
func (l Ledger) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	return l.Repo.ListNotifications(ctx, limit)
}

// MarkNotificationRead sets read_at once. Re-reading an already-read
// notification changes nothing; unknown ids fail with not found. The audit
// event commits with the mutation and only when a row actually transitioned.
func (l Ledger) MarkNotificationRead(ctx context.Context, id, actorID string) (domain.Notification, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Notification{}, err
	}
	defer tx.Rollback()

	changed, err := l.Repo.MarkNotificationReadTx(ctx, tx, id, l.nowRFC())
	if err != nil {
		return domain.Notification{}, err
	}
	if changed {
		if err := l.Events.Append(ctx, tx, "notification.read", "notification", id, actorID, nil); err != nil {
			return domain.Notification{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Notification{}, err
	}
	return l.Repo.GetNotification(ctx, id)
}
