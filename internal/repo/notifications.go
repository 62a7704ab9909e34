package repo

import (
	"context"
	"database/sql"

	"pawfund/internal/domain"
)

const notificationCols = `id,type,animal_id,message,read_at,created_at`

func scanNotification(row animalScanner) (domain.Notification, error) {
	var n domain.Notification
	var readAt sql.NullString
	err := row.Scan(&n.ID, &n.Type, &n.AnimalID, &n.Message, &readAt, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if readAt.Valid {
		n.ReadAt = &readAt.String
	}
	return n, nil
}

func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(`+notificationCols+`) VALUES (?,?,?,?,?,?)`,
		n.ID, n.Type, n.AnimalID, n.Message, nullableStringPtr(n.ReadAt), n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	return scanNotification(r.DB.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id=?`, id))
}

func (r Repo) ListNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationCols+` FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationReadTx sets read_at once and reports whether this call made
// the transition. Re-reading an already-read notification keeps the original
// timestamp and returns false.
func (r Repo) MarkNotificationReadTx(ctx context.Context, tx *sql.Tx, id, readAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE notifications SET read_at=? WHERE id=? AND read_at IS NULL`, readAt, id)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	return false, err
}
