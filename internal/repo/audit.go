package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pawfund/internal/domain"
)

type AuditFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     int64
}

// ListAuditEvents returns audit events newest-first, optionally continuing
// from a previous page's smallest id.
func (r Repo) ListAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM audit_events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryAuditEvents(ctx, query, args...)
}

// AuditEventsAfter returns events with ids greater than the cursor in
// ascending order, for the outbound hook dispatcher.
func (r Repo) AuditEventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM audit_events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryAuditEvents(ctx, query, cursor, limit)
}

// LatestAuditEventID returns the most recent audit event id.
func (r Repo) LatestAuditEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_events`).Scan(&id)
	return id, err
}

func (r Repo) queryAuditEvents(ctx context.Context, query string, args ...any) ([]domain.AuditEvent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
