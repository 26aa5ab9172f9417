package repo

import (
	"context"
	"strings"

	"lexline/internal/domain"
)

// ListEvents returns log entries newest first, filtered by account when
// accountID is non-empty, with id-based cursor pagination.
func (r Repo) ListEvents(ctx context.Context, accountID string, limit int, beforeID int64) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if accountID != "" {
		clauses = append(clauses, "account_id=?")
		args = append(args, accountID)
	}
	if beforeID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, beforeID)
	}
	query := `SELECT id,ts,type,COALESCE(account_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AccountID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
