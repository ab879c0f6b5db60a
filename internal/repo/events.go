package repo

import (
	"context"
	"database/sql"

	"redline/internal/domain"
)

// LatestEvents returns the newest events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	query := `SELECT id, ts, type, entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events`
	clauses := ""
	var args []any
	appendClause := func(clause string, arg any) {
		if clauses == "" {
			clauses = " WHERE " + clause
		} else {
			clauses += " AND " + clause
		}
		args = append(args, arg)
	}
	if evtType != "" {
		appendClause("type=?", evtType)
	}
	if entityKind != "" {
		appendClause("entity_kind=?", entityKind)
	}
	if entityID != "" {
		appendClause("entity_id=?", entityID)
	}
	query += clauses + ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var e domain.Event
	err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload)
	return e, err
}
