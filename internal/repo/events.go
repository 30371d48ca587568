package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"bidline/internal/domain"
)

const eventColumns = `id,ts,type,COALESCE(auction_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ts string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.AuctionID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		t, err := parseTS(ts)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		e.TS = t
		e.Payload = map[string]any{}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				e.Payload = map[string]any{"raw": payload.String}
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventsFrom pages backwards through the log. cursor is exclusive.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, auctionID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if auctionID != "" {
		clauses = append(clauses, "auction_id=?")
		args = append(args, auctionID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter pages forwards from cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, auctionID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if auctionID != "" {
		clauses = append(clauses, "auction_id=?")
		args = append(args, auctionID)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID, for one auction or overall.
func (r Repo) LatestEventID(ctx context.Context, auctionID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if auctionID != "" {
		query += ` WHERE auction_id=?`
		args = append(args, auctionID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
