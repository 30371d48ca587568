package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bidline/internal/domain"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, auctionID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	return w.insert(ctx, tx, w.Now(), evtType, auctionID, entityKind, entityID, actorID, payload)
}

// AppendEvent stores an event produced by the auction state, keeping its own
// timestamp so the log reflects commit time rather than write time.
func (w Writer) AppendEvent(ctx context.Context, tx *sql.Tx, evt domain.Event) error {
	ts := evt.TS
	if ts.IsZero() {
		if w.Now == nil {
			w.Now = time.Now
		}
		ts = w.Now()
	}
	return w.insert(ctx, tx, ts, evt.Type, evt.AuctionID, evt.EntityKind, evt.EntityID, evt.ActorID, evt.Payload)
}

func (w Writer) insert(ctx context.Context, tx *sql.Tx, at time.Time, evtType, auctionID, entityKind, entityID, actorID string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,auction_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		at.UTC().Format("2006-01-02T15:04:05.000000000Z"), evtType, nullable(auctionID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
