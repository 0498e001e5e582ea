package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"washplan/internal/db"
)

// DefaultChannel is the postgres NOTIFY channel woken on every append.
const DefaultChannel = "washplan_changes"

// appendLockKey names the transaction-scoped advisory lock that orders
// appends on postgres. Holding it until commit makes events become visible
// in id order, which the feed cursor relies on.
const appendLockKey int64 = 0x77617368706c616e

type Writer struct {
	Driver  string
	Channel string
	Now     func() time.Time
}

// Record describes one row change. New and Old hold the row as persisted;
// Old is nil for inserts and New is nil for deletes.
type Record struct {
	Op        string
	Table     string
	ProjectID string
	EntityID  string
	ActorID   string
	New       any
	Old       any
}

// Payload is the JSON stored in events.payload_json.
type Payload struct {
	New json.RawMessage `json:"new,omitempty"`
	Old json.RawMessage `json:"old,omitempty"`
}

// Append writes the change inside the caller's transaction so the event
// commits or rolls back together with the row.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	var payload Payload
	var err error
	if rec.New != nil {
		if payload.New, err = json.Marshal(rec.New); err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	if rec.Old != nil {
		if payload.Old, err = json.Marshal(rec.Old); err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if w.Driver == db.DriverPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return fmt.Errorf("lock events: %w", err)
		}
		var id int64
		err = tx.QueryRowContext(ctx, `INSERT INTO events(ts,op,table_name,project_id,entity_id,actor_id,payload_json) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			ts, rec.Op, rec.Table, nullable(rec.ProjectID), rec.EntityID, rec.ActorID, string(data)).Scan(&id)
		if err != nil {
			return err
		}
		channel := w.Channel
		if channel == "" {
			channel = DefaultChannel
		}
		_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, strconv.FormatInt(id, 10))
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,op,table_name,project_id,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, rec.Op, rec.Table, nullable(rec.ProjectID), rec.EntityID, rec.ActorID, string(data))
	return err
}

// Decode splits a stored payload back into its raw rows.
func Decode(payload string) (Payload, error) {
	var p Payload
	if payload == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, fmt.Errorf("decode event payload: %w", err)
	}
	return p, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
