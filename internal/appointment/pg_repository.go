package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgExecutor is satisfied by *pgxpool.Pool and by pgxmock pools.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgEventSink mirrors audit events into Postgres.
type PgEventSink struct {
	db pgExecutor
}

func NewPgEventSink(db pgExecutor) *PgEventSink {
	return &PgEventSink{db: db}
}

func (s *PgEventSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS event_logs (
			id             BIGSERIAL PRIMARY KEY,
			event_type     TEXT        NOT NULL,
			reservation_id TEXT,
			actor          TEXT        NOT NULL,
			payload        JSONB,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure event_logs table: %w", err)
	}
	return nil
}

func (s *PgEventSink) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, nullableString(ev.ReservationID), ev.Actor, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

// ListEvents returns the audit trail of one reservation, oldest first.
func (s *PgEventSink) ListEvents(ctx context.Context, reservationID string) ([]EventLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_type, reservation_id, actor, payload, created_at
		FROM event_logs
		WHERE reservation_id = $1
		ORDER BY created_at, id
	`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("query event logs: %w", err)
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func scanEvent(row pgx.Row) (*EventLog, error) {
	var ev EventLog
	var reservationID *string

	err := row.Scan(
		&ev.ID,
		&ev.EventType,
		&reservationID,
		&ev.Actor,
		&ev.Payload,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}

	if reservationID != nil {
		ev.ReservationID = *reservationID
	}
	return &ev, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
