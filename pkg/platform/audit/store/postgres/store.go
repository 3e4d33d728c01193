// Package postgres stores the audit trail in PostgreSQL through
// database/sql and the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"portal/pkg/domain"
	audit "portal/pkg/platform/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	category    TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	subject_id  UUID NOT NULL,
	flow_key    TEXT NOT NULL,
	action      TEXT NOT NULL,
	stage_key   TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	fields      TEXT[] NOT NULL DEFAULT '{}',
	actor_id    TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_subject_idx ON audit_events (subject_id, timestamp);
`

// Store implements audit.Store. Rows are only ever inserted.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the postgres driver registered by lib/pq.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return db, nil
}

// Migrate creates the audit_events table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit events: %w", err)
	}
	return nil
}

// Append inserts event. Replays of the same event ID are ignored.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, subject_id, flow_key, action,
			stage_key, decision, reason, fields, actor_id, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	fields := event.Fields
	if fields == nil {
		fields = []string{}
	}
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(event.ID),
		string(event.Category),
		event.Timestamp,
		uuid.UUID(event.SubjectID),
		string(event.FlowKey),
		string(event.Action),
		string(event.StageKey),
		event.Decision,
		event.Reason,
		pq.Array(fields),
		event.ActorID,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns a subject's events oldest first.
func (s *Store) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]audit.Event, error) {
	query := `
		SELECT id, category, timestamp, subject_id, flow_key, action,
			   stage_key, decision, reason, fields, actor_id, request_id
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY timestamp, id
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(subject))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			id        uuid.UUID
			subjectID uuid.UUID
			category  string
			flowKey   string
			action    string
			stageKey  string
			fields    pq.StringArray
		)
		err := rows.Scan(
			&id, &category, &event.Timestamp, &subjectID, &flowKey, &action,
			&stageKey, &event.Decision, &event.Reason, &fields, &event.ActorID, &event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = domain.EventID(id)
		event.SubjectID = domain.SubjectID(subjectID)
		event.Category = audit.EventCategory(category)
		event.FlowKey = domain.FlowKey(flowKey)
		event.Action = audit.Action(action)
		event.StageKey = domain.StageKey(stageKey)
		if len(fields) > 0 {
			event.Fields = []string(fields)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
