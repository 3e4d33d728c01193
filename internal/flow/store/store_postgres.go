package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"portal/internal/flow/document"
	"portal/pkg/domain"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

const schema = `
CREATE TABLE IF NOT EXISTS flow_documents (
	subject_id UUID NOT NULL,
	flow_key   TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_id, flow_key)
);
CREATE INDEX IF NOT EXISTS flow_documents_subject_idx ON flow_documents (subject_id);
`

// PostgresStore persists flow documents as JSONB rows. Both writes are single
// statements, so concurrent submissions never lose each other's fields.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the flow_documents table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate flow documents: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey) (document.Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM flow_documents WHERE subject_id = $1 AND flow_key = $2`,
		subject.String(), string(flow),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read flow document: %w", err)
	}
	return document.Unmarshal(raw)
}

// MergeUpsert inserts patch as a new document or merges it over the stored
// one with jsonb concatenation, which replaces top-level keys and keeps the rest.
func (s *PostgresStore) MergeUpsert(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, patch document.Document, category string) error {
	raw, err := encodePatch(patch)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	query := `
		INSERT INTO flow_documents (subject_id, flow_key, category, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $5)
		ON CONFLICT (subject_id, flow_key) DO UPDATE SET
			data = flow_documents.data || EXCLUDED.data,
			category = COALESCE(NULLIF(EXCLUDED.category, ''), flow_documents.category),
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, subject.String(), string(flow), category, raw, now); err != nil {
		return fmt.Errorf("merge upsert flow document: %w", err)
	}
	return nil
}

// AppendStage merges patch only while the stored approval history still has
// expectedCount entries and no rejection marker. A miss is disambiguated
// into not-found versus conflict with a follow-up existence check.
func (s *PostgresStore) AppendStage(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, expectedCount int, patch document.Document) error {
	raw, err := encodePatch(patch)
	if err != nil {
		return err
	}
	query := `
		UPDATE flow_documents
		SET data = data || $3::jsonb, updated_at = $4
		WHERE subject_id = $1 AND flow_key = $2
			AND COALESCE(jsonb_array_length(CASE WHEN jsonb_typeof(data->'approvalStages') = 'array'
				THEN data->'approvalStages' END), 0) = $5
			AND NOT (data ? 'rejectedAt')
	`
	tag, err := s.pool.Exec(ctx, query, subject.String(), string(flow), raw, requestcontext.Now(ctx), expectedCount)
	if err != nil {
		return fmt.Errorf("append approval stage: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM flow_documents WHERE subject_id = $1 AND flow_key = $2)`,
		subject.String(), string(flow),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check flow document: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT flow_key, category, data, created_at, updated_at
		FROM flow_documents
		WHERE subject_id = $1
		ORDER BY flow_key
	`, subject.String())
	if err != nil {
		return nil, fmt.Errorf("list flow documents: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			flow string
			raw  []byte
		)
		if err := rows.Scan(&flow, &e.Category, &raw, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan flow document: %w", err)
		}
		doc, err := document.Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		e.SubjectID = subject
		e.FlowKey = domain.FlowKey(flow)
		e.Document = doc
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow documents: %w", err)
	}
	return entries, nil
}
