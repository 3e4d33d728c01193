package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"portal/internal/flow/document"
	"portal/pkg/domain"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

type docKey struct {
	subject domain.SubjectID
	flow    domain.FlowKey
}

type memoryRow struct {
	category  string
	data      []byte
	createdAt time.Time
	updatedAt time.Time
}

// InMemoryStore keeps documents as encoded JSON so readers never share
// nested values with the store. Intended for tests and local development.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[docKey]*memoryRow
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[docKey]*memoryRow)}
}

func (s *InMemoryStore) Read(_ context.Context, subject domain.SubjectID, flow domain.FlowKey) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[docKey{subject, flow}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return document.Unmarshal(row.data)
}

// MergeUpsert creates the document from patch or shallow-merges patch over
// the stored document, under one lock.
func (s *InMemoryStore) MergeUpsert(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, patch document.Document, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := requestcontext.Now(ctx)
	k := docKey{subject, flow}
	row, ok := s.rows[k]
	if !ok {
		raw, err := encodePatch(patch)
		if err != nil {
			return err
		}
		s.rows[k] = &memoryRow{category: category, data: raw, createdAt: now, updatedAt: now}
		return nil
	}
	return s.mergeLocked(row, patch, category, now)
}

// AppendStage applies patch only while the stored history still has
// expectedCount records and no rejection.
func (s *InMemoryStore) AppendStage(ctx context.Context, subject domain.SubjectID, flow domain.FlowKey, expectedCount int, patch document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[docKey{subject, flow}]
	if !ok {
		return sentinel.ErrNotFound
	}
	current, err := document.Unmarshal(row.data)
	if err != nil {
		return err
	}
	count, rejected, err := guardState(current)
	if err != nil {
		return err
	}
	if rejected || count != expectedCount {
		return sentinel.ErrConflict
	}
	return s.mergeLocked(row, patch, row.category, requestcontext.Now(ctx))
}

func (s *InMemoryStore) mergeLocked(row *memoryRow, patch document.Document, category string, now time.Time) error {
	current, err := document.Unmarshal(row.data)
	if err != nil {
		return err
	}
	raw, err := encodePatch(document.Merge(current, patch))
	if err != nil {
		return fmt.Errorf("merge document: %w", err)
	}
	row.data = raw
	if category != "" {
		row.category = category
	}
	row.updatedAt = now
	return nil
}

// ListBySubject returns every document of subject ordered by flow key.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject domain.SubjectID) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []Entry
	for k, row := range s.rows {
		if k.subject != subject {
			continue
		}
		doc, err := document.Unmarshal(row.data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			SubjectID: k.subject,
			FlowKey:   k.flow,
			Category:  row.category,
			Document:  doc,
			CreatedAt: row.createdAt,
			UpdatedAt: row.updatedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FlowKey < entries[j].FlowKey })
	return entries, nil
}
