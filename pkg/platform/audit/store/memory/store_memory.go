package memory

import (
	"context"
	"sync"

	"portal/pkg/domain"
	audit "portal/pkg/platform/audit"
)

// InMemoryStore keeps events per subject in emission order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.SubjectID][]audit.Event
	seen   map[domain.EventID]bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[domain.SubjectID][]audit.Event),
		seen:   make(map[domain.EventID]bool),
	}
}

// Append ignores an event whose ID was already stored.
func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[event.ID] {
		return nil
	}
	s.seen[event.ID] = true
	s.events[event.SubjectID] = append(s.events[event.SubjectID], event)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject domain.SubjectID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[subject]...), nil
}

// ListAll returns every event across subjects.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Event
	for _, events := range s.events {
		all = append(all, events...)
	}
	return all, nil
}
