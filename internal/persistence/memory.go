package persistence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Deletes are soft.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*Record // root -> id -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]*Record)}
}

func (s *MemoryStore) Insert(_ context.Context, root string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.data[root]
	if m == nil {
		m = make(map[string]*Record)
		s.data[root] = m
	}
	if old, ok := m[rec.ID]; ok && !old.Deleted {
		return ErrVersionConflict
	}
	now := time.Now().UTC()
	rec.Version = 1
	rec.CreatedAt, rec.UpdatedAt = now, now
	m[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, root string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.live(root, rec.ID)
	if cur == nil {
		return RecordError(root, rec.ID)
	}
	if cur.Version != rec.Version {
		return ErrVersionConflict
	}
	rec.Version++
	rec.CreatedAt = cur.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.data[root][rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, root, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.live(root, id)
	if cur == nil {
		return nil, RecordError(root, id)
	}
	return cur.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, root, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.live(root, id)
	if cur == nil {
		return RecordError(root, id)
	}
	cur.Deleted = true
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) List(_ context.Context, q Query) ([]*Record, int, error) {
	s.mu.RLock()
	var matched []*Record
	for _, rec := range s.data[q.Root] {
		if rec.Deleted || !typeAllowed(rec.Type, q.Types) || !matchesFilters(rec, q.Filters) {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	s.mu.RUnlock()

	sortRecords(matched, q.Sort, q.Nulls)
	total := len(matched)
	return page(matched, q.Offset, q.Limit), total, nil
}

// caller holds the lock
func (s *MemoryStore) live(root, id string) *Record {
	m := s.data[root]
	if m == nil {
		return nil
	}
	rec := m[id]
	if rec == nil || rec.Deleted {
		return nil
	}
	return rec
}

func (s *MemoryStore) Count(_ context.Context, q Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.data[q.Root] {
		if !rec.Deleted && typeAllowed(rec.Type, q.Types) && matchesFilters(rec, q.Filters) {
			n++
		}
	}
	return n, nil
}
