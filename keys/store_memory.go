package keys

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local [Store] for tests and single-node
// development. It honors the same pointer-atomicity contract as
// [PostgresStore] under an internal mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	current string
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Insert(_ context.Context, rec Record, makeCurrent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := rec
	s.records[rec.KeyID] = &clone

	if makeCurrent {
		if s.current != "" && s.current != rec.KeyID {
			if prev, ok := s.records[s.current]; ok && prev.Status == StatusActive {
				retiredAt := rec.CreatedAt
				prev.Status = StatusRetired
				prev.RetiredAt = &retiredAt
			}
		}
		s.current = rec.KeyID
	}
	return nil
}

func (s *MemoryStore) GetCurrent(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[s.current]
	if s.current == "" || !ok || rec.Status != StatusActive {
		return Record{}, ErrNoCurrentKey
	}
	return *rec, nil
}

func (s *MemoryStore) Get(_ context.Context, keyID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[keyID]
	if !ok {
		return Record{}, ErrKeyNotFound
	}
	return *rec, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, *rec)
	}
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].CreatedAt.After(records[j-1].CreatedAt); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
	return records, nil
}

func (s *MemoryStore) MarkRevoked(_ context.Context, keyID, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[keyID]
	if !ok {
		return false, ErrKeyNotFound
	}

	wasCurrent := rec.Status == StatusActive && s.current == keyID
	rec.Status = StatusRevoked
	revokedAt := at
	rec.RevokedAt = &revokedAt
	rec.RevocationReason = reason

	if wasCurrent {
		s.current = ""
	}
	return wasCurrent, nil
}

func (s *MemoryStore) DeleteRetiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.Status == StatusRetired && rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
