package family

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local [Store] for tests and single-node
// development. A single mutex gives it the same atomic rotate semantics the
// Postgres implementation gets from its transaction.
type MemoryStore struct {
	mu       sync.Mutex
	families map[string]*Family
	jtis     map[string]string // jti -> family_id
}

// NewMemoryStore creates an empty in-memory family store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		families: make(map[string]*Family),
		jtis:     make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, fam Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fam.CurrentJTI != "" {
		if _, used := s.jtis[fam.CurrentJTI]; used {
			return ErrJTIReused
		}
		s.jtis[fam.CurrentJTI] = fam.FamilyID
	}
	clone := fam
	s.families[fam.FamilyID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, familyID string) (Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fam, ok := s.families[familyID]
	if !ok {
		return Family{}, ErrFamilyNotFound
	}
	return *fam, nil
}

func (s *MemoryStore) Rotate(_ context.Context, familyID, expectedJTI, newJTI, newTokenHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.jtis[newJTI]; used {
		return ErrJTIReused
	}

	fam, ok := s.families[familyID]
	if !ok || fam.RevokedAt != nil {
		return ErrFamilyNotFound
	}
	if fam.CurrentJTI != expectedJTI {
		return ErrStaleRotation
	}

	s.jtis[newJTI] = familyID
	fam.CurrentJTI = newJTI
	fam.RefreshTokenHash = newTokenHash
	fam.LastUsed = now
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, familyID, reason, reusedJTIOf string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fam, ok := s.families[familyID]
	if !ok {
		return ErrFamilyNotFound
	}
	if fam.RevokedAt != nil {
		return nil
	}
	revokedAt := at
	fam.RevokedAt = &revokedAt
	fam.RevocationReason = reason
	fam.ReusedJTIOf = reusedJTIOf
	return nil
}

func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID, exceptFamilyID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for id, fam := range s.families {
		if fam.UserID != userID || fam.RevokedAt != nil || id == exceptFamilyID {
			continue
		}
		revokedAt := at
		fam.RevokedAt = &revokedAt
		fam.RevocationReason = reason
		revoked++
	}
	return revoked, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var families []Family
	for _, fam := range s.families {
		if fam.UserID == userID {
			families = append(families, *fam)
		}
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].CreatedAt.After(families[j].CreatedAt)
	})
	return families, nil
}

func (s *MemoryStore) LookupJTI(_ context.Context, jti string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jtis[jti], nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, fam := range s.families {
		if fam.ExpiresAt.Before(now) {
			delete(s.families, id)
			removed++
		}
	}
	for jti, familyID := range s.jtis {
		if _, ok := s.families[familyID]; !ok {
			delete(s.jtis, jti)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
