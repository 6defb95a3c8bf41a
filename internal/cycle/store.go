package cycle

import (
	"context"
	"sync"
	"time"

	"github.com/lunara-app/service-cycle-go/internal/cycle/entity"
)

// Store persists one versioned CycleProfile document per user. Update applies
// compare-and-swap on the version so concurrent writers for the same user
// serialize; the service retries on ErrVersionConflict.
type Store interface {
	// Get returns the profile and its current version, or a NotFoundError.
	Get(ctx context.Context, userID string) (*entity.CycleProfile, int64, error)
	// Create inserts a fresh profile at version 1. A concurrent insert for
	// the same user surfaces as ErrVersionConflict.
	Create(ctx context.Context, profile *entity.CycleProfile) error
	// Update replaces the document if the stored version still equals
	// expectedVersion, otherwise returns ErrVersionConflict.
	Update(ctx context.Context, profile *entity.CycleProfile, expectedVersion int64) error
	// UserIDs lists every user with a stored profile.
	UserIDs(ctx context.Context) ([]string, error)
}

type storedProfile struct {
	profile entity.CycleProfile
	version int64
}

// MemoryStore is a mutex-guarded in-process Store. It backs tests and the
// no-database dev mode with the same versioning semantics as the SQL store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]storedProfile
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]storedProfile)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, userID string) (*entity.CycleProfile, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.profiles[userID]
	if !ok {
		return nil, 0, &NotFoundError{Kind: "profile", ID: userID}
	}
	cp := cloneProfile(doc.profile)
	return &cp, doc.version, nil
}

func (s *MemoryStore) Create(_ context.Context, profile *entity.CycleProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.UserID]; ok {
		return ErrVersionConflict
	}
	s.profiles[profile.UserID] = storedProfile{profile: cloneProfile(*profile), version: 1}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, profile *entity.CycleProfile, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.profiles[profile.UserID]
	if !ok {
		return &NotFoundError{Kind: "profile", ID: profile.UserID}
	}
	if doc.version != expectedVersion {
		return ErrVersionConflict
	}
	s.profiles[profile.UserID] = storedProfile{profile: cloneProfile(*profile), version: expectedVersion + 1}
	return nil
}

func (s *MemoryStore) UserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	return ids, nil
}

func cloneProfile(p entity.CycleProfile) entity.CycleProfile {
	cp := p
	cp.Periods = append([]entity.Period(nil), p.Periods...)
	for i := range cp.Periods {
		if cp.Periods[i].EndDate != nil {
			end := *cp.Periods[i].EndDate
			cp.Periods[i].EndDate = &end
		}
	}
	cp.Symptoms = append([]entity.Symptom(nil), p.Symptoms...)
	for i := range cp.Symptoms {
		if cp.Symptoms[i].Notes != nil {
			notes := *cp.Symptoms[i].Notes
			cp.Symptoms[i].Notes = &notes
		}
	}
	cp.ShareWith = append([]string(nil), p.ShareWith...)
	cp.LastPeriodStart = cloneTime(p.LastPeriodStart)
	cp.LastPeriodEnd = cloneTime(p.LastPeriodEnd)
	cp.ExpectedNextPeriod.StartDate = cloneTime(p.ExpectedNextPeriod.StartDate)
	cp.ExpectedNextPeriod.EndDate = cloneTime(p.ExpectedNextPeriod.EndDate)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
