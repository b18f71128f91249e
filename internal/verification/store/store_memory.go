package store

import (
	"context"
	"sync"
	"time"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
)

// InMemoryAttemptStore keeps attempts in maps. It enforces the same
// uniqueness rules the database does so unit tests exercise real semantics.
type InMemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts map[id.AttemptID]*models.Attempt
	byUser   map[id.UserID][]id.AttemptID
}

func NewInMemoryAttemptStore() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{
		attempts: make(map[id.AttemptID]*models.Attempt),
		byUser:   make(map[id.UserID][]id.AttemptID),
	}
}

func (s *InMemoryAttemptStore) Create(_ context.Context, attempt *models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.attempts[attempt.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, aid := range s.byUser[attempt.UserID] {
		existing := s.attempts[aid]
		if existing.Status == models.StatusInProgress && attempt.Status == models.StatusInProgress {
			return sentinel.ErrConflict
		}
		if existing.Number == attempt.Number {
			return sentinel.ErrConflict
		}
	}

	s.attempts[attempt.ID] = cloneAttempt(attempt)
	s.byUser[attempt.UserID] = append(s.byUser[attempt.UserID], attempt.ID)
	return nil
}

func (s *InMemoryAttemptStore) Update(_ context.Context, attempt *models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attempts[attempt.ID]; !exists {
		return sentinel.ErrNotFound
	}
	s.attempts[attempt.ID] = cloneAttempt(attempt)
	return nil
}

func (s *InMemoryAttemptStore) GetByID(_ context.Context, attemptID id.AttemptID) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAttempt(attempt), nil
}

func (s *InMemoryAttemptStore) FindInProgress(_ context.Context, userID id.UserID) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, aid := range s.byUser[userID] {
		if attempt := s.attempts[aid]; attempt.Status == models.StatusInProgress {
			return cloneAttempt(attempt), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryAttemptStore) FindLatest(_ context.Context, userID id.UserID) (*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Attempt
	for _, aid := range s.byUser[userID] {
		attempt := s.attempts[aid]
		if latest == nil || attempt.Number > latest.Number {
			latest = attempt
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return cloneAttempt(latest), nil
}

func (s *InMemoryAttemptStore) NextNumber(_ context.Context, userID id.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, aid := range s.byUser[userID] {
		if n := s.attempts[aid].Number; n > max {
			max = n
		}
	}
	return max + 1, nil
}

// cloneAttempt copies an attempt so callers never alias store-owned state.
func cloneAttempt(a *models.Attempt) *models.Attempt {
	out := *a
	if a.DuplicateOfUserID != nil {
		dup := *a.DuplicateOfUserID
		out.DuplicateOfUserID = &dup
	}
	if a.DocumentCheck != nil {
		check := *a.DocumentCheck
		out.DocumentCheck = &check
	}
	if a.Manual != nil {
		manual := *a.Manual
		out.Manual = &manual
	}
	if a.PremiumScores != nil {
		out.PremiumScores = make(map[string]float64, len(a.PremiumScores))
		for k, v := range a.PremiumScores {
			out.PremiumScores[k] = v
		}
	}
	if a.RequestedComponents != nil {
		out.RequestedComponents = append([]models.Component(nil), a.RequestedComponents...)
	}
	return &out
}

// InMemoryProfileStore keeps profiles in a map.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[id.UserID]models.Profile
}

func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{profiles: make(map[id.UserID]models.Profile)}
}

func (s *InMemoryProfileStore) Get(_ context.Context, userID id.UserID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &profile, nil
}

func (s *InMemoryProfileStore) SetState(_ context.Context, userID id.UserID, state models.ProfileState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.defaultedLocked(userID)
	profile.State = state
	profile.UpdatedAt = time.Now().UTC()
	s.profiles[userID] = profile
	return nil
}

func (s *InMemoryProfileStore) SetVerificationStatus(_ context.Context, userID id.UserID, status models.VerificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.defaultedLocked(userID)
	profile.VerificationStatus = status
	profile.UpdatedAt = time.Now().UTC()
	s.profiles[userID] = profile
	return nil
}

func (s *InMemoryProfileStore) defaultedLocked(userID id.UserID) models.Profile {
	if profile, ok := s.profiles[userID]; ok {
		return profile
	}
	return models.Profile{
		UserID:             userID,
		State:              models.ProfilePendingAttempt1,
		VerificationStatus: models.VerificationPending,
	}
}
