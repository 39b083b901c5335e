package accounts

import (
	"context"
	"fmt"
	"sync"
)

// Static is an in-memory directory, used when profiles come from elsewhere
// and by tests.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

var _ Store = (*Static)(nil)

// NewStatic returns a directory seeded with profiles.
func NewStatic(profiles ...Profile) *Static {
	s := &Static{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.UserID] = p
	}
	return s
}

func (s *Static) Profile(_ context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return p, nil
}

func (s *Static) SetTier(_ context.Context, userID string, tier Tier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if p.Tier == tier {
		return false, nil
	}
	p.Tier = tier
	s.profiles[userID] = p
	return true, nil
}

func (s *Static) Upsert(_ context.Context, p Profile) error {
	if err := validateProfile(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *Static) Close() error { return nil }
