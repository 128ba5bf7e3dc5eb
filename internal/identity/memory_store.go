package identity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore implements Store in memory. Profiles do not survive a
// restart; intended for tests and local development.
type MemoryStore struct {
	mutex   sync.Mutex
	profile *Profile
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored profile.
func (s *MemoryStore) Load() (*Profile, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.profile == nil {
		return nil, ErrNoIdentity
	}
	copied := *s.profile
	return &copied, nil
}

// Establish creates or refreshes the profile for a display name.
func (s *MemoryStore) Establish(username string) (*Profile, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.profile == nil {
		s.profile = &Profile{UserID: uuid.NewString()}
	}
	s.profile.Username = username
	s.profile.AvatarURL = AvatarURLFor(username)
	s.profile.Color = RandomColor()

	copied := *s.profile
	return &copied, nil
}
