package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Directory persists participant profiles in a local SQLite database,
// keyed by participant id. Each connected device gets a Store view bound
// to the id it remembered, so profiles survive reconnects and restarts.
type Directory struct {
	db *gorm.DB
}

// Open opens (and migrates) the profile database at the given path.
func Open(path string) (*Directory, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}

	if err := db.AutoMigrate(&Profile{}); err != nil {
		return nil, fmt.Errorf("failed to migrate identity store: %w", err)
	}

	return &Directory{db: db}, nil
}

// Device returns the Store view for one device. userID is the id the
// device remembered from an earlier session; pass "" for a device that
// has none yet.
func (d *Directory) Device(userID string) *DeviceStore {
	return &DeviceStore{directory: d, userID: userID}
}

// DeviceStore implements Store for one device's profile.
type DeviceStore struct {
	directory *Directory
	userID    string
}

// Load returns the stored profile.
func (s *DeviceStore) Load() (*Profile, error) {
	if s.userID == "" {
		return nil, ErrNoIdentity
	}

	var profile Profile
	if err := s.directory.db.First(&profile, "user_id = ?", s.userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoIdentity
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return &profile, nil
}

// Establish creates or refreshes the profile for a display name.
func (s *DeviceStore) Establish(username string) (*Profile, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	profile, err := s.Load()
	switch {
	case errors.Is(err, ErrNoIdentity):
		id := s.userID
		if id == "" {
			id = uuid.NewString()
		}
		profile = &Profile{UserID: id}
	case err != nil:
		return nil, err
	}

	profile.Username = username
	profile.AvatarURL = AvatarURLFor(username)
	profile.Color = RandomColor()

	if err := s.directory.db.Save(profile).Error; err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}
	s.userID = profile.UserID

	return profile, nil
}
