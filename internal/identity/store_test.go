package identity

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeviceStoreEstablishAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")

	directory, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	store := directory.Device("")

	if _, err := store.Load(); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("Load() before Establish error = %v, want ErrNoIdentity", err)
	}

	profile, err := store.Establish("alice")
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if profile.UserID == "" {
		t.Error("Establish() assigned empty user id")
	}
	if profile.Username != "alice" {
		t.Errorf("Username = %q, want alice", profile.Username)
	}
	if !strings.Contains(profile.AvatarURL, "seed=alice") {
		t.Errorf("AvatarURL = %q, want dicebear URL seeded by username", profile.AvatarURL)
	}
	if !validColor(profile.Color) {
		t.Errorf("Color = %q, not in palette", profile.Color)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.UserID != profile.UserID {
		t.Errorf("Load() id = %q, want %q", loaded.UserID, profile.UserID)
	}
}

func TestDeviceStoreUserIDStableAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")

	directory, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first, err := directory.Device("").Establish("alice")
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	second, err := reopened.Device(first.UserID).Establish("alice-renamed")
	if err != nil {
		t.Fatalf("Establish() after reopen error = %v", err)
	}

	if second.UserID != first.UserID {
		t.Errorf("user id changed across restart: %q -> %q", first.UserID, second.UserID)
	}
	if second.Username != "alice-renamed" {
		t.Errorf("Username = %q, want alice-renamed", second.Username)
	}
}

func TestDirectoryKeepsDevicesSeparate(t *testing.T) {
	directory, err := Open(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	alice, err := directory.Device("").Establish("alice")
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	bob, err := directory.Device("").Establish("bob")
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	if alice.UserID == bob.UserID {
		t.Fatalf("two devices share user id %q", alice.UserID)
	}

	loaded, err := directory.Device(alice.UserID).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Username != "alice" {
		t.Errorf("Username = %q, want alice", loaded.Username)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.Load(); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("Load() error = %v, want ErrNoIdentity", err)
	}
	if _, err := store.Establish(""); err == nil {
		t.Error("Establish(\"\") succeeded, want error")
	}

	first, err := store.Establish("bob")
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	second, err := store.Establish("bobby")
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	if first.UserID != second.UserID {
		t.Errorf("user id not stable: %q -> %q", first.UserID, second.UserID)
	}
}

func validColor(c string) bool {
	for _, color := range Colors {
		if c == color {
			return true
		}
	}
	return false
}
