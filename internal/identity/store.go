// Package identity persists stable per-device participant profiles.
package identity

import (
	"errors"
	"math/rand"
)

// ErrNoIdentity is returned when no profile has been established yet. The
// caller is expected to route the user through identity setup first.
var ErrNoIdentity = errors.New("no local identity established")

// Store persists one device's participant profile.
type Store interface {
	// Load returns the stored profile, or ErrNoIdentity.
	Load() (*Profile, error)
	// Establish creates or refreshes the profile for the given display
	// name. The participant id is generated on first use and never changes
	// afterwards; the color tag is re-drawn on every call.
	Establish(username string) (*Profile, error)
}

// RandomColor picks a color tag from the palette.
func RandomColor() string {
	return Colors[rand.Intn(len(Colors))]
}
