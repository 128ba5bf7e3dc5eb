// Package presence derives online/away/offline status from heartbeat age
// and runs the local participant's heartbeat loop.
package presence

import (
	"time"
)

// Status is a participant's derived presence.
type Status string

const (
	Online  Status = "Online"
	Away    Status = "Away"
	Offline Status = "Offline"
)

const (
	// OnlineWindow is the maximum heartbeat age for Online.
	OnlineWindow = 30 * time.Second
	// AwayWindow is the maximum heartbeat age for Away.
	AwayWindow = 300 * time.Second
)

// Classify derives the presence status from the last heartbeat age. The
// status is never stored; it is recomputed on every read. A participant
// with no recorded heartbeat is Offline.
func Classify(now, lastSeen time.Time) Status {
	if lastSeen.IsZero() {
		return Offline
	}

	age := now.Sub(lastSeen)
	switch {
	case age < OnlineWindow:
		return Online
	case age < AwayWindow:
		return Away
	default:
		return Offline
	}
}
