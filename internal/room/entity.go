package room

import (
	"time"
)

// Room is the room header. Rooms are identified by a human-typeable
// 6-digit numeric code. CallID is the external calling-service session id,
// lazily created on first call and reused afterwards.
type Room struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	CallID    string    `json:"call_id,omitempty"`
}

// Participant is one device/session joined to a room, keyed by its stable
// per-device id. LastSeen is the participant's latest heartbeat; presence
// is derived from it on read, never stored.
type Participant struct {
	ID        string    `json:"user_id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url"`
	Color     string    `json:"color"`
	LastSeen  time.Time `json:"last_seen"`
}

// Message is one stored chat message. The body is ciphertext keyed by the
// sender's id; Timestamp is assigned by the repository at append time and
// is the only valid ordering key. Read flips false→true exactly once,
// written by any participant other than the sender.
type Message struct {
	ID         string    `json:"id"`
	Ciphertext string    `json:"text"`
	SenderID   string    `json:"user_id"`
	SenderName string    `json:"username"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}
