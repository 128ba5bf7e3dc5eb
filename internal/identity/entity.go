package identity

import (
	"fmt"
	"time"
)

// Colors is the fixed palette a participant's color tag is drawn from.
var Colors = []string{"red", "blue", "green", "purple", "orange", "pink", "teal"}

// Profile is the per-device participant profile. The id is generated once
// and survives process restarts; the color tag is re-drawn each time the
// profile is established for a room join and stays stable for that session.
type Profile struct {
	UserID    string    `gorm:"primarykey;size:36" json:"user_id"`
	Username  string    `gorm:"size:100;not null" json:"username"`
	AvatarURL string    `gorm:"size:500" json:"avatar_url"`
	Color     string    `gorm:"size:20" json:"color"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for the Profile model.
func (Profile) TableName() string {
	return "profiles"
}

// AvatarURLFor derives the avatar URL for a display name.
func AvatarURLFor(username string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", username)
}
