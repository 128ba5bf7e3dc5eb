package websocket

import (
	"errors"
	"time"

	"room-chat/internal/identity"
	"room-chat/internal/msgsync"
	"room-chat/internal/presence"
	"room-chat/internal/room"
	"room-chat/internal/session"
)

// ClientCommand is the envelope for commands a client sends over the
// socket, discriminated by Type.
type ClientCommand struct {
	// Type is one of: create, join, send, leave, delete, call.
	Type string `json:"type"`
	// Code is the 6-digit room code (join).
	Code string `json:"code,omitempty"`
	// Username is the display name (create, join).
	Username string `json:"username,omitempty"`
	// UserID is the participant id the client remembered from an earlier
	// session; empty for a first-time client (create, join).
	UserID string `json:"user_id,omitempty"`
	// Body is the plaintext message body (send).
	Body string `json:"body,omitempty"`
}

// Command types accepted from clients.
const (
	CmdCreate = "create"
	CmdJoin   = "join"
	CmdSend   = "send"
	CmdLeave  = "leave"
	CmdDelete = "delete"
	CmdCall   = "call"
)

// ServerEvent is the envelope for events pushed to the client,
// discriminated by Type.
type ServerEvent struct {
	Type         string            `json:"type"`
	Code         string            `json:"code,omitempty"`
	Profile      *identity.Profile `json:"profile,omitempty"`
	Messages     []msgsync.Entry   `json:"messages,omitempty"`
	Participants []ParticipantView `json:"participants,omitempty"`
	CallID       string            `json:"call_id,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Event types pushed to clients.
const (
	EvtJoined       = "joined"
	EvtMessages     = "messages"
	EvtParticipants = "participants"
	EvtLeft         = "left"
	EvtDeleted      = "deleted"
	EvtCall         = "call"
	EvtError        = "error"
)

// ParticipantView is a participant decorated with presence derived at
// read time from the heartbeat age.
type ParticipantView struct {
	room.Participant
	Status presence.Status `json:"status"`
}

func presentParticipants(participants []room.Participant) []ParticipantView {
	now := time.Now()
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, ParticipantView{
			Participant: p,
			Status:      presence.Classify(now, p.LastSeen),
		})
	}
	return views
}

// errorCode maps domain errors to stable wire codes a client can branch on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, room.ErrPartialCascade):
		return "partial_delete"
	case errors.Is(err, session.ErrNotJoined):
		return "not_joined"
	case errors.Is(err, session.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, identity.ErrNoIdentity):
		return "identity_required"
	default:
		return "internal_error"
	}
}
