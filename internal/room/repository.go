package room

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrRoomExists is returned when creating a room whose code is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned when a room code has no header.
	ErrRoomNotFound = errors.New("room not found")
	// ErrPartialCascade is returned when a cascade delete failed before all
	// child records were removed. The room header is kept so the cascade
	// can be retried.
	ErrPartialCascade = errors.New("cascade delete incomplete")
)

// Repository is the source of truth for rooms, participants and messages.
// In-memory views held elsewhere are disposable projections of it.
//
// Participant upserts are idempotent merges on (room, participant id);
// message timestamps are assigned by the repository and are strictly
// increasing per repository instance, so a single writer's messages are
// always ordered the way they were sent.
type Repository interface {
	// CreateRoom writes a new room header. ErrRoomExists if the code is taken.
	CreateRoom(ctx context.Context, code, createdBy string) (*Room, error)
	// GetRoom returns the room header, or ErrRoomNotFound.
	GetRoom(ctx context.Context, code string) (*Room, error)
	// SetCallID stores the calling-service session id on the room header.
	SetCallID(ctx context.Context, code, callID string) error

	// UpsertParticipant merges the participant record under the room.
	UpsertParticipant(ctx context.Context, code string, p *Participant) error
	// TouchParticipant updates only the participant's heartbeat timestamp.
	TouchParticipant(ctx context.Context, code, participantID string, at time.Time) error
	// ListParticipants returns the room's current participant records.
	ListParticipants(ctx context.Context, code string) ([]Participant, error)

	// AppendMessage stores the message, assigning its id and server
	// timestamp, and returns the stored record.
	AppendMessage(ctx context.Context, code string, m *Message) (*Message, error)
	// ListMessages returns all messages ordered ascending by server timestamp.
	ListMessages(ctx context.Context, code string) ([]Message, error)
	// MarkMessageRead flips the read flag to true. Idempotent; the flag
	// never goes back to false.
	MarkMessageRead(ctx context.Context, code, messageID string) error

	// DeleteRoomCascade deletes all messages, then all participants, then
	// the room header, in that order. Deleting an absent room is a no-op.
	DeleteRoomCascade(ctx context.Context, code string) error

	// SubscribeMessages streams replace-the-whole-list snapshots of the
	// room's messages, ordered ascending by server timestamp. The first
	// snapshot reflects the state at subscribe time.
	SubscribeMessages(ctx context.Context, code string) (*MessageSubscription, error)
	// SubscribeParticipants streams snapshots of the room's participants.
	SubscribeParticipants(ctx context.Context, code string) (*ParticipantSubscription, error)
}

// MessageSubscription is a live ordered view of a room's messages.
type MessageSubscription struct {
	C      <-chan []Message
	cancel func()
	once   sync.Once
}

// NewMessageSubscription wraps a snapshot channel and a cancel hook.
func NewMessageSubscription(c <-chan []Message, cancel func()) *MessageSubscription {
	return &MessageSubscription{C: c, cancel: cancel}
}

// Cancel stops the subscription. Safe to call multiple times.
func (s *MessageSubscription) Cancel() {
	s.once.Do(s.cancel)
}

// ParticipantSubscription is a live view of a room's participants.
type ParticipantSubscription struct {
	C      <-chan []Participant
	cancel func()
	once   sync.Once
}

// NewParticipantSubscription wraps a snapshot channel and a cancel hook.
func NewParticipantSubscription(c <-chan []Participant, cancel func()) *ParticipantSubscription {
	return &ParticipantSubscription{C: c, cancel: cancel}
}

// Cancel stops the subscription. Safe to call multiple times.
func (s *ParticipantSubscription) Cancel() {
	s.once.Do(s.cancel)
}

// timestampSource hands out server timestamps that are strictly increasing
// per repository instance, even when the wall clock stalls within its
// resolution. Stored timestamps are millisecond precision (BSON datetime),
// so the guard steps in whole milliseconds.
type timestampSource struct {
	mutex sync.Mutex
	now   func() time.Time
	last  time.Time
}

func newTimestampSource(now func() time.Time) *timestampSource {
	if now == nil {
		now = time.Now
	}
	return &timestampSource{now: now}
}

func (s *timestampSource) next() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t := s.now().Truncate(time.Millisecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}
