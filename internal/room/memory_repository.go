package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrParticipantNotFound is returned when touching a participant record
// that does not exist (for example after the room was cascade-deleted).
var ErrParticipantNotFound = errors.New("participant not found")

// MemoryRepository implements Repository with in-process storage. It backs
// tests and local development; the MongoDB repository is the production
// implementation.
type MemoryRepository struct {
	mutex sync.Mutex
	rooms map[string]*roomState
	ts    *timestampSource
}

type roomState struct {
	room         Room
	participants map[string]Participant
	messages     []Message
	msgSubs      map[int]chan []Message
	partSubs     map[int]chan []Participant
	nextSubID    int
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return NewMemoryRepositoryWithClock(nil)
}

// NewMemoryRepositoryWithClock creates an in-memory repository whose
// server timestamps come from the given clock. A nil clock means time.Now.
func NewMemoryRepositoryWithClock(now func() time.Time) *MemoryRepository {
	return &MemoryRepository{
		rooms: make(map[string]*roomState),
		ts:    newTimestampSource(now),
	}
}

// CreateRoom writes a new room header.
func (r *MemoryRepository) CreateRoom(ctx context.Context, code, createdBy string) (*Room, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.rooms[code]; exists {
		return nil, ErrRoomExists
	}

	state := &roomState{
		room: Room{
			Code:      code,
			CreatedAt: r.ts.next(),
			CreatedBy: createdBy,
		},
		participants: make(map[string]Participant),
		msgSubs:      make(map[int]chan []Message),
		partSubs:     make(map[int]chan []Participant),
	}
	r.rooms[code] = state

	copied := state.room
	return &copied, nil
}

// GetRoom returns the room header.
func (r *MemoryRepository) GetRoom(ctx context.Context, code string) (*Room, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return nil, ErrRoomNotFound
	}

	copied := state.room
	return &copied, nil
}

// SetCallID stores the calling-service session id on the room header.
func (r *MemoryRepository) SetCallID(ctx context.Context, code, callID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return ErrRoomNotFound
	}

	state.room.CallID = callID
	return nil
}

// UpsertParticipant merges the participant record under the room.
func (r *MemoryRepository) UpsertParticipant(ctx context.Context, code string, p *Participant) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return ErrRoomNotFound
	}

	state.participants[p.ID] = *p
	r.notifyParticipants(state)
	return nil
}

// TouchParticipant updates only the participant's heartbeat timestamp.
func (r *MemoryRepository) TouchParticipant(ctx context.Context, code, participantID string, at time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return ErrRoomNotFound
	}

	p, exists := state.participants[participantID]
	if !exists {
		return ErrParticipantNotFound
	}

	p.LastSeen = at
	state.participants[participantID] = p
	r.notifyParticipants(state)
	return nil
}

// ListParticipants returns the room's current participant records.
func (r *MemoryRepository) ListParticipants(ctx context.Context, code string) ([]Participant, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return []Participant{}, nil
	}

	return participantSnapshot(state), nil
}

// AppendMessage stores the message with an assigned id and server timestamp.
func (r *MemoryRepository) AppendMessage(ctx context.Context, code string, m *Message) (*Message, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return nil, ErrRoomNotFound
	}

	stored := *m
	stored.ID = primitive.NewObjectID().Hex()
	stored.Timestamp = r.ts.next()
	stored.Read = false

	state.messages = append(state.messages, stored)
	r.notifyMessages(state)

	copied := stored
	return &copied, nil
}

// ListMessages returns all messages ordered ascending by server timestamp.
func (r *MemoryRepository) ListMessages(ctx context.Context, code string) ([]Message, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return []Message{}, nil
	}

	return messageSnapshot(state), nil
}

// MarkMessageRead flips the read flag to true. Idempotent.
func (r *MemoryRepository) MarkMessageRead(ctx context.Context, code, messageID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return nil
	}

	for i := range state.messages {
		if state.messages[i].ID == messageID {
			if !state.messages[i].Read {
				state.messages[i].Read = true
				r.notifyMessages(state)
			}
			return nil
		}
	}

	// Already gone (room torn down mid-flight); marking is at-least-once
	// and harmless to skip.
	return nil
}

// DeleteRoomCascade deletes messages, then participants, then the header.
// Deleting an absent room is a no-op.
func (r *MemoryRepository) DeleteRoomCascade(ctx context.Context, code string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return nil
	}

	state.messages = nil
	r.notifyMessages(state)

	state.participants = make(map[string]Participant)
	r.notifyParticipants(state)

	delete(r.rooms, code)
	return nil
}

// SubscribeMessages streams ordered message snapshots for the room.
func (r *MemoryRepository) SubscribeMessages(ctx context.Context, code string) (*MessageSubscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return nil, ErrRoomNotFound
	}

	id := state.nextSubID
	state.nextSubID++

	ch := make(chan []Message, 1)
	state.msgSubs[id] = ch
	ch <- messageSnapshot(state)

	cancel := func() {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		if _, ok := state.msgSubs[id]; ok {
			delete(state.msgSubs, id)
			close(ch)
		}
	}

	return NewMessageSubscription(ch, cancel), nil
}

// SubscribeParticipants streams participant snapshots for the room.
func (r *MemoryRepository) SubscribeParticipants(ctx context.Context, code string) (*ParticipantSubscription, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.rooms[code]
	if !exists {
		return nil, ErrRoomNotFound
	}

	id := state.nextSubID
	state.nextSubID++

	ch := make(chan []Participant, 1)
	state.partSubs[id] = ch
	ch <- participantSnapshot(state)

	cancel := func() {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		if _, ok := state.partSubs[id]; ok {
			delete(state.partSubs, id)
			close(ch)
		}
	}

	return NewParticipantSubscription(ch, cancel), nil
}

// notifyMessages pushes the latest message snapshot to every subscriber.
// Each subscriber channel holds only the newest snapshot: a stale pending
// one is dropped first, so delivery never blocks. Caller holds the lock.
func (r *MemoryRepository) notifyMessages(state *roomState) {
	snapshot := messageSnapshot(state)
	for _, ch := range state.msgSubs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

func (r *MemoryRepository) notifyParticipants(state *roomState) {
	snapshot := participantSnapshot(state)
	for _, ch := range state.partSubs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

func messageSnapshot(state *roomState) []Message {
	snapshot := make([]Message, len(state.messages))
	copy(snapshot, state.messages)
	return snapshot
}

func participantSnapshot(state *roomState) []Participant {
	snapshot := make([]Participant, 0, len(state.participants))
	for _, p := range state.participants {
		snapshot = append(snapshot, p)
	}
	return snapshot
}
