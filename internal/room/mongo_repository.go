package room

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"room-chat/internal/database"
)

const (
	queryTimeout = 5 * time.Second
	pollInterval = 500 * time.Millisecond
)

// RoomDocument is the MongoDB document for a room header.
type RoomDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Code      string             `bson:"code"`
	CreatedAt time.Time          `bson:"created_at"`
	CreatedBy string             `bson:"created_by"`
	CallID    string             `bson:"call_id,omitempty"`
}

// ToRoom converts RoomDocument to a Room entity.
func (doc *RoomDocument) ToRoom() *Room {
	return &Room{
		Code:      doc.Code,
		CreatedAt: doc.CreatedAt,
		CreatedBy: doc.CreatedBy,
		CallID:    doc.CallID,
	}
}

// ParticipantDocument is the MongoDB document for a participant record.
type ParticipantDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomCode  string             `bson:"room_code"`
	UserID    string             `bson:"user_id"`
	Username  string             `bson:"username"`
	AvatarURL string             `bson:"avatar_url"`
	Color     string             `bson:"color"`
	LastSeen  time.Time          `bson:"last_seen"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

// ToParticipant converts ParticipantDocument to a Participant entity.
func (doc *ParticipantDocument) ToParticipant() *Participant {
	return &Participant{
		ID:        doc.UserID,
		Username:  doc.Username,
		AvatarURL: doc.AvatarURL,
		Color:     doc.Color,
		LastSeen:  doc.LastSeen,
	}
}

// MessageDocument is the MongoDB document for a message record.
type MessageDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomCode  string             `bson:"room_code"`
	Text      string             `bson:"text"`
	UserID    string             `bson:"user_id"`
	Username  string             `bson:"username"`
	Timestamp time.Time          `bson:"timestamp"`
	Read      bool               `bson:"read"`
}

// ToMessage converts MessageDocument to a Message entity.
func (doc *MessageDocument) ToMessage() *Message {
	return &Message{
		ID:         doc.ID.Hex(),
		Ciphertext: doc.Text,
		SenderID:   doc.UserID,
		SenderName: doc.Username,
		Timestamp:  doc.Timestamp,
		Read:       doc.Read,
	}
}

// MongoRepository implements Repository using MongoDB. Live subscriptions
// ride on change streams when the deployment supports them (replica set)
// and degrade to polling otherwise.
type MongoRepository struct {
	rooms        *mongo.Collection
	participants *mongo.Collection
	messages     *mongo.Collection
	ts           *timestampSource
}

// NewMongoRepository creates a new MongoDB room repository.
func NewMongoRepository(db *database.MongoDB) *MongoRepository {
	return &MongoRepository{
		rooms:        db.GetCollection("rooms"),
		participants: db.GetCollection("participants"),
		messages:     db.GetCollection("messages"),
		ts:           newTimestampSource(nil),
	}
}

// CreateRoom writes a new room header. The unique index on code turns a
// concurrent duplicate into ErrRoomExists.
func (r *MongoRepository) CreateRoom(ctx context.Context, code, createdBy string) (*Room, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := &RoomDocument{
		Code:      code,
		CreatedAt: r.ts.next(),
		CreatedBy: createdBy,
	}

	if _, err := r.rooms.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrRoomExists
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return doc.ToRoom(), nil
}

// GetRoom returns the room header.
func (r *MongoRepository) GetRoom(ctx context.Context, code string) (*Room, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc RoomDocument
	if err := r.rooms.FindOne(ctx, bson.M{"code": code}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return doc.ToRoom(), nil
}

// SetCallID stores the calling-service session id on the room header.
func (r *MongoRepository) SetCallID(ctx context.Context, code, callID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.rooms.UpdateOne(ctx,
		bson.M{"code": code},
		bson.M{"$set": bson.M{"call_id": callID}},
	)
	if err != nil {
		return fmt.Errorf("failed to set call id: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrRoomNotFound
	}

	return nil
}

// UpsertParticipant merges the participant record under the room. Repeated
// upserts for the same (room, participant id) pair are idempotent.
func (r *MongoRepository) UpsertParticipant(ctx context.Context, code string, p *Participant) error {
	if _, err := r.GetRoom(ctx, code); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"username":   p.Username,
			"avatar_url": p.AvatarURL,
			"color":      p.Color,
			"last_seen":  p.LastSeen,
			"updated_at": time.Now(),
		},
	}

	_, err := r.participants.UpdateOne(ctx,
		bson.M{"room_code": code, "user_id": p.ID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}

	return nil
}

// TouchParticipant updates only the participant's heartbeat timestamp.
func (r *MongoRepository) TouchParticipant(ctx context.Context, code, participantID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.participants.UpdateOne(ctx,
		bson.M{"room_code": code, "user_id": participantID},
		bson.M{"$set": bson.M{"last_seen": at, "updated_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := r.GetRoom(ctx, code); err != nil {
			return err
		}
		return ErrParticipantNotFound
	}

	return nil
}

// ListParticipants returns the room's current participant records.
func (r *MongoRepository) ListParticipants(ctx context.Context, code string) ([]Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := r.participants.Find(ctx, bson.M{"room_code": code})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer cursor.Close(ctx)

	participants := []Participant{}
	for cursor.Next(ctx) {
		var doc ParticipantDocument
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		participants = append(participants, *doc.ToParticipant())
	}

	return participants, nil
}

// AppendMessage stores the message with an assigned id and server timestamp.
func (r *MongoRepository) AppendMessage(ctx context.Context, code string, m *Message) (*Message, error) {
	if _, err := r.GetRoom(ctx, code); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := &MessageDocument{
		RoomCode:  code,
		Text:      m.Ciphertext,
		UserID:    m.SenderID,
		Username:  m.SenderName,
		Timestamp: r.ts.next(),
		Read:      false,
	}

	result, err := r.messages.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	doc.ID = result.InsertedID.(primitive.ObjectID)

	return doc.ToMessage(), nil
}

// ListMessages returns all messages ordered ascending by server timestamp.
// A room with no message records (including one just cascade-deleted)
// yields an empty list.
func (r *MongoRepository) ListMessages(ctx context.Context, code string) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := r.messages.Find(ctx,
		bson.M{"room_code": code},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := []Message{}
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		messages = append(messages, *doc.ToMessage())
	}

	return messages, nil
}

// MarkMessageRead flips the read flag to true. The filter on read=false
// makes duplicate marks no-ops and keeps the flag from ever flipping back.
func (r *MongoRepository) MarkMessageRead(ctx context.Context, code, messageID string) error {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err = r.messages.UpdateOne(ctx,
		bson.M{"_id": oid, "room_code": code, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}

	return nil
}

// DeleteRoomCascade deletes all messages, then all participants, then the
// room header. Each phase must complete before the next starts so a
// concurrent joiner never sees the header gone while children remain. If a
// child phase fails the header survives and the cascade can be retried.
func (r *MongoRepository) DeleteRoomCascade(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := r.messages.DeleteMany(ctx, bson.M{"room_code": code}); err != nil {
		return fmt.Errorf("%w: deleting messages: %v", ErrPartialCascade, err)
	}

	if _, err := r.participants.DeleteMany(ctx, bson.M{"room_code": code}); err != nil {
		return fmt.Errorf("%w: deleting participants: %v", ErrPartialCascade, err)
	}

	// Deleting an already-deleted header matches zero documents, which is
	// fine: two racing cascades must both succeed.
	if _, err := r.rooms.DeleteOne(ctx, bson.M{"code": code}); err != nil {
		return fmt.Errorf("failed to delete room header: %w", err)
	}

	return nil
}

// SubscribeMessages streams ordered message snapshots for the room.
func (r *MongoRepository) SubscribeMessages(ctx context.Context, code string) (*MessageSubscription, error) {
	if _, err := r.GetRoom(ctx, code); err != nil {
		return nil, err
	}

	streamCtx, cancelStream := context.WithCancel(context.Background())
	ch := make(chan []Message, 1)

	go r.runSnapshotLoop(streamCtx, r.messages, code, func(loopCtx context.Context) bool {
		snapshot, err := r.ListMessages(loopCtx, code)
		if err != nil {
			return false
		}
		return pushLatest(ch, snapshot)
	}, func() { close(ch) })

	return NewMessageSubscription(ch, cancelStream), nil
}

// SubscribeParticipants streams participant snapshots for the room.
func (r *MongoRepository) SubscribeParticipants(ctx context.Context, code string) (*ParticipantSubscription, error) {
	if _, err := r.GetRoom(ctx, code); err != nil {
		return nil, err
	}

	streamCtx, cancelStream := context.WithCancel(context.Background())
	ch := make(chan []Participant, 1)

	go r.runSnapshotLoop(streamCtx, r.participants, code, func(loopCtx context.Context) bool {
		snapshot, err := r.ListParticipants(loopCtx, code)
		if err != nil {
			return false
		}
		return pushLatest(ch, snapshot)
	}, func() { close(ch) })

	return NewParticipantSubscription(ch, cancelStream), nil
}

// runSnapshotLoop re-queries and pushes a snapshot whenever the collection
// changes. It prefers a change stream scoped to the room and falls back to
// polling when the deployment does not support change streams.
func (r *MongoRepository) runSnapshotLoop(ctx context.Context, coll *mongo.Collection, code string, push func(context.Context) bool, closeCh func()) {
	defer closeCh()

	push(ctx)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "fullDocument.room_code", Value: code}},
			// Delete events carry no full document; re-query on all of them.
			bson.D{{Key: "operationType", Value: "delete"}},
		}}}}},
	}

	stream, err := coll.Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		r.pollLoop(ctx, push)
		return
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		push(ctx)
	}

	if ctx.Err() == nil {
		// Stream broke underneath us; degrade to polling for the rest of
		// the subscription's life.
		r.pollLoop(ctx, push)
	}
}

func (r *MongoRepository) pollLoop(ctx context.Context, push func(context.Context) bool) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			push(ctx)
		}
	}
}

// pushLatest replaces any stale pending snapshot with the new one, but
// only when it differs, so pollers do not wake subscribers for nothing.
func pushLatest[T any](ch chan []T, snapshot []T) bool {
	select {
	case pending := <-ch:
		if reflect.DeepEqual(pending, snapshot) {
			ch <- pending
			return false
		}
	default:
	}
	ch <- snapshot
	return true
}
