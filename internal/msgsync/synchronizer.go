// Package msgsync turns the repository's raw message stream into a
// decrypted, typed, ordered live view.
package msgsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"room-chat/internal/crypto"
	"room-chat/internal/media"
	"room-chat/internal/room"
)

// Kind tags what a message body renders as.
type Kind string

const (
	// TextMessage is a plain text body.
	TextMessage Kind = "text"
	// ImageMessage is a body holding an uploaded image's URL.
	ImageMessage Kind = "image"
)

// Entry is one decrypted message in the live view. When DecryptFailed is
// set the Body is empty and the entry stands in for a message this client
// could not read; the rest of the view is unaffected.
type Entry struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Body          string    `json:"body"`
	SenderID      string    `json:"user_id"`
	SenderName    string    `json:"username"`
	Timestamp     time.Time `json:"timestamp"`
	Read          bool      `json:"read"`
	DecryptFailed bool      `json:"decrypt_failed,omitempty"`
}

// Synchronizer subscribes to a room's ordered message stream, decrypts
// each body with the stored sender id, marks incoming messages read, and
// republishes replace-the-whole-list snapshots. The view it holds is a
// disposable projection; the repository stays the source of truth.
type Synchronizer struct {
	repo    room.Repository
	code    string
	localID string

	out    chan []Entry
	sub    *room.MessageSubscription
	marked map[string]bool

	mutex   sync.Mutex
	started bool
	done    chan struct{}
}

// NewSynchronizer creates a synchronizer for one participant's view of a
// room. localID is the participant reading the stream; messages it sent
// itself are never marked read by it.
func NewSynchronizer(repo room.Repository, code, localID string) *Synchronizer {
	return &Synchronizer{
		repo:    repo,
		code:    code,
		localID: localID,
		out:     make(chan []Entry, 1),
		marked:  make(map[string]bool),
	}
}

// Snapshots is the live ordered view. Each value replaces the previous
// one entirely; only the newest unread snapshot is retained.
func (s *Synchronizer) Snapshots() <-chan []Entry {
	return s.out
}

// Start subscribes to the room's message stream and begins publishing
// snapshots. The first snapshot reflects the room at subscribe time.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started {
		return nil
	}

	sub, err := s.repo.SubscribeMessages(ctx, s.code)
	if err != nil {
		return err
	}

	s.sub = sub
	s.started = true
	s.done = make(chan struct{})

	go s.run(sub, s.done)
	return nil
}

// Stop cancels the subscription. Safe to call multiple times.
func (s *Synchronizer) Stop() {
	s.mutex.Lock()
	if !s.started {
		s.mutex.Unlock()
		return
	}
	s.started = false
	sub, done := s.sub, s.done
	s.mutex.Unlock()

	sub.Cancel()
	<-done
}

func (s *Synchronizer) run(sub *room.MessageSubscription, done chan<- struct{}) {
	defer close(done)

	for snapshot := range sub.C {
		entries := make([]Entry, 0, len(snapshot))
		for _, m := range snapshot {
			entries = append(entries, s.project(m))
			s.markRead(m)
		}

		select {
		case <-s.out:
		default:
		}
		s.out <- entries
	}
}

// project decrypts one stored message into a view entry. The decryption
// key is the message's own stored sender id, so every participant can
// decrypt every message. A body that fails to decrypt is surfaced as a
// flagged entry instead of aborting the snapshot.
func (s *Synchronizer) project(m room.Message) Entry {
	entry := Entry{
		ID:         m.ID,
		Kind:       TextMessage,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Timestamp:  m.Timestamp,
		Read:       m.Read,
	}

	plaintext, err := crypto.Decrypt(m.Ciphertext, m.SenderID)
	if err != nil {
		log.Debug().Str("room", s.code).Str("message", m.ID).Msg("undecryptable message in stream")
		entry.DecryptFailed = true
		return entry
	}

	entry.Body = plaintext
	if media.IsImageURL(plaintext) {
		entry.Kind = ImageMessage
	}
	return entry
}

// markRead issues a fire-and-forget read mark for a newly observed message
// from another sender. Marking is at-least-once; duplicates are harmless
// because the flag is idempotent, the local set just avoids re-sending.
func (s *Synchronizer) markRead(m room.Message) {
	if m.SenderID == s.localID || m.Read || s.marked[m.ID] {
		return
	}
	s.marked[m.ID] = true

	go func(id string) {
		if err := s.repo.MarkMessageRead(context.Background(), s.code, id); err != nil {
			log.Debug().Err(err).Str("message", id).Msg("mark-as-read write failed")
		}
	}(m.ID)
}
