package msgsync

import (
	"context"
	"testing"
	"time"

	"room-chat/internal/crypto"
	"room-chat/internal/room"
)

func newRoomWithRepo(t *testing.T) *room.MemoryRepository {
	t.Helper()
	repo := room.NewMemoryRepository()
	if _, err := repo.CreateRoom(context.Background(), "123456", "alice"); err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	return repo
}

func send(t *testing.T, repo room.Repository, senderID, senderName, text string) *room.Message {
	t.Helper()
	ciphertext, err := crypto.Encrypt(text, senderID)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	stored, err := repo.AppendMessage(context.Background(), "123456", &room.Message{
		Ciphertext: ciphertext,
		SenderID:   senderID,
		SenderName: senderName,
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	return stored
}

// waitForSnapshot reads snapshots until ok returns true or the deadline
// passes.
func waitForSnapshot(t *testing.T, s *Synchronizer, ok func([]Entry) bool) []Entry {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot := <-s.Snapshots():
			if ok(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatal("expected snapshot never arrived")
		}
	}
}

func TestSynchronizerDecryptsOrderedView(t *testing.T) {
	repo := newRoomWithRepo(t)

	send(t, repo, "user-a", "alice", "hello")
	send(t, repo, "user-b", "bob", "hi")

	s := NewSynchronizer(repo, "123456", "user-a")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	snapshot := waitForSnapshot(t, s, func(entries []Entry) bool { return len(entries) == 2 })
	if snapshot[0].Body != "hello" || snapshot[1].Body != "hi" {
		t.Errorf("view = [%q, %q], want [hello, hi]", snapshot[0].Body, snapshot[1].Body)
	}
	if !snapshot[0].Timestamp.Before(snapshot[1].Timestamp) {
		t.Error("view not ordered by server timestamp")
	}
	if snapshot[0].Kind != TextMessage {
		t.Errorf("Kind = %v, want TextMessage", snapshot[0].Kind)
	}
}

func TestSynchronizerMarksIncomingRead(t *testing.T) {
	repo := newRoomWithRepo(t)

	fromOther := send(t, repo, "user-b", "bob", "hello")
	fromSelf := send(t, repo, "user-a", "alice", "mine")

	s := NewSynchronizer(repo, "123456", "user-a")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	// The incoming message gets marked read; our own never does.
	waitForSnapshot(t, s, func(entries []Entry) bool {
		return len(entries) == 2 && entries[0].Read
	})

	messages, err := repo.ListMessages(context.Background(), "123456")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	for _, m := range messages {
		switch m.ID {
		case fromOther.ID:
			if !m.Read {
				t.Error("incoming message not marked read")
			}
		case fromSelf.ID:
			if m.Read {
				t.Error("own message marked read by its sender")
			}
		}
	}
}

func TestSynchronizerIsolatesDecryptFailure(t *testing.T) {
	repo := newRoomWithRepo(t)

	send(t, repo, "user-b", "bob", "readable")
	// A corrupt body: valid base64 but not a valid ciphertext.
	if _, err := repo.AppendMessage(context.Background(), "123456", &room.Message{
		Ciphertext: "bm90LWEtY2lwaGVydGV4dA==",
		SenderID:   "user-b",
		SenderName: "bob",
	}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	send(t, repo, "user-b", "bob", "also readable")

	s := NewSynchronizer(repo, "123456", "user-a")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	snapshot := waitForSnapshot(t, s, func(entries []Entry) bool { return len(entries) == 3 })

	if snapshot[0].Body != "readable" || snapshot[2].Body != "also readable" {
		t.Error("readable messages dropped alongside the broken one")
	}
	if !snapshot[1].DecryptFailed {
		t.Error("broken message not flagged DecryptFailed")
	}
	if snapshot[1].Body != "" {
		t.Errorf("broken message body = %q, want empty", snapshot[1].Body)
	}
}

func TestSynchronizerTagsImageMessages(t *testing.T) {
	repo := newRoomWithRepo(t)

	send(t, repo, "user-b", "bob", "https://example.com/media/pic.png")
	send(t, repo, "user-b", "bob", "plain words")

	s := NewSynchronizer(repo, "123456", "user-a")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	snapshot := waitForSnapshot(t, s, func(entries []Entry) bool { return len(entries) == 2 })
	if snapshot[0].Kind != ImageMessage {
		t.Errorf("Kind = %v, want ImageMessage", snapshot[0].Kind)
	}
	if snapshot[1].Kind != TextMessage {
		t.Errorf("Kind = %v, want TextMessage", snapshot[1].Kind)
	}
}

func TestSynchronizerStopIdempotent(t *testing.T) {
	repo := newRoomWithRepo(t)

	s := NewSynchronizer(repo, "123456", "user-a")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.Stop()
	s.Stop()
}

func TestSynchronizerMissingRoom(t *testing.T) {
	repo := room.NewMemoryRepository()

	s := NewSynchronizer(repo, "999999", "user-a")
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() on missing room succeeded, want error")
	}
}
