// Package session orchestrates room lifecycle for one client: identity,
// repository writes, presence heartbeats and the live message view.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"room-chat/internal/crypto"
	"room-chat/internal/identity"
	"room-chat/internal/msgsync"
	"room-chat/internal/presence"
	"room-chat/internal/room"
)

var (
	// ErrNotJoined is returned for operations that need a joined room.
	ErrNotJoined = errors.New("not joined to a room")
	// ErrAlreadyJoined is returned when joining while already in a room.
	ErrAlreadyJoined = errors.New("already joined to a room")
)

// codeAttempts bounds the retry loop for free 6-digit codes. With a code
// space of 900000 the loop only exhausts when the store is nearly full.
const codeAttempts = 8

// Controller drives one client's room session. Operations transition the
// controller between "not joined" and "joined"; while joined it owns the
// heartbeat tracker, the message synchronizer and the participant stream,
// and tears all of them down on exit.
type Controller struct {
	repo        room.Repository
	ids         identity.Store
	trackerOpts []presence.TrackerOption
	rand        *rand.Rand

	mutex sync.Mutex
	state *joinedState
}

type joinedState struct {
	code    string
	profile *identity.Profile
	tracker *presence.Tracker
	sync    *msgsync.Synchronizer
	partSub *room.ParticipantSubscription
	exited  chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithTrackerOptions forwards options to the heartbeat tracker.
func WithTrackerOptions(opts ...presence.TrackerOption) Option {
	return func(c *Controller) { c.trackerOpts = opts }
}

// WithRand overrides the source used for room-code generation.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) { c.rand = r }
}

// NewController creates a session controller over the given repository and
// identity store.
func NewController(repo room.Repository, ids identity.Store, opts ...Option) *Controller {
	c := &Controller{repo: repo, ids: ids}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create establishes the local identity, creates a fresh room with an
// unused 6-digit code, joins it as the creator and starts the session.
// Code generation retries on collision: creation is what detects the
// clash, so two clients can never both claim the same code.
func (c *Controller) Create(ctx context.Context, displayName string) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != nil {
		return "", ErrAlreadyJoined
	}

	profile, err := c.ids.Establish(displayName)
	if err != nil {
		return "", err
	}

	var created *room.Room
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := c.generateCode()
		created, err = c.repo.CreateRoom(ctx, code, profile.Username)
		if err == nil {
			break
		}
		if !errors.Is(err, room.ErrRoomExists) {
			return "", err
		}
		created = nil
	}
	if created == nil {
		return "", fmt.Errorf("no free room code after %d attempts", codeAttempts)
	}

	if err := c.enter(ctx, created.Code, profile); err != nil {
		return "", err
	}

	log.Info().Str("room", created.Code).Str("user", profile.UserID).Msg("room created")
	return created.Code, nil
}

// Join enters an existing room. If the code has no room header the join
// fails with room.ErrRoomNotFound before any write happens.
func (c *Controller) Join(ctx context.Context, code, displayName string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != nil {
		return ErrAlreadyJoined
	}

	if _, err := c.repo.GetRoom(ctx, code); err != nil {
		return err
	}

	profile, err := c.ids.Establish(displayName)
	if err != nil {
		return err
	}

	if err := c.enter(ctx, code, profile); err != nil {
		return err
	}

	log.Info().Str("room", code).Str("user", profile.UserID).Msg("room joined")
	return nil
}

// enter writes the participant record and starts the joined-state
// machinery. Caller holds the lock.
func (c *Controller) enter(ctx context.Context, code string, profile *identity.Profile) error {
	participant := &room.Participant{
		ID:        profile.UserID,
		Username:  profile.Username,
		AvatarURL: profile.AvatarURL,
		Color:     profile.Color,
	}
	if err := c.repo.UpsertParticipant(ctx, code, participant); err != nil {
		return err
	}

	tracker := presence.NewTracker(c.repo, code, profile.UserID, func(err error) {
		// Heartbeat failure means the session/store link is unhealthy (or
		// the room is gone): exit instead of going silently stale. Leave
		// runs on its own goroutine because the tracker loop is the caller.
		go c.Leave(context.Background())
	}, c.trackerOpts...)

	synchronizer := msgsync.NewSynchronizer(c.repo, code, profile.UserID)
	if err := synchronizer.Start(ctx); err != nil {
		return err
	}

	partSub, err := c.repo.SubscribeParticipants(ctx, code)
	if err != nil {
		synchronizer.Stop()
		return err
	}

	if err := tracker.Beat(ctx); err != nil {
		synchronizer.Stop()
		partSub.Cancel()
		return err
	}
	tracker.Start()

	c.state = &joinedState{
		code:    code,
		profile: profile,
		tracker: tracker,
		sync:    synchronizer,
		partSub: partSub,
		exited:  make(chan struct{}),
	}
	return nil
}

// Leave exits the room: heartbeats stop (with a final best-effort presence
// write), all streams unsubscribe, and the session transitions to "not
// joined". Safe to call when not joined and safe to call twice.
func (c *Controller) Leave(ctx context.Context) {
	c.mutex.Lock()
	state := c.state
	c.state = nil
	c.mutex.Unlock()

	if state == nil {
		return
	}

	state.tracker.Stop()
	state.sync.Stop()
	state.partSub.Cancel()
	close(state.exited)

	log.Info().Str("room", state.code).Msg("room left")
}

// Delete tears the joined room down: cascade-delete at the repository,
// then a forced local exit. Other participants exit when their heartbeat
// writes start failing against the deleted participant records.
func (c *Controller) Delete(ctx context.Context) error {
	c.mutex.Lock()
	state := c.state
	c.mutex.Unlock()

	if state == nil {
		return ErrNotJoined
	}

	if err := c.repo.DeleteRoomCascade(ctx, state.code); err != nil {
		return err
	}

	log.Info().Str("room", state.code).Msg("room deleted")
	c.Leave(ctx)
	return nil
}

// Send encrypts the body with the local participant's id and appends it.
// A failed send surfaces to the caller; it is never silently retried, so
// the same message cannot be stored twice.
func (c *Controller) Send(ctx context.Context, body string) (*room.Message, error) {
	c.mutex.Lock()
	state := c.state
	c.mutex.Unlock()

	if state == nil {
		return nil, ErrNotJoined
	}

	ciphertext, err := crypto.Encrypt(body, state.profile.UserID)
	if err != nil {
		return nil, err
	}

	return c.repo.AppendMessage(ctx, state.code, &room.Message{
		Ciphertext: ciphertext,
		SenderID:   state.profile.UserID,
		SenderName: state.profile.Username,
	})
}

// EnsureCallSession returns the room's calling-service session id,
// creating and persisting one on first use so later callers reuse it.
func (c *Controller) EnsureCallSession(ctx context.Context) (string, error) {
	c.mutex.Lock()
	state := c.state
	c.mutex.Unlock()

	if state == nil {
		return "", ErrNotJoined
	}

	current, err := c.repo.GetRoom(ctx, state.code)
	if err != nil {
		return "", err
	}
	if current.CallID != "" {
		return current.CallID, nil
	}

	callID := uuid.NewString()
	if err := c.repo.SetCallID(ctx, state.code, callID); err != nil {
		return "", err
	}
	return callID, nil
}

// Messages is the decrypted ordered live view, or nil when not joined.
func (c *Controller) Messages() <-chan []msgsync.Entry {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == nil {
		return nil
	}
	return c.state.sync.Snapshots()
}

// Participants is the live participant stream, or nil when not joined.
func (c *Controller) Participants() <-chan []room.Participant {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == nil {
		return nil
	}
	return c.state.partSub.C
}

// Exited is closed when the current session ends for any reason. When not
// joined it returns an already-closed channel.
func (c *Controller) Exited() <-chan struct{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.state.exited
}

// CurrentRoom returns the joined room code, or "" when not joined.
func (c *Controller) CurrentRoom() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == nil {
		return ""
	}
	return c.state.code
}

// Profile returns the joined session's participant profile, or nil.
func (c *Controller) Profile() *identity.Profile {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == nil {
		return nil
	}
	return c.state.profile
}

func (c *Controller) generateCode() string {
	if c.rand != nil {
		return fmt.Sprintf("%06d", 100000+c.rand.Intn(900000))
	}
	return fmt.Sprintf("%06d", 100000+rand.Intn(900000))
}
