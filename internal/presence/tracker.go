package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"room-chat/internal/room"
)

// DefaultInterval is how often the local participant's heartbeat is written.
const DefaultInterval = 5 * time.Second

// Tracker writes the local participant's heartbeat on a fixed interval.
// Each participant writes only its own record. A failed heartbeat write is
// treated as a sign the store connection is unhealthy: the failure handler
// fires once and the loop stops, rather than letting the participant go
// silently stale.
type Tracker struct {
	repo          room.Repository
	code          string
	participantID string
	interval      time.Duration
	now           func() time.Time
	onFailure     func(error)

	mutex   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithInterval overrides the heartbeat interval.
func WithInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.interval = d }
}

// WithClock overrides the clock used for heartbeat timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a heartbeat tracker for one participant in one room.
// onFailure is invoked (at most once per Start) when a heartbeat write
// fails; the session is expected to exit the room in response.
func NewTracker(repo room.Repository, code, participantID string, onFailure func(error), opts ...TrackerOption) *Tracker {
	t := &Tracker{
		repo:          repo,
		code:          code,
		participantID: participantID,
		interval:      DefaultInterval,
		now:           time.Now,
		onFailure:     onFailure,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins the heartbeat loop. Calling Start on a running tracker is a
// no-op.
func (t *Tracker) Start() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.started {
		return
	}
	t.started = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	go t.run(t.stop, t.done)
}

// Stop ends the heartbeat loop and attempts one final heartbeat write so
// other participants see a recent-but-final timestamp. The final write is
// best-effort. Safe to call multiple times.
func (t *Tracker) Stop() {
	t.mutex.Lock()
	if !t.started {
		t.mutex.Unlock()
		return
	}
	t.started = false
	stop, done := t.stop, t.done
	t.mutex.Unlock()

	close(stop)
	<-done

	if err := t.Beat(context.Background()); err != nil {
		log.Debug().Err(err).Str("room", t.code).Msg("final heartbeat write failed")
	}
}

// Beat writes one heartbeat now.
func (t *Tracker) Beat(ctx context.Context) error {
	return t.repo.TouchParticipant(ctx, t.code, t.participantID, t.now())
}

func (t *Tracker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := t.Beat(context.Background()); err != nil {
				log.Warn().Err(err).Str("room", t.code).Msg("heartbeat write failed, ending session")
				if t.onFailure != nil {
					t.onFailure(err)
				}
				return
			}
		}
	}
}
