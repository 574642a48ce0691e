package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PollInterval is how often the Lifecycle driver checks for a
// currently-in-progress upstream session (spec §4.3).
const PollInterval = 60 * time.Second

// SessionWindow is what a Discoverer reports about a session the upstream
// currently knows about (spec §4.3 transition rules, §6 inbound session
// discovery).
type SessionWindow struct {
	SessionKey int
	MeetingKey int
	CircuitKey int
	TrackName  string
	Type       Type
	Name       string
	DateStart  time.Time
	DateEnd    time.Time
}

// Discoverer finds the upstream session currently in progress, if any.
type Discoverer interface {
	Current(ctx context.Context) (SessionWindow, bool, error)
}

// Hooks are the side effects a transition triggers, supplied by
// cmd/telemetry-core: the best-effort trackmap/MultiViewer load, replay
// recording and the capability report (spec §4.3 "On entry to Active").
// The batcher, fallback poller and progressive persistence ticker are not
// driven by these hooks; they run from process start to shutdown.
type Hooks struct {
	// OnEnter fires synchronously right after Controller.Enter installs
	// the new session; sessionKey/trackName/circuitKey identify it for
	// hooks that need to enqueue further mutations (trackmap, MultiViewer)
	// through the controller rather than touching the Session directly.
	OnEnter func(sessionKey int, trackName string, circuitKey int)
	OnEnding func()
	OnIdle   func()
}

// Lifecycle polls a Discoverer and drives Controller transitions (spec
// §4.3). Grounded on strategy/manager.go's own ticker-driven orchestration
// loop, generalized from a single request cadence to the Idle/Active/Ending
// transition rules.
type Lifecycle struct {
	log        zerolog.Logger
	controller *Controller
	discover   Discoverer
	hooks      Hooks
	now        func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewLifecycle returns a Lifecycle driving controller's transitions from
// discover's polls.
func NewLifecycle(log zerolog.Logger, controller *Controller, discover Discoverer, hooks Hooks) *Lifecycle {
	return &Lifecycle{
		log:        log.With().Str("component", "session_lifecycle").Logger(),
		controller: controller,
		discover:   discover,
		hooks:      hooks,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// Start launches the poll loop, running one immediate check first (spec
// §4.3 "at process startup on recovery").
func (l *Lifecycle) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.loop(ctx)
}

// Stop halts the poll loop and waits for it to exit.
func (l *Lifecycle) Stop() {
	close(l.stop)
	l.wg.Wait()
}

func (l *Lifecycle) loop(ctx context.Context) {
	defer l.wg.Done()
	l.tick(ctx)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.tick(ctx)
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		}
	}
}

func (l *Lifecycle) tick(ctx context.Context) {
	if snap, ok := l.controller.Snapshot(); ok {
		if l.now().After(snap.DateEndTs) {
			l.log.Info().Int("session_key", snap.SessionKey).Msg("session window elapsed")
			l.endActive()
			return
		}
	}

	win, found, err := l.discover.Current(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("session discovery poll failed")
		return
	}
	if !found {
		return
	}

	if snap, ok := l.controller.Snapshot(); ok {
		if snap.SessionKey == win.SessionKey {
			return // Active -> Active: duplicate session event with same key is ignored
		}
		l.log.Info().Int("old_session_key", snap.SessionKey).Int("new_session_key", win.SessionKey).
			Msg("session key changed, cycling through idle")
		l.endNow()
	}
	l.enter(win)
}

// endActive begins the Ending phase and returns to Idle after EndingGrace,
// notifying hooks at each step (spec §4.3 "Active -> Ending -> Idle").
func (l *Lifecycle) endActive() {
	l.controller.BeginEnding()
	if l.hooks.OnEnding != nil {
		l.hooks.OnEnding()
	}
	go func() {
		time.Sleep(EndingGrace)
		l.controller.ReturnToIdle()
		if l.hooks.OnIdle != nil {
			l.hooks.OnIdle()
		}
	}()
}

// endNow collapses straight to Idle without the grace period, for the
// synchronous "Active -> Idle -> Active" key-change transition (spec
// §4.3): the new session must be installed before this tick returns, so
// there is no time budget for EndingGrace.
func (l *Lifecycle) endNow() {
	l.controller.BeginEnding()
	if l.hooks.OnEnding != nil {
		l.hooks.OnEnding()
	}
	l.controller.ReturnToIdle()
	if l.hooks.OnIdle != nil {
		l.hooks.OnIdle()
	}
}

func (l *Lifecycle) enter(win SessionWindow) {
	s := NewSession(win.SessionKey, win.MeetingKey, win.TrackName, win.Type, win.Name, win.DateEnd)
	l.controller.Enter(s)
	l.log.Info().Int("session_key", win.SessionKey).Str("track", win.TrackName).Msg("session entered active phase")
	if l.hooks.OnEnter != nil {
		l.hooks.OnEnter(win.SessionKey, win.TrackName, win.CircuitKey)
	}
}
