package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Phase is the Session Controller's lifecycle state (spec §4.3).
type Phase string

const (
	PhaseIdle   Phase = "idle"
	PhaseActive Phase = "active"
	PhaseEnding Phase = "ending"
)

// EndingGrace is how long the controller lingers in PhaseEnding, still
// serving reads of the last session snapshot, before returning to Idle
// (spec §4.3).
const EndingGrace = 30 * time.Second

// ErrNotActive is returned when a mutation is attempted outside PhaseActive.
var ErrNotActive = errors.New("session controller: not active")

// mutation is a single-writer command: a function applied to the live
// Session under the writer's exclusive ownership.
type mutation func(*Session)

// Controller drives the Idle -> Active -> Ending -> Idle lifecycle and
// owns the single writer goroutine that serializes all Session mutation
// (spec §4.3, Design Notes §9: "Session state is mutated by exactly one
// goroutine"). Grounded on strategy/manager.go's context+cancel+mutex+
// channel pattern, generalized from a single request queue into a
// general-purpose session mutation queue.
type Controller struct {
	log zerolog.Logger

	mu          sync.RWMutex
	phase       Phase
	current     *Session
	token       string // lifecycle token: invalidated on every phase transition
	cancelPhase context.CancelFunc

	mutations chan mutation
	done      chan struct{}
}

// CapabilityReport describes what the controller can currently serve,
// returned to callers probing readiness (spec §4.3 "capability report").
type CapabilityReport struct {
	Phase              Phase
	SessionKey         int
	HasBaselinePath    bool
	HasMultiviewerPath bool
	HasSectors         bool
	HasPitLane         bool
	DriverCount        int
}

// NewController returns an idle controller.
func NewController(log zerolog.Logger) *Controller {
	c := &Controller{
		log:       log.With().Str("component", "session_controller").Logger(),
		phase:     PhaseIdle,
		mutations: make(chan mutation, 64),
		done:      make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop is the single writer goroutine: it is the only place that
// ever calls a mutation function against c.current.
func (c *Controller) writeLoop() {
	for {
		select {
		case m, ok := <-c.mutations:
			if !ok {
				return
			}
			c.mu.Lock()
			if c.current != nil {
				m(c.current)
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Enqueue submits a mutation to the writer queue. It returns ErrNotActive
// if the controller is not currently serving an active session; the
// mutation is otherwise applied asynchronously in submission order.
func (c *Controller) Enqueue(m mutation) error {
	c.mu.RLock()
	phase := c.phase
	c.mu.RUnlock()
	if phase != PhaseActive {
		return ErrNotActive
	}
	select {
	case c.mutations <- m:
		return nil
	default:
		return errors.New("session controller: mutation queue full")
	}
}

// Enter transitions Idle -> Active, installing a fresh Session and
// minting a new lifecycle token. Any timers or subscriptions started by
// the caller should be tied to the returned token and checked against
// Token() before firing, so a stale timer from a prior session is inert
// after a transition (spec §4.3).
func (c *Controller) Enter(s *Session) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseActive
	c.current = s
	c.token = uuid.NewString()
	c.log.Info().Str("token", c.token).Int("session_key", s.SessionKey).Msg("session entered active phase")
	return c.token
}

// BeginEnding transitions Active -> Ending: the session's last snapshot
// remains servable for EndingGrace before Idle reclaims it.
func (c *Controller) BeginEnding() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return
	}
	c.phase = PhaseEnding
	c.log.Info().Str("token", c.token).Msg("session entered ending phase")
}

// ReturnToIdle transitions Ending (or Active, on abrupt failure) -> Idle,
// invalidating the lifecycle token and discarding the session reference.
// Callers are responsible for having persisted whatever final state they
// need before calling this.
func (c *Controller) ReturnToIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseIdle
	c.current = nil
	c.token = ""
	c.log.Info().Msg("session controller returned to idle")
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Token returns the current lifecycle token, empty when Idle. Timers and
// subscriptions should capture this value at creation time and compare
// it on fire; a mismatch means they belong to a session that has since
// ended.
func (c *Controller) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Snapshot returns a deep-enough copy of the live session for safe
// concurrent reads (grounded on mrf-agent-racer's session store
// copy-on-read pattern). Returns nil, false when Idle.
func (c *Controller) Snapshot() (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, false
	}
	cp := *c.current
	cp.Drivers = cloneMap(c.current.Drivers)
	cp.CurrentPosition = cloneMap(c.current.CurrentPosition)
	cp.CurrentLap = cloneMap(c.current.CurrentLap)
	cp.CompletedLaps = cloneMap(c.current.CompletedLaps)
	cp.DriverBestLapSec = cloneMap(c.current.DriverBestLapSec)
	cp.RacePosition = cloneMap(c.current.RacePosition)
	cp.Intervals = cloneMap(c.current.Intervals)
	cp.Stint = cloneMap(c.current.Stint)
	cp.Pit = cloneMap(c.current.Pit)
	cp.Telemetry = cloneMap(c.current.Telemetry)
	return &cp, true
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Capability reports what the controller can currently serve.
func (c *Controller) Capability() CapabilityReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := CapabilityReport{Phase: c.phase}
	if c.current != nil {
		r.SessionKey = c.current.SessionKey
		r.HasBaselinePath = len(c.current.BaselinePath) > 0
		r.HasMultiviewerPath = len(c.current.MultiviewerPath) > 0
		r.HasSectors = c.current.SectorsReady
		r.HasPitLane = c.current.PitLaneReady
		r.DriverCount = len(c.current.Drivers)
	}
	return r
}

// Close stops the writer goroutine. The controller must not be used
// afterward.
func (c *Controller) Close() {
	close(c.done)
}
