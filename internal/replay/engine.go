// Package replay implements the Replay Engine (spec §4.8): loads a
// persisted recording and re-emits its messages at session-time with a
// speed multiplier, injecting into the same adapter layer that MQTT and
// SignalR feed.
//
// Grounded on strategy/manager.go's cancellation-token pattern, adapted
// into an explicit integer generation counter rather than a
// context.CancelFunc: the spec calls for a prior load/fetch in flight to
// be provably stale rather than merely cancelled, so every async step
// compares its captured generation against the engine's current one
// before acting. The 50ms tick loop's goroutine-with-ticker shape follows
// sims/polling_system.go's per-cadence ticker goroutines.
package replay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackside/telemetry-core/internal/coreerrors"
	"github.com/trackside/telemetry-core/internal/geometry"
	"github.com/trackside/telemetry-core/internal/persistence"
	"github.com/trackside/telemetry-core/internal/session"
)

// Phase is emitted to clients over the broadcaster as playback advances
// (spec §4.8).
type Phase string

const (
	PhaseFetching Phase = "fetching"
	PhaseReady    Phase = "ready"
	PhaseStopped  Phase = "stopped"
	PhaseEnded    Phase = "ended"
)

// TickInterval is the playback tick cadence (spec §4.8).
const TickInterval = 50 * time.Millisecond

// DefaultSpeed is the playback speed multiplier absent an explicit
// override (spec §4.8).
const DefaultSpeed = 4.0

// MinDriversOnTrack is how many distinct drivers must have appeared
// before the preamble is considered over and ticked playback begins
// (spec §4.8 step 4).
const MinDriversOnTrack = 5

// room/event names used for phase and clock broadcasts.
const (
	roomLive         = "live"
	eventReplayPhase = "replayPhase"
	eventClock       = "clock"
)

// Broadcaster is the minimal surface the engine needs to push phase and
// synthetic clock events directly to clients, bypassing the normalizer
// (spec §4.8: "synthetic clock events are routed directly to clients").
type Broadcaster interface {
	Broadcast(room, event string, payload any)
}

// Sink receives every replay message other than synthetic clock events,
// injected into the same pipeline a live adapter would use (spec §4.8:
// "Replay injects into the Adapter layer of the same pipeline").
type Sink interface {
	HandleReplayMessage(msg persistence.ReplayMessage)
}

// TrackBuilder builds a GPS centerline from a replay's own lap+location
// message subset. Injected rather than implemented in this package since
// decoding raw per-topic payloads is the Normalizer's concern (internal/
// ingest), which the engine must stay independent of to remain unit
// testable without a live decoder.
type TrackBuilder func(messages []persistence.ReplayMessage) (geometry.Path, bool)

// DriverIdentifier extracts the driver number a message pertains to, if
// any. Injected for the same reason as TrackBuilder: identifying the
// driver behind a raw payload is the Normalizer's decode step.
type DriverIdentifier func(msg persistence.ReplayMessage) (driverNumber int, ok bool)

// Engine drives replay playback for one session recording at a time.
// Only one playback runs at a given moment; Start supersedes whatever
// was previously running via the generation counter.
type Engine struct {
	log            zerolog.Logger
	store          *persistence.Store
	controller     *session.Controller
	broadcaster    Broadcaster
	buildTrack     TrackBuilder
	identifyDriver DriverIdentifier
	now            func() time.Time

	generation atomic.Uint64

	mu               sync.Mutex
	latestSessionKey int
	cachedPath       geometry.Path
}

// New returns a replay Engine using the real wall clock.
func New(log zerolog.Logger, store *persistence.Store, controller *session.Controller, broadcaster Broadcaster, buildTrack TrackBuilder, identifyDriver DriverIdentifier) *Engine {
	return &Engine{
		log:            log.With().Str("component", "replay_engine").Logger(),
		store:          store,
		controller:     controller,
		broadcaster:    broadcaster,
		buildTrack:     buildTrack,
		identifyDriver: identifyDriver,
		now:            time.Now,
	}
}

// Start loads sessionKey's recording and begins playback at speed (0
// falls back to DefaultSpeed), superseding any playback already running.
// It returns immediately; playback runs on a background goroutine until
// it ends, is stopped, or is superseded by a later Start.
func (e *Engine) Start(ctx context.Context, sessionKey int, speed float64, sink Sink) {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	gen := e.generation.Add(1)
	e.broadcaster.Broadcast(roomLive, eventReplayPhase, Phase(PhaseFetching))
	go e.run(ctx, gen, sessionKey, speed, sink)
}

// Stop supersedes any in-flight or running playback; the next tick or
// async step it attempts will observe a stale generation and exit.
func (e *Engine) Stop() {
	e.generation.Add(1)
	e.broadcaster.Broadcast(roomLive, eventReplayPhase, Phase(PhaseStopped))
}

func (e *Engine) current(gen uint64) bool {
	return e.generation.Load() == gen
}

func (e *Engine) run(ctx context.Context, gen uint64, sessionKey int, speed float64, sink Sink) {
	doc, err := e.store.GetReplay(sessionKey)
	if err != nil {
		ce := coreerrors.Wrap(coreerrors.KindReplayResourceMissing, "REPLAY_NOT_FOUND", err)
		e.log.Error().Err(ce).Int("session_key", sessionKey).Msg("replay: loading recording failed")
		if e.current(gen) {
			e.broadcaster.Broadcast(roomLive, eventReplayPhase, Phase(PhaseStopped))
		}
		return
	}
	if !e.current(gen) {
		return
	}

	path := e.trackFor(sessionKey, doc)
	if !e.current(gen) {
		return
	}

	demo := session.NewSession(sessionKey, 0, doc.TrackName, session.TypeDemo, doc.SessionName, doc.SessionEndTs)
	if len(path) > 0 {
		demo.SetBaselinePath(path)
	}
	e.controller.Enter(demo)
	if !e.current(gen) {
		e.controller.ReturnToIdle()
		return
	}

	e.broadcaster.Broadcast(roomLive, eventReplayPhase, Phase(PhaseReady))

	idx := e.fastForwardIndex(doc.Messages)
	for i := 0; i < idx; i++ {
		e.dispatch(doc.Messages[i], sink)
	}
	if idx >= len(doc.Messages) {
		e.broadcaster.Broadcast(roomLive, eventReplayPhase, Phase(PhaseEnded))
		return
	}

	replayBase := doc.Messages[idx].TimestampMillis
	startReal := e.now()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.current(gen) {
				return
			}
			sessionTimeMs := replayBase + int64(e.now().Sub(startReal).Seconds()*1000*speed)
			for idx < len(doc.Messages) && doc.Messages[idx].TimestampMillis <= sessionTimeMs {
				e.dispatch(doc.Messages[idx], sink)
				idx++
			}
			if idx >= len(doc.Messages) {
				e.broadcaster.Broadcast(roomLive, eventReplayPhase, Phase(PhaseEnded))
				return
			}
		}
	}
}

// dispatch routes msg to the adapter-layer sink, except synthetic clock
// messages which go straight to clients (spec §4.8).
func (e *Engine) dispatch(msg persistence.ReplayMessage, sink Sink) {
	if msg.Topic == "clock" || msg.Topic == "Heartbeat" {
		e.broadcaster.Broadcast(roomLive, eventClock, msg.Data)
		return
	}
	sink.HandleReplayMessage(msg)
}

// trackFor returns the cached GPS track if it was already built for
// sessionKey, otherwise builds and caches it (spec §4.8 step 2: "rebuild
// when sessionKey differs from stored latestSessionKey").
func (e *Engine) trackFor(sessionKey int, doc persistence.ReplayDocument) geometry.Path {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sessionKey == e.latestSessionKey && len(e.cachedPath) > 0 {
		return e.cachedPath
	}
	path, ok := e.buildTrack(doc.Messages)
	if !ok {
		return nil
	}
	e.latestSessionKey = sessionKey
	e.cachedPath = path
	return path
}

// fastForwardIndex returns the index of the first message at or after
// the moment at least MinDriversOnTrack distinct drivers have appeared
// on track (spec §4.8 step 4). Every message before that index is
// processed instantly rather than ticked.
func (e *Engine) fastForwardIndex(messages []persistence.ReplayMessage) int {
	seen := make(map[int]bool)
	for i, m := range messages {
		if driverNumber, ok := e.identifyDriver(m); ok {
			seen[driverNumber] = true
		}
		if len(seen) >= MinDriversOnTrack {
			return i
		}
	}
	return len(messages)
}
