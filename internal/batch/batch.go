// Package batch implements the Output Batcher (spec §4.6): fixed-cadence
// fan-out of positions and driver states, plus a clock fallback when the
// upstream clock goes silent.
//
// Grounded on sims/polling_system.go's DataPollingSystem priority-ticker
// pattern (pollHighPriority/pollMediumPriority/pollLowPriority goroutines
// each on their own time.Ticker), generalized from three fixed polling
// priorities to the batcher's three named cadences.
package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/trackside/telemetry-core/internal/aggregator"
	"github.com/trackside/telemetry-core/internal/geometry"
	"github.com/trackside/telemetry-core/internal/session"
)

// Cadences from spec §4.6.
const (
	PositionsInterval    = 100 * time.Millisecond
	DriverStatesInterval = 1000 * time.Millisecond
	ClockFallbackInterval = 5 * time.Second
	ClockSilenceThreshold = 15 * time.Second
)

const roomLive = "live"

// Broadcaster is the subset of broadcast.Broadcaster the batcher needs;
// kept as an interface so the batcher can be unit tested without a real
// websocket fan-out.
type Broadcaster interface {
	Broadcast(room, event string, payload any)
}

// PositionPayload is one driver's entry in a positions[] broadcast.
type PositionPayload struct {
	DriverNumber int     `json:"driverNumber"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}

// ClockPayload is the synthesized fallback clock event.
type ClockPayload struct {
	RemainingMs int64 `json:"remainingMs"`
	Running     bool  `json:"running"`
}

// ClockObservation reports the last time a real upstream clock event was
// seen, so the fallback ticker can decide whether to synthesize one.
type ClockObservation struct {
	LastSeen       time.Time
	LatestFlagIsRed bool
}

// driverLapTransition tracks, per driver, the progress value observed on
// the tick just before its lap counter last changed, feeding
// aggregator.IsLapTransitionUnsettled in replay mode (spec §4.5, S4).
type driverLapTransition struct {
	lastLap            int
	lastProgress       float64
	transitionAt       time.Time
	transitionProgress float64
}

// Batcher runs the three cadence loops against a session controller,
// emitting to room "live" via Broadcaster. Each tick takes an immutable
// snapshot under the controller (spec §5: "reads by the broadcaster
// pipeline may run on other tasks if they read an immutable snapshot
// taken under the writer").
type Batcher struct {
	log zerolog.Logger

	controller  *session.Controller
	broadcaster Broadcaster

	mu             sync.Mutex
	progressHints  map[int]float64
	lapTransitions map[int]driverLapTransition
	clockObs       func() ClockObservation

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a Batcher. clockObs supplies the latest observed upstream
// clock event time and red-flag state for the fallback ticker.
func New(log zerolog.Logger, controller *session.Controller, broadcaster Broadcaster, clockObs func() ClockObservation) *Batcher {
	return &Batcher{
		log:            log.With().Str("component", "batcher").Logger(),
		controller:     controller,
		broadcaster:    broadcaster,
		progressHints:  make(map[int]float64),
		lapTransitions: make(map[int]driverLapTransition),
		clockObs:       clockObs,
		stop:           make(chan struct{}),
	}
}

// Start launches the three cadence goroutines. Calling Start twice
// without an intervening Stop is a programmer error.
func (b *Batcher) Start() {
	b.wg.Add(3)
	go b.loop(PositionsInterval, b.tickPositions)
	go b.loop(DriverStatesInterval, b.tickDriverStates)
	go b.loop(ClockFallbackInterval, b.tickClockFallback)
}

// Stop halts all cadence goroutines and waits for them to exit.
func (b *Batcher) Stop() {
	close(b.stop)
	b.wg.Wait()
}

func (b *Batcher) loop(interval time.Duration, tick func()) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-b.stop:
			return
		}
	}
}

func (b *Batcher) tickPositions() {
	snap, ok := b.controller.Snapshot()
	if !ok {
		return
	}

	driverNumbers := make([]int, 0, len(snap.CurrentPosition))
	for d := range snap.CurrentPosition {
		driverNumbers = append(driverNumbers, d)
	}
	sort.Ints(driverNumbers)

	positions := make([]PositionPayload, 0, len(driverNumbers))
	for _, d := range driverNumbers {
		gps := snap.CurrentPosition[d]
		x, y := gps.X, gps.Y

		if len(snap.MultiviewerPath) > 1 && len(snap.BaselinePath) > 1 {
			b.mu.Lock()
			hint, hasHint := b.progressHints[d]
			b.mu.Unlock()
			var hintPtr *float64
			if hasHint {
				hintPtr = &hint
			}
			progress, ok := geometry.TrackProgress(snap.BaselinePath, snap.BaselineArc, gps, hintPtr)
			if ok {
				b.mu.Lock()
				b.progressHints[d] = progress
				b.mu.Unlock()
				if display, ok := geometry.PointAtProgress(snap.MultiviewerPath, snap.MultiviewerArc, progress); ok {
					x, y = display.X, display.Y
				}
			}
		}

		positions = append(positions, PositionPayload{DriverNumber: d, X: x, Y: y})
	}

	b.broadcaster.Broadcast(roomLive, "positions", positions)
}

func (b *Batcher) tickDriverStates() {
	snap, ok := b.controller.Snapshot()
	if !ok {
		return
	}

	driverNumbers := make([]int, 0, len(snap.CurrentPosition))
	for d := range snap.CurrentPosition {
		driverNumbers = append(driverNumbers, d)
	}
	sort.Ints(driverNumbers)

	isReplay := snap.SessionType == session.TypeDemo
	now := time.Now()

	states := make([]aggregator.DriverLiveState, 0, len(driverNumbers))
	for _, d := range driverNumbers {
		pos := snap.CurrentPosition[d]
		stint := snap.Stint[d]
		pit := snap.Pit[d]
		currentLap := snap.CurrentLap[d]

		state := aggregator.DriverLiveState{
			DriverNumber: d,
			X:            pos.X,
			Y:            pos.Y,
			CurrentLap:   currentLap,
			TyreCompound: stint.Compound,
			TyreAge:      aggregator.TyreAge(stint, currentLap),
			Pit:          pit,
			PitStopCount: pit.Count,
			Telemetry:    snap.Telemetry[d],
			Retired:      snap.DNF.IsDNF(d),
		}

		var seg1, seg2, seg3 []int
		if lap, ok := latestCompletedLap(snap, d, currentLap); ok {
			state.LatestLap = &aggregator.LapSectorSummary{
				Sector1Sec: lap.Sector1Sec,
				Sector2Sec: lap.Sector2Sec,
				Sector3Sec: lap.Sector3Sec,
				SpeedI1:    lap.SpeedI1,
				SpeedI2:    lap.SpeedI2,
				SpeedST:    lap.SpeedST,
			}
			seg1, seg2, seg3 = lap.Segments1, lap.Segments2, lap.Segments3
		}

		if isReplay && snap.SectorsReady {
			if progress, hasHint := b.progressHint(d); hasHint {
				unsettled := b.observeLapTransition(d, currentLap, progress, now)
				seg1, seg2, seg3 = aggregator.TruncateSegments(seg1, seg2, seg3, progress, snap.SectorBoundaries, unsettled)
			}
		}
		state.Segments1, state.Segments2, state.Segments3 = seg1, seg2, seg3

		states = append(states, state)
	}

	b.broadcaster.Broadcast(roomLive, "driver_states", states)
}

// latestCompletedLap returns the most recently completed lap record known
// for driverNumber: currentLap's own record if one already exists (the
// lap-complete and lap-counter-increment events can arrive in either
// order), else the previous lap's.
func latestCompletedLap(snap *session.Session, driverNumber, currentLap int) (session.Lap, bool) {
	if lap, ok := snap.CompletedLaps[session.CompletedLapKey(driverNumber, currentLap)]; ok {
		return lap, true
	}
	if currentLap > 0 {
		if lap, ok := snap.CompletedLaps[session.CompletedLapKey(driverNumber, currentLap-1)]; ok {
			return lap, true
		}
	}
	return session.Lap{}, false
}

func (b *Batcher) progressHint(driverNumber int) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hint, ok := b.progressHints[driverNumber]
	return hint, ok
}

// observeLapTransition records progress around a driver's most recent lap
// increment and reports whether it's still within the unsettled grace
// window (spec §4.5, S4: "a replay batch can advance the lap counter
// before the GPS fix catches up").
func (b *Batcher) observeLapTransition(driverNumber, currentLap int, progress float64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.lapTransitions[driverNumber]
	if currentLap != ts.lastLap {
		ts.transitionAt = now
		ts.transitionProgress = ts.lastProgress
		ts.lastLap = currentLap
	}
	ts.lastProgress = progress
	b.lapTransitions[driverNumber] = ts
	return aggregator.IsLapTransitionUnsettled(now.Sub(ts.transitionAt), ts.transitionProgress)
}

func (b *Batcher) tickClockFallback() {
	snap, ok := b.controller.Snapshot()
	if !ok {
		return
	}
	obs := b.clockObs()
	if time.Since(obs.LastSeen) <= ClockSilenceThreshold {
		return
	}

	remaining := snap.DateEndTs.Sub(time.Now())
	if remaining < 0 {
		remaining = 0
	}
	b.broadcaster.Broadcast(roomLive, "clock", ClockPayload{
		RemainingMs: remaining.Milliseconds(),
		Running:     !obs.LatestFlagIsRed,
	})
}
