package aggregator

import "sync"

// PitTimeoutLaps is how many leader laps a driver may remain stationary
// in the pit lane before being assumed retired (spec §4.5).
const PitTimeoutLaps = 2

// TrackStallSpeedThreshold is the speed, in km/h, at or below which a
// driver on track (not pitting, no red flag) is considered stalled.
const TrackStallSpeedThreshold = 5.0

const (
	ReasonPitTimeout  = "assumed retired (stationary in pit lane)"
	ReasonTrackStall  = "assumed retired (stationary on track)"
)

// Tracker maintains the DNF set and the reversible-vs-permanent
// distinction (spec §3 invariant: a race-control DNF is permanent; a
// timeout-based DNF is reversible if the driver resumes motion).
type Tracker struct {
	mu             sync.RWMutex
	reasons        map[int]string
	permanent      map[int]bool
	timeoutFlagged map[int]bool
	stallStart     map[int]int // driverNumber -> leader lap when the stall began
}

// NewTracker returns an empty DNF tracker.
func NewTracker() *Tracker {
	return &Tracker{
		reasons:        make(map[int]string),
		permanent:      make(map[int]bool),
		timeoutFlagged: make(map[int]bool),
		stallStart:     make(map[int]int),
	}
}

// MarkRaceControlDNF permanently retires driverNumber. Testable property
// #6: once set this way, no subsequent timeout-reversal path removes it.
func (t *Tracker) MarkRaceControlDNF(driverNumber int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reasons[driverNumber] = reason
	t.permanent[driverNumber] = true
	delete(t.timeoutFlagged, driverNumber)
}

// IsDNF reports whether driverNumber is currently in the DNF set.
func (t *Tracker) IsDNF(driverNumber int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.reasons[driverNumber]
	return ok
}

// Reason returns the current DNF reason for driverNumber, if any.
func (t *Tracker) Reason(driverNumber int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.reasons[driverNumber]
	return r, ok
}

// EvaluatePitTimeout flags driverNumber as DNF when it has been sat in
// the pit lane for at least PitTimeoutLaps leader laps.
func (t *Tracker) EvaluatePitTimeout(driverNumber int, inPit bool, pitEntryLeaderLap, currentLeaderLap int) {
	if !inPit {
		return
	}
	if currentLeaderLap-pitEntryLeaderLap < PitTimeoutLaps {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, already := t.reasons[driverNumber]; already {
		return
	}
	t.reasons[driverNumber] = ReasonPitTimeout
	t.timeoutFlagged[driverNumber] = true
}

// ReverseOnPitExit un-retires a timeout-flagged driver once its speed
// rises past the pit-exit threshold. Permanent (race-control) DNFs are
// never reversed here.
func (t *Tracker) ReverseOnPitExit(driverNumber int, speedKmh, pitExitThreshold float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.permanent[driverNumber] {
		return
	}
	if t.timeoutFlagged[driverNumber] && speedKmh > pitExitThreshold {
		delete(t.reasons, driverNumber)
		delete(t.timeoutFlagged, driverNumber)
	}
}

// EvaluateTrackStall tracks a driver's on-track stationary time and
// flags/reverses the track-stall DNF. inPit or redFlagActive suspends
// stall tracking entirely (a red flag or pit stop is not a stall).
func (t *Tracker) EvaluateTrackStall(driverNumber int, speedKmh float64, inPit, redFlagActive bool, currentLeaderLap int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inPit || redFlagActive {
		delete(t.stallStart, driverNumber)
		return
	}

	if speedKmh > TrackStallSpeedThreshold {
		delete(t.stallStart, driverNumber)
		if t.timeoutFlagged[driverNumber] && !t.permanent[driverNumber] {
			delete(t.reasons, driverNumber)
			delete(t.timeoutFlagged, driverNumber)
		}
		return
	}

	start, started := t.stallStart[driverNumber]
	if !started {
		t.stallStart[driverNumber] = currentLeaderLap
		return
	}
	if currentLeaderLap-start < 1 {
		return
	}
	if _, already := t.reasons[driverNumber]; already {
		return
	}
	t.reasons[driverNumber] = ReasonTrackStall
	t.timeoutFlagged[driverNumber] = true
}

// Snapshot returns the current DNF driver numbers, for inclusion in a
// session snapshot.
func (t *Tracker) Snapshot() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, 0, len(t.reasons))
	for d := range t.reasons {
		out = append(out, d)
	}
	return out
}
