package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_S5_PitTimeoutAndReversal(t *testing.T) {
	tr := NewTracker()

	// #77 pit event at leaderLap=10; leader lap later reaches 12 (delta 2).
	tr.EvaluatePitTimeout(77, true, 10, 12)
	assert.True(t, tr.IsDNF(77))
	reason, ok := tr.Reason(77)
	assert.True(t, ok)
	assert.Equal(t, ReasonPitTimeout, reason)

	// speed rises above pit-exit threshold -> reversed
	tr.ReverseOnPitExit(77, 90, 80)
	assert.False(t, tr.IsDNF(77))
}

func TestTracker_PitTimeoutBoundary(t *testing.T) {
	tr := NewTracker()
	tr.EvaluatePitTimeout(1, true, 10, 11) // delta 1, not yet
	assert.False(t, tr.IsDNF(1))

	tr2 := NewTracker()
	tr2.EvaluatePitTimeout(1, true, 10, 12) // delta 2, triggers
	assert.True(t, tr2.IsDNF(1))
}

func TestTracker_RaceControlDNFNeverReversed(t *testing.T) {
	tr := NewTracker()
	tr.MarkRaceControlDNF(44, "retired")
	tr.ReverseOnPitExit(44, 200, 80)
	assert.True(t, tr.IsDNF(44), "race-control DNF must never be reversed by a timeout path")

	tr.EvaluateTrackStall(44, 200, false, false, 5)
	assert.True(t, tr.IsDNF(44))
}

func TestTracker_TrackStall(t *testing.T) {
	tr := NewTracker()
	tr.EvaluateTrackStall(5, 2.0, false, false, 10) // stall begins at leader lap 10
	assert.False(t, tr.IsDNF(5), "not yet 1 full leader lap")

	tr.EvaluateTrackStall(5, 2.0, false, false, 11) // 1 leader lap later
	assert.True(t, tr.IsDNF(5))

	tr.EvaluateTrackStall(5, 50.0, false, false, 12) // moves again
	assert.False(t, tr.IsDNF(5))
}

func TestTracker_TrackStallSuspendedInPitOrRedFlag(t *testing.T) {
	tr := NewTracker()
	tr.EvaluateTrackStall(9, 1.0, true, false, 1) // in pit, not a stall
	tr.EvaluateTrackStall(9, 1.0, true, false, 2)
	assert.False(t, tr.IsDNF(9))

	tr2 := NewTracker()
	tr2.EvaluateTrackStall(9, 1.0, false, true, 1) // red flag, not a stall
	tr2.EvaluateTrackStall(9, 1.0, false, true, 2)
	assert.False(t, tr2.IsDNF(9))
}
