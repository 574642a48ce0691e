package aggregator

import (
	"math"
	"time"

	"github.com/trackside/telemetry-core/internal/geometry"
)

// LapTransitionGrace is the window after a lap-counter increment during
// which, combined with high lap-relative progress, segment arrays are
// zeroed entirely because the GPS fix hasn't settled yet (spec §4.5).
const LapTransitionGrace = 1500 * time.Millisecond

// lapTransitionHighProgressThreshold is how close to 1.0 the *previous*
// lap's progress must have been for a just-occurred lap increment to be
// considered a genuine crossing rather than a data glitch.
const lapTransitionHighProgressThreshold = 0.9

// Sector reports which of the three sectors progress falls in (0,1,2)
// and the fraction traveled within that sector.
func Sector(progress float64, bounds geometry.SectorBoundaries) (sector int, fraction float64) {
	d := geometry.ForwardDistance(bounds.StartFinish, progress)
	len1 := geometry.ForwardDistance(bounds.StartFinish, bounds.Sector1to2)
	len2 := geometry.ForwardDistance(bounds.Sector1to2, bounds.Sector2to3)
	len3 := geometry.ForwardDistance(bounds.Sector2to3, bounds.StartFinish)

	switch {
	case d < len1:
		if len1 == 0 {
			return 0, 1
		}
		return 0, d / len1
	case d < len1+len2:
		if len2 == 0 {
			return 1, 1
		}
		return 1, (d - len1) / len2
	default:
		if len3 == 0 {
			return 2, 1
		}
		return 2, (d - len1 - len2) / len3
	}
}

// IsLapTransitionUnsettled reports whether a just-occurred lap increment,
// observed deltaSinceIncrement after it happened, together with the
// driver's pre-increment progress, means the GPS fix hasn't settled yet
// and segments must be zeroed entirely (spec §4.5).
func IsLapTransitionUnsettled(deltaSinceIncrement time.Duration, previousLapProgress float64) bool {
	return deltaSinceIncrement < LapTransitionGrace && previousLapProgress >= lapTransitionHighProgressThreshold
}

// TruncateSegments implements replay-mode segment truncation (spec §4.5,
// S4): segments in sectors not yet reached are zeroed; the current
// sector's segments are lit up to ceil(fractionInSector*segmentCount);
// segments in completed sectors pass through unchanged. If
// lapTransitionUnsettled is true, every segment is zeroed regardless of
// progress. In live mode (not replay), segments pass through untouched —
// callers should not call this function for live-mode updates at all.
func TruncateSegments(seg1, seg2, seg3 []int, progress float64, bounds geometry.SectorBoundaries, lapTransitionUnsettled bool) (out1, out2, out3 []int) {
	if lapTransitionUnsettled {
		return zeroed(seg1), zeroed(seg2), zeroed(seg3)
	}

	currentSector, fraction := Sector(progress, bounds)
	litCount := int(math.Ceil(fraction * float64(segmentCount(currentSector, seg1, seg2, seg3))))

	out1 = truncateOne(seg1, 0, currentSector, litCount)
	out2 = truncateOne(seg2, 1, currentSector, litCount)
	out3 = truncateOne(seg3, 2, currentSector, litCount)
	return
}

func segmentCount(currentSector int, seg1, seg2, seg3 []int) int {
	switch currentSector {
	case 0:
		return len(seg1)
	case 1:
		return len(seg2)
	default:
		return len(seg3)
	}
}

func truncateOne(segments []int, sectorIndex, currentSector, litCount int) []int {
	out := make([]int, len(segments))
	switch {
	case sectorIndex < currentSector:
		copy(out, segments) // already-passed sector: pass through unchanged
	case sectorIndex == currentSector:
		for i := range segments {
			if i < litCount {
				out[i] = segments[i]
			}
		}
	default:
		// not yet reached: stays zeroed
	}
	return out
}

func zeroed(segments []int) []int {
	return make([]int, len(segments))
}
