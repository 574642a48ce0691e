package geometry

import "math"

// DefaultPitSpeedLimit and DefaultPitSpeedMargin are the spec's default
// pit-lane speed detection parameters (§4.4).
const (
	DefaultPitSpeedLimit  = 80.0
	DefaultPitSpeedMargin = 5.0
	pitSideDominanceMin   = 0.60
	minPitSamplesToAggregate = 3
)

// TimedSpeedPoint is one GPS+speed observation used to bound a pit stop.
type TimedSpeedPoint struct {
	Point
	SpeedKmh float64
}

// PitStopObservation is the raw trace collected for a single completed
// pit stop (one per stop, per spec §4.4).
type PitStopObservation struct {
	DriverNumber int
	LaneTrace    []TimedSpeedPoint // ordered by time, spanning pit entry through exit
}

// DetectPitLaneEntryExit finds the tight entry/exit GPS points: the
// first/last position in the trace whose speed is in
// (10, detectedLimit+margin]. Returns ok=false if no such points exist.
func DetectPitLaneEntryExit(trace []TimedSpeedPoint, detectedLimit, margin float64) (entry, exit Point, ok bool) {
	upper := detectedLimit + margin
	firstIdx, lastIdx := -1, -1
	for i, p := range trace {
		if p.SpeedKmh > 10 && p.SpeedKmh <= upper {
			if firstIdx == -1 {
				firstIdx = i
			}
			lastIdx = i
		}
	}
	if firstIdx == -1 {
		return Point{}, Point{}, false
	}
	return trace[firstIdx].Point, trace[lastIdx].Point, true
}

// VotePitSide casts a distance-weighted vote for which side of the
// centerline pit lane sits on, using the sign of the cross-product of
// the centerline tangent with the vector from the centerline to the car
// at each trace point. The vote is accepted only if one side dominates
// by at least 60% of the total weight (spec §4.4); otherwise ok=false.
func VotePitSide(trace []TimedSpeedPoint, path Path, arc []float64) (side PitSide, dominance float64, ok bool) {
	if len(path) < 2 {
		return PitSideUnknown, 0, false
	}

	var leftWeight, rightWeight float64
	for _, tp := range trace {
		segIdx, tangent, centerPoint, ok := nearestSegmentTangent(path, tp.Point)
		if !ok {
			continue
		}
		_ = segIdx
		vx, vy := tp.X-centerPoint.X, tp.Y-centerPoint.Y
		cross := tangent.X*vy - tangent.Y*vx
		weight := math.Hypot(vx, vy)
		if weight == 0 {
			continue
		}
		if cross > 0 {
			leftWeight += weight
		} else {
			rightWeight += weight
		}
	}

	total := leftWeight + rightWeight
	if total == 0 {
		return PitSideUnknown, 0, false
	}

	if leftWeight >= rightWeight {
		dominance = leftWeight / total
		side = PitSideLeft
	} else {
		dominance = rightWeight / total
		side = PitSideRight
	}
	if dominance < pitSideDominanceMin {
		return PitSideUnknown, dominance, false
	}
	return side, dominance, true
}

// nearestSegmentTangent returns the index, unit tangent vector, and
// closest centerline point of the path segment nearest to p.
func nearestSegmentTangent(path Path, p Point) (int, Point, Point, bool) {
	if len(path) < 2 {
		return 0, Point{}, Point{}, false
	}
	bestIdx := -1
	bestDist := math.Inf(1)
	var bestProj Point
	for i := 0; i < len(path)-1; i++ {
		proj, _ := projectOntoSegment(p, path[i], path[i+1])
		d := p.distanceTo(proj)
		if d < bestDist {
			bestDist = d
			bestIdx = i
			bestProj = proj
		}
	}
	if bestIdx == -1 {
		return 0, Point{}, Point{}, false
	}
	a, b := path[bestIdx], path[bestIdx+1]
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return bestIdx, Point{}, bestProj, false
	}
	return bestIdx, Point{X: dx / length, Y: dy / length}, bestProj, true
}

// infieldSideHeuristic is a disambiguator only (spec §9 open question:
// the weighted vote always wins on disagreement). It guesses pit side
// from which side of the centerline the track's interior centroid falls
// on, at the pit location.
func infieldSideHeuristic(path Path, at Point) PitSide {
	if len(path) < 2 {
		return PitSideUnknown
	}
	var cx, cy float64
	for _, p := range path {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(path))
	cy /= float64(len(path))

	_, tangent, center, ok := nearestSegmentTangent(path, at)
	if !ok {
		return PitSideUnknown
	}
	vx, vy := cx-center.X, cy-center.Y
	cross := tangent.X*vy - tangent.Y*vx
	if cross > 0 {
		return PitSideLeft
	}
	return PitSideRight
}

// AggregatePitLaneProfile combines at least 3 pit-stop observations into
// a PitLaneProfile: entry/exit progress as medians, pit side by weighted
// majority across stops (the infield heuristic adds a half-weight vote
// only for a stop whose own lane trace yields no side, so it never
// overrides a vote). Returns ok=false with fewer than
// 3 usable observations, per §4.4.
func AggregatePitLaneProfile(observations []PitStopObservation, path Path, arc []float64, detectedLimit, margin float64) (PitLaneProfile, bool) {
	var entryProgresses, exitProgresses []float64
	sideVotes := map[PitSide]float64{}
	usable := 0

	for _, obs := range observations {
		entry, exit, ok := DetectPitLaneEntryExit(obs.LaneTrace, detectedLimit, margin)
		if !ok {
			continue
		}
		entryProg, ok1 := TrackProgress(path, arc, entry, nil)
		exitProg, ok2 := TrackProgress(path, arc, exit, nil)
		if !ok1 || !ok2 {
			continue
		}
		entryProgresses = append(entryProgresses, entryProg)
		exitProgresses = append(exitProgresses, exitProg)

		if side, dominance, ok := VotePitSide(obs.LaneTrace, path, arc); ok {
			sideVotes[side] += dominance
		} else {
			// fall back to the infield heuristic only when the vote
			// itself produced no signal at all
			sideVotes[infieldSideHeuristic(path, entry)] += 0.5
		}
		usable++
	}

	if usable < minPitSamplesToAggregate {
		return PitLaneProfile{}, false
	}

	bestSide := PitSideUnknown
	bestWeight := -1.0
	for side, weight := range sideVotes {
		if weight > bestWeight {
			bestWeight = weight
			bestSide = side
		}
	}

	return PitLaneProfile{
		EntryProgress:     median(entryProgresses),
		ExitProgress:      median(exitProgresses),
		PitSide:           bestSide,
		PitLaneSpeedLimit: detectedLimit,
		SamplesCollected:  usable,
	}, true
}
