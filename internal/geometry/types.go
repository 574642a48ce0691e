// Package geometry implements the Track Geometry Engine (spec §4.4): pure
// functions over GPS samples that build the track centerline, compute
// track-progress, and derive sector boundaries and pit-lane profile.
// Per Design Notes §9 these are pure (positions, path) -> path' functions,
// unit-testable without any session scaffolding. Any step that cannot
// produce a valid output returns ok=false and the caller leaves the prior
// result unchanged — nothing is silently wrong (§4.4 failure policy).
package geometry

import "math"

// Point is a single GPS-derived track coordinate.
type Point struct {
	X, Y float64
}

func (p Point) distanceTo(o Point) float64 {
	dx, dy := p.X-o.X, p.Y-o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Path is an ordered sequence of points describing the track centerline
// (or any other projected layer, e.g. the MultiViewer high-fidelity
// path). A closed path satisfies Path[0] == Path[len-1] exactly.
type Path []Point

// Sample is a single timestamped GPS observation for a driver.
type Sample struct {
	Point
	TimestampMs int64
}

// LapTrace is one driver's GPS samples collected during a single lap.
type LapTrace struct {
	DriverNumber int
	Samples      []Sample
	DurationSec  float64
	IsPitOutLap  bool
}

// SectorBoundaries are progress fractions in [0,1) per spec §3.
type SectorBoundaries struct {
	StartFinish float64
	Sector1to2  float64
	Sector2to3  float64
}

// PitSide indicates which side of the centerline pit lane sits on.
type PitSide string

const (
	PitSideUnknown PitSide = "unknown"
	PitSideLeft    PitSide = "left"
	PitSideRight   PitSide = "right"
)

// PitLaneProfile is the derived pit-lane geometry (spec §3, §4.4).
type PitLaneProfile struct {
	EntryProgress      float64
	ExitProgress       float64
	PitSide            PitSide
	PitLaneSpeedLimit  float64
	SamplesCollected   int
}

// arcLength computes the cumulative-distance table for path: arc[0]=0,
// arc[i] = arc[i-1] + distance(path[i-1], path[i]). Strictly
// non-decreasing by construction (testable property #8).
func arcLength(path Path) []float64 {
	arc := make([]float64, len(path))
	for i := 1; i < len(path); i++ {
		arc[i] = arc[i-1] + path[i-1].distanceTo(path[i])
	}
	return arc
}

// ArcLengthTable is the exported form of arcLength, used by callers that
// need to recompute and cache the table after any path mutation (spec
// invariant: "arc-length cache is recomputed on every path mutation").
func ArcLengthTable(path Path) []float64 {
	return arcLength(path)
}

// Perimeter is the total closed-loop length of path, i.e. arc[last].
func Perimeter(path Path, arc []float64) float64 {
	if len(arc) == 0 {
		return 0
	}
	return arc[len(arc)-1]
}
