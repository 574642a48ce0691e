package geometry

import "math"

// HintWindowFraction narrows the nearest-segment search to ±15% of the
// perimeter around a previous progress value, avoiding ambiguity on
// parallel sections of track (spec §4.4).
const HintWindowFraction = 0.15

// TrackProgress projects point onto path and returns its progress
// fraction in [0,1): the arc length of the nearest segment's projection
// point divided by the total perimeter. hint, if non-nil, is the
// driver's previous progress and narrows the search to ±15% around it.
// Returns ok=false if path has fewer than 2 points.
func TrackProgress(path Path, arc []float64, point Point, hint *float64) (progress float64, ok bool) {
	if len(path) < 2 {
		return 0, false
	}
	perimeter := Perimeter(path, arc)
	if perimeter <= 0 {
		return 0, false
	}

	lo, hi := 0, len(path)-2 // segment indices [lo,hi]
	wrap := false
	if hint != nil {
		center := int(math.Mod(*hint, 1.0) * float64(len(path)-1))
		window := int(HintWindowFraction * float64(len(path)-1))
		lo = center - window
		hi = center + window
		if lo < 0 || hi >= len(path)-1 {
			wrap = true
		}
	}

	bestDist := math.Inf(1)
	var bestArc float64

	consider := func(i int) {
		a, b := path[i], path[i+1]
		proj, t := projectOntoSegment(point, a, b)
		d := point.distanceTo(proj)
		if d < bestDist {
			bestDist = d
			bestArc = arc[i] + t*(arc[i+1]-arc[i])
		}
	}

	if wrap || hint == nil {
		for i := 0; i < len(path)-1; i++ {
			consider(i)
		}
	} else {
		for i := lo; i <= hi; i++ {
			idx := ((i % (len(path) - 1)) + (len(path) - 1)) % (len(path) - 1)
			consider(idx)
		}
	}

	progress = bestArc / perimeter
	if progress >= 1.0 {
		progress = math.Mod(progress, 1.0)
	}
	if progress < 0 {
		progress += 1.0
	}
	return progress, true
}

// projectOntoSegment returns the closest point on segment [a,b] to p, and
// the interpolation parameter t in [0,1] along that segment.
func projectOntoSegment(p, a, b Point) (Point, float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return a, 0
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return Point{X: a.X + t*dx, Y: a.Y + t*dy}, t
}

// PointAtProgress is the inverse of TrackProgress: given a normalized
// progress fraction in [0,1), returns the corresponding point along path.
// Used to project a car's track-progress onto a separate display path
// (spec §4.6 positions batcher: "project each car through track-progress
// -> point on display path").
func PointAtProgress(path Path, arc []float64, progress float64) (Point, bool) {
	if len(path) < 2 {
		return Point{}, false
	}
	perimeter := Perimeter(path, arc)
	if perimeter <= 0 {
		return Point{}, false
	}
	progress = math.Mod(progress, 1.0)
	if progress < 0 {
		progress += 1.0
	}
	target := progress * perimeter

	for i := 0; i < len(path)-1; i++ {
		if target <= arc[i+1] || i == len(path)-2 {
			segLen := arc[i+1] - arc[i]
			t := 0.0
			if segLen > 0 {
				t = (target - arc[i]) / segLen
			}
			a, b := path[i], path[i+1]
			return Point{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)}, true
		}
	}
	return path[len(path)-1], true
}

// ForwardDistance returns the forward progress distance from 'from' to
// 'to' along a [0,1) closed loop, i.e. how far ahead 'to' is of 'from'
// going in the direction of increasing progress. Always in [0,1).
func ForwardDistance(from, to float64) float64 {
	d := to - from
	if d < 0 {
		d += 1.0
	}
	return d
}
