package geometry

import "sort"

// SectorLap is one driver's fast lap with both sector times and a GPS
// trace spanning the lap, used to derive sector boundary crossings.
type SectorLap struct {
	DriverNumber int
	DurationSec  float64
	Sector1Sec   float64
	Sector2Sec   float64
	Sector3Sec   float64
	Samples      []Sample // ordered by timestamp, spanning the whole lap
}

// GPSCrossing is a raw sector-boundary crossing point, kept for
// re-projection onto a higher-fidelity path (e.g. MultiViewer) later.
type GPSCrossing struct {
	DriverNumber int
	Boundary     string // "start_finish", "s1_2", "s2_3"
	Point        Point
}

// DeriveSectorBoundaries estimates {startFinish, sector1_2, sector2_3} as
// the median projected progress across all given laps' GPS crossings at
// the time-fractions implied by their sector splits (spec §4.4). Returns
// ok=false if no lap yields a usable crossing.
func DeriveSectorBoundaries(laps []SectorLap, path Path, arc []float64) (SectorBoundaries, []GPSCrossing, bool) {
	var startFinish, s1to2, s2to3 []float64
	var crossings []GPSCrossing

	for _, lap := range laps {
		if lap.DurationSec <= 0 || len(lap.Samples) < 2 {
			continue
		}
		startPoint, ok := sampleAtFraction(lap.Samples, 0.0)
		if ok {
			if p, ok := TrackProgress(path, arc, startPoint, nil); ok {
				startFinish = append(startFinish, p)
				crossings = append(crossings, GPSCrossing{lap.DriverNumber, "start_finish", startPoint})
			}
		}

		t1 := lap.Sector1Sec / lap.DurationSec
		if p1, ok := sampleAtFraction(lap.Samples, t1); ok {
			if proj, ok := TrackProgress(path, arc, p1, nil); ok {
				s1to2 = append(s1to2, proj)
				crossings = append(crossings, GPSCrossing{lap.DriverNumber, "s1_2", p1})
			}
		}

		t2 := (lap.Sector1Sec + lap.Sector2Sec) / lap.DurationSec
		if p2, ok := sampleAtFraction(lap.Samples, t2); ok {
			if proj, ok := TrackProgress(path, arc, p2, nil); ok {
				s2to3 = append(s2to3, proj)
				crossings = append(crossings, GPSCrossing{lap.DriverNumber, "s2_3", p2})
			}
		}
	}

	if len(s1to2) == 0 || len(s2to3) == 0 {
		return SectorBoundaries{}, nil, false
	}

	bounds := SectorBoundaries{
		StartFinish: median(startFinish),
		Sector1to2:  median(s1to2),
		Sector2to3:  median(s2to3),
	}
	return bounds, crossings, true
}

// sampleAtFraction linearly interpolates the GPS position at fraction
// (in [0,1]) of the lap's elapsed time, using the sample timestamps.
func sampleAtFraction(samples []Sample, fraction float64) (Point, bool) {
	if len(samples) < 2 {
		return Point{}, false
	}
	if fraction <= 0 {
		return samples[0].Point, true
	}
	if fraction >= 1 {
		return samples[len(samples)-1].Point, true
	}

	start := samples[0].TimestampMs
	end := samples[len(samples)-1].TimestampMs
	if end <= start {
		return Point{}, false
	}
	targetMs := start + int64(fraction*float64(end-start))

	for i := 1; i < len(samples); i++ {
		if samples[i].TimestampMs >= targetMs {
			prev := samples[i-1]
			cur := samples[i]
			span := cur.TimestampMs - prev.TimestampMs
			if span <= 0 {
				return prev.Point, true
			}
			t := float64(targetMs-prev.TimestampMs) / float64(span)
			return Point{
				X: prev.X + t*(cur.X-prev.X),
				Y: prev.Y + t*(cur.Y-prev.Y),
			}, true
		}
	}
	return samples[len(samples)-1].Point, true
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
