package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pathSamples walks squarePath's own perimeter linearly with time, so a
// sample at time-fraction f sits at progress f exactly — letting the
// sector-boundary math be checked against known progress values.
func pathSamples(path Path, arc []float64, durationMs int64, n int) []Sample {
	perimeter := arc[len(arc)-1]
	samples := make([]Sample, n)
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		target := frac * perimeter
		samples[i] = Sample{Point: pointAtArc(path, arc, target), TimestampMs: int64(frac * float64(durationMs))}
	}
	return samples
}

func pointAtArc(path Path, arc []float64, target float64) Point {
	for i := 1; i < len(arc); i++ {
		if arc[i] >= target {
			segLen := arc[i] - arc[i-1]
			if segLen == 0 {
				return path[i-1]
			}
			t := (target - arc[i-1]) / segLen
			a, b := path[i-1], path[i]
			return Point{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)}
		}
	}
	return path[len(path)-1]
}

func TestDeriveSectorBoundaries_ProducesThreeBoundaries(t *testing.T) {
	// Path is a 40-unit square perimeter; laps are even thirds by time.
	path := squarePath()
	arc := ArcLengthTable(path)

	laps := []SectorLap{
		{DriverNumber: 1, DurationSec: 90, Sector1Sec: 30, Sector2Sec: 30, Sector3Sec: 30, Samples: pathSamples(path, arc, 90000, 50)},
		{DriverNumber: 2, DurationSec: 91, Sector1Sec: 30, Sector2Sec: 31, Sector3Sec: 30, Samples: pathSamples(path, arc, 91000, 50)},
	}

	bounds, crossings, ok := DeriveSectorBoundaries(laps, path, arc)
	require.True(t, ok)
	assert.True(t, bounds.Sector1to2 > 0)
	assert.True(t, bounds.Sector2to3 > bounds.Sector1to2)
	assert.NotEmpty(t, crossings)
}

func TestDeriveSectorBoundaries_NoUsableLaps(t *testing.T) {
	path := squarePath()
	arc := ArcLengthTable(path)
	_, _, ok := DeriveSectorBoundaries(nil, path, arc)
	assert.False(t, ok)
}
