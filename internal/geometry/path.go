package geometry

import (
	"math"
	"sort"

	"github.com/samber/lo"
)

// FastLapThreshold is the multiplier applied to session-best lap duration
// to decide whether a lap's GPS trace is clean enough to seed or refine
// the centerline (spec §4.4, boundary test: 1.07x exactly is accepted).
const FastLapThreshold = 1.07

// IsFastLap reports whether a completed lap qualifies to contribute to
// track-geometry building: duration within 107% of session best, not a
// pit-out lap, and carrying position samples.
func IsFastLap(durationSec, sessionBestSec float64, isPitOutLap bool, hasPositionSamples bool) bool {
	if isPitOutLap || !hasPositionSamples || sessionBestSec <= 0 {
		return false
	}
	return durationSec <= sessionBestSec*FastLapThreshold
}

// BuildCenterlineConfig tunes the centerline construction algorithm.
type BuildCenterlineConfig struct {
	TargetPoints       int     // downsample target, e.g. 500
	SmoothingWindow    int     // moving-average window, odd, e.g. 5
	OutlierStdDevLimit float64 // samples beyond this many stddevs from the trace's mean speed are dropped
}

// DefaultBuildCenterlineConfig mirrors values commonly used by live-timing
// track-map builders: enough points for a smooth display path without
// excessive memory, a light smoothing pass, and a conservative outlier cut.
func DefaultBuildCenterlineConfig() BuildCenterlineConfig {
	return BuildCenterlineConfig{
		TargetPoints:       500,
		SmoothingWindow:    5,
		OutlierStdDevLimit: 3.0,
	}
}

// BuildCenterline builds a closed-loop centerline path from the fast-lap
// traces given. It picks the single cleanest trace as a seed (fewest
// removed outliers, then most samples), downsamples it to
// cfg.TargetPoints, smooths with a moving average, and snaps the last
// point to the first to close the loop exactly. Returns ok=false if no
// trace has enough samples to build from — callers must leave the prior
// path unchanged in that case (§4.4 failure policy).
func BuildCenterline(traces []LapTrace, cfg BuildCenterlineConfig) (Path, bool) {
	type candidate struct {
		points  []Point
		removed int
	}

	var candidates []candidate
	for _, trace := range traces {
		cleaned, removed := removeOutliers(trace.Samples, cfg.OutlierStdDevLimit)
		if len(cleaned) < 10 {
			continue
		}
		candidates = append(candidates, candidate{points: cleaned, removed: removed})
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].removed != candidates[j].removed {
			return candidates[i].removed < candidates[j].removed
		}
		return len(candidates[i].points) > len(candidates[j].points)
	})
	seed := candidates[0].points

	downsampled := downsample(seed, cfg.TargetPoints)
	smoothed := movingAverage(downsampled, cfg.SmoothingWindow)
	return closeLoop(smoothed), true
}

// removeOutliers drops samples whose implied instantaneous speed from the
// previous sample deviates from the trace's mean speed by more than
// limitStdDev standard deviations. Returns the cleaned points in order
// and the count of samples dropped.
func removeOutliers(samples []Sample, limitStdDev float64) ([]Point, int) {
	if len(samples) < 3 {
		return lo.Map(samples, func(s Sample, _ int) Point { return s.Point }), 0
	}

	speeds := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		dtMs := samples[i].TimestampMs - samples[i-1].TimestampMs
		if dtMs <= 0 {
			continue
		}
		dist := samples[i-1].Point.distanceTo(samples[i].Point)
		speeds = append(speeds, dist/float64(dtMs))
	}
	mean, stddev := meanStdDev(speeds)

	out := make([]Point, 0, len(samples))
	removed := 0
	out = append(out, samples[0].Point)
	for i := 1; i < len(samples); i++ {
		dtMs := samples[i].TimestampMs - samples[i-1].TimestampMs
		if dtMs <= 0 {
			removed++
			continue
		}
		dist := samples[i-1].Point.distanceTo(samples[i].Point)
		speed := dist / float64(dtMs)
		if stddev > 0 && limitStdDev > 0 && absf(speed-mean) > limitStdDev*stddev {
			removed++
			continue
		}
		out = append(out, samples[i].Point)
	}
	return out, removed
}

func meanStdDev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

// downsample reduces points to at most target by picking evenly spaced
// indices; it never upsamples (targets larger than len(points) are a
// no-op).
func downsample(points []Point, target int) []Point {
	if target <= 0 || len(points) <= target {
		return points
	}
	out := make([]Point, 0, target)
	step := float64(len(points)) / float64(target)
	for i := 0; i < target; i++ {
		idx := int(float64(i) * step)
		if idx >= len(points) {
			idx = len(points) - 1
		}
		out = append(out, points[idx])
	}
	return out
}

// movingAverage smooths points with a centered moving average of the
// given odd window size. window<=1 is a no-op.
func movingAverage(points []Point, window int) []Point {
	if window <= 1 || len(points) < window {
		return points
	}
	half := window / 2
	out := make([]Point, len(points))
	for i := range points {
		var sx, sy float64
		count := 0
		for j := i - half; j <= i+half; j++ {
			idx := ((j % len(points)) + len(points)) % len(points)
			sx += points[idx].X
			sy += points[idx].Y
			count++
		}
		out[i] = Point{X: sx / float64(count), Y: sy / float64(count)}
	}
	return out
}

// closeLoop snaps the last point to exactly equal the first, satisfying
// the invariant that baselinePath[0] == baselinePath[last] exactly.
func closeLoop(points []Point) Path {
	if len(points) == 0 {
		return nil
	}
	out := make(Path, len(points))
	copy(out, points)
	out[len(out)-1] = out[0]
	return out
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
