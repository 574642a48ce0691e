package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squarePath() Path {
	return Path{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
}

func TestTrackProgress_StartAndMidpoint(t *testing.T) {
	path := squarePath()
	arc := ArcLengthTable(path)

	p0, ok := TrackProgress(path, arc, Point{0, 0}, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.0, p0, 1e-9)

	// halfway around the 40-unit perimeter is at (10,10)
	pHalf, ok := TrackProgress(path, arc, Point{10, 10}, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.5, pHalf, 1e-9)
}

func TestTrackProgress_TooShortPath(t *testing.T) {
	_, ok := TrackProgress(Path{{0, 0}}, []float64{0}, Point{0, 0}, nil)
	assert.False(t, ok)
}

func TestForwardDistance(t *testing.T) {
	assert.InDelta(t, 0.2, ForwardDistance(0.3, 0.5), 1e-9)
	assert.InDelta(t, 0.9, ForwardDistance(0.9, 0.8), 1e-9, "wraps past 1.0")
}

func TestTrackProgress_HintNarrowsButFindsSamePoint(t *testing.T) {
	path := squarePath()
	arc := ArcLengthTable(path)
	hint := 0.5
	p, ok := TrackProgress(path, arc, Point{10, 10}, &hint)
	require.True(t, ok)
	assert.InDelta(t, 0.5, p, 1e-9)
}

func TestPointAtProgress_IsInverseOfTrackProgress(t *testing.T) {
	path := squarePath()
	arc := ArcLengthTable(path)

	p, ok := PointAtProgress(path, arc, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 10.0, p.X, 1e-9)
	assert.InDelta(t, 10.0, p.Y, 1e-9)

	back, ok := TrackProgress(path, arc, p, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.5, back, 1e-9)
}

func TestPointAtProgress_WrapsNegativeAndAboveOne(t *testing.T) {
	path := squarePath()
	arc := ArcLengthTable(path)

	p1, ok := PointAtProgress(path, arc, -0.25)
	require.True(t, ok)
	p2, ok := PointAtProgress(path, arc, 0.75)
	require.True(t, ok)
	assert.InDelta(t, p2.X, p1.X, 1e-9)
	assert.InDelta(t, p2.Y, p1.Y, 1e-9)
}

func TestPointAtProgress_TooShortPath(t *testing.T) {
	_, ok := PointAtProgress(Path{{0, 0}}, []float64{0}, 0.5)
	assert.False(t, ok)
}
