package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trackside/telemetry-core/internal/geometry"
)

func TestTruncateSegments_S4Scenario(t *testing.T) {
	bounds := geometry.SectorBoundaries{StartFinish: 0.00, Sector1to2: 0.33, Sector2to3: 0.66}
	seg1 := make([]int, 8)
	seg2 := make([]int, 8)
	seg3 := make([]int, 8)
	for i := range seg1 {
		seg1[i], seg2[i], seg3[i] = i+1, i+1, i+1
	}

	out1, out2, out3 := TruncateSegments(seg1, seg2, seg3, 0.50, bounds, false)

	assert.Equal(t, seg1, out1, "sector1 already passed: unchanged")
	for i := 0; i < 5; i++ {
		assert.Equal(t, seg2[i], out2[i], "lit segment %d must retain its value", i)
	}
	for i := 5; i < 8; i++ {
		assert.Equal(t, 0, out2[i], "unlit segment %d must be zeroed", i)
	}
	for _, v := range out3 {
		assert.Equal(t, 0, v, "sector3 not yet reached: all zero")
	}
}

func TestTruncateSegments_LapTransitionZeroesAll(t *testing.T) {
	bounds := geometry.SectorBoundaries{StartFinish: 0, Sector1to2: 0.33, Sector2to3: 0.66}
	seg := []int{1, 2, 3}
	out1, out2, out3 := TruncateSegments(seg, seg, seg, 0.9, bounds, true)
	for _, s := range [][]int{out1, out2, out3} {
		for _, v := range s {
			assert.Equal(t, 0, v)
		}
	}
}

func TestIsLapTransitionUnsettled(t *testing.T) {
	assert.True(t, IsLapTransitionUnsettled(500*time.Millisecond, 0.95))
	assert.False(t, IsLapTransitionUnsettled(2000*time.Millisecond, 0.95), "outside the grace window")
	assert.False(t, IsLapTransitionUnsettled(500*time.Millisecond, 0.5), "not high progress before the increment")
}

func TestTyreAge_UsesSignalRTotalLapsWhenPresent(t *testing.T) {
	total := 7
	stint := StintInfo{LapStart: 10, TyreAgeAtStart: 0, TotalLaps: &total}
	assert.Equal(t, 7, TyreAge(stint, 20))
}

func TestTyreAge_DerivedFromLapDelta(t *testing.T) {
	stint := StintInfo{LapStart: 10, TyreAgeAtStart: 2}
	assert.Equal(t, 2+5, TyreAge(stint, 15))
	assert.Equal(t, 2, TyreAge(stint, 8), "currentLap before stint start must clamp delta to 0")
}
