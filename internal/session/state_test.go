package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trackside/telemetry-core/internal/aggregator"
	"github.com/trackside/telemetry-core/internal/geometry"
)

func stintFixture(compound string, stintNumber int) aggregator.StintInfo {
	return aggregator.StintInfo{Compound: compound, StintNumber: stintNumber, LapStart: 1}
}

func TestSetCurrentLap_S2MonotoneInvariant(t *testing.T) {
	s := NewSession(1, 1, "Monza", TypeRace, "Race", time.Now())

	assert.True(t, s.SetCurrentLap(44, 3))
	assert.False(t, s.SetCurrentLap(44, 2), "an out-of-order lower lap number must be rejected")
	assert.Equal(t, 3, s.CurrentLap[44], "current lap must remain at the higher value")

	assert.True(t, s.SetCurrentLap(44, 4))
	assert.Equal(t, 4, s.CurrentLap[44])
}

func TestUpsertCompletedLap_RejectsRegression(t *testing.T) {
	s := NewSession(1, 1, "Monza", TypeRace, "Race", time.Now())

	full := Lap{DurationSec: 91.2, Sector1Sec: 30, Sector2Sec: 31, Sector3Sec: 30.2}
	s.UpsertCompletedLap(44, 3, full)

	partial := Lap{DurationSec: 91.2}
	s.UpsertCompletedLap(44, 3, partial)

	got := s.CompletedLaps[completedLapKey(44, 3)]
	assert.Equal(t, full, got, "a less-complete update must not overwrite a more complete stored record")
}

func TestUpsertCompletedLap_DistinctLapsBothRetained(t *testing.T) {
	s := NewSession(1, 1, "Monza", TypeRace, "Race", time.Now())
	s.UpsertCompletedLap(44, 3, Lap{DurationSec: 91.0})
	s.UpsertCompletedLap(44, 2, Lap{DurationSec: 92.0})

	assert.Len(t, s.CompletedLaps, 2, "different lap numbers are different records, never merged")
}

func TestUpsertCompletedLap_TracksSessionAndDriverBest(t *testing.T) {
	s := NewSession(1, 1, "Monza", TypeRace, "Race", time.Now())
	s.UpsertCompletedLap(44, 1, Lap{DurationSec: 92.0})
	s.UpsertCompletedLap(44, 2, Lap{DurationSec: 90.5})
	s.UpsertCompletedLap(1, 1, Lap{DurationSec: 91.0})

	assert.Equal(t, 90.5, s.SessionBestLapSec)
	assert.Equal(t, 90.5, s.DriverBestLapSec[44])
	assert.Equal(t, 91.0, s.DriverBestLapSec[1])
}

func TestSetBaselinePath_ClosesLoop(t *testing.T) {
	s := NewSession(1, 1, "Monza", TypeRace, "Race", time.Now())
	s.SetBaselinePath(geometry.Path{})
	assert.Empty(t, s.BaselinePath, "empty input leaves path untouched")

	s.SetBaselinePath(geometry.Path{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0.5, Y: 0.5}})
	assert.Equal(t, s.BaselinePath[0], s.BaselinePath[len(s.BaselinePath)-1], "baseline path must always close exactly")
	assert.Len(t, s.BaselineArc, len(s.BaselinePath), "arc-length cache tracks the closed path")
}

func TestRecordWeather_SpacingInvariant(t *testing.T) {
	s := NewSession(1, 1, "Monza", TypeRace, "Race", time.Now())
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	s.RecordWeather(WeatherInfo{AirTemp: 20}, t0)
	s.RecordWeather(WeatherInfo{AirTemp: 21}, t0.Add(1*time.Minute))
	s.RecordWeather(WeatherInfo{AirTemp: 22}, t0.Add(6*time.Minute))

	assert.Len(t, s.WeatherHistory, 2, "only samples spaced by at least 5 minutes are retained")
	assert.Equal(t, 22.0, s.Weather.AirTemp, "current weather always reflects the latest sample regardless of history spacing")
}

func TestCloseStint_ArchivesPrevious(t *testing.T) {
	s := NewSession(1, 1, "Monza", TypeRace, "Race", time.Now())
	s.Stint[44] = stintFixture("soft", 1)
	s.CloseStint(44, stintFixture("medium", 2))

	assert.Len(t, s.StintHistory[44], 1)
	assert.Equal(t, "soft", s.StintHistory[44][0].Compound)
	assert.Equal(t, "medium", s.Stint[44].Compound)
}
