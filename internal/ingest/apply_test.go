package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackside/telemetry-core/internal/events"
	"github.com/trackside/telemetry-core/internal/session"
)

func newTestSession() *session.Session {
	return session.NewSession(1, 1, "Test Circuit", session.TypeRace, "Race", time.Now().Add(time.Hour))
}

func intPtr(n int) *int { return &n }

func TestApplyDrivers_PopulatesDriverInfo(t *testing.T) {
	s := newTestSession()
	ev := events.Event{
		Type:         events.TypeDrivers,
		DriverNumber: intPtr(44),
		Data: map[string]any{
			"name_acronym": "HAM",
			"full_name":    "Lewis Hamilton",
			"team_name":    "Mercedes",
			"team_colour":  "00D2BE",
		},
	}
	applyEvent(s, ev)
	info := s.Drivers[44]
	assert.Equal(t, "HAM", info.Acronym)
	assert.Equal(t, "Lewis Hamilton", info.FullName)
	assert.Equal(t, "Mercedes", info.Team)
}

func TestApplyLocation_AppendsPositionAndUpdatesCurrent(t *testing.T) {
	s := newTestSession()
	s.CurrentLap[44] = 3
	ev := events.Event{
		Type:         events.TypeLocation,
		DriverNumber: intPtr(44),
		Data:         map[string]any{"x": 10.0, "y": 20.0},
		TimestampMs:  1000,
	}
	applyEvent(s, ev)
	assert.Equal(t, 20.0, s.CurrentPosition[44].Y)
	require.Len(t, s.PositionHistory[44][3], 1)
}

func TestApplyLap_SetsCurrentLapAndStoresCompletedLap(t *testing.T) {
	s := newTestSession()
	ev := events.Event{
		Type:         events.TypeLap,
		DriverNumber: intPtr(44),
		Data: map[string]any{
			"lap_number":         2.0,
			"lap_duration":       91.234,
			"duration_sector_1":  28.1,
			"is_pit_out_lap":     false,
			"segments_sector_1":  []any{2048.0, 2048.0},
		},
	}
	applyEvent(s, ev)
	assert.Equal(t, 2, s.CurrentLap[44])
	lap, ok := s.CompletedLaps["44-2"]
	require.True(t, ok)
	assert.InDelta(t, 91.234, lap.DurationSec, 0.001)
	assert.Equal(t, []int{2048, 2048}, lap.Segments1)
}

func TestApplyLap_RejectsDecreasingLapNumber(t *testing.T) {
	s := newTestSession()
	s.CurrentLap[44] = 5
	applyEvent(s, events.Event{Type: events.TypeLap, DriverNumber: intPtr(44), Data: map[string]any{"lap_number": 3.0}})
	assert.Equal(t, 5, s.CurrentLap[44])
}

func TestApplyCarData_UpdatesTelemetry(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{
		Type:         events.TypeCarData,
		DriverNumber: intPtr(1),
		Data:         map[string]any{"speed": 320.0, "drs": true, "n_gear": 8.0},
	})
	telem := s.Telemetry[1]
	assert.Equal(t, 320.0, telem.Speed)
	assert.True(t, telem.DRS)
	assert.Equal(t, 8, telem.Gear)
}

func TestApplyPit_IncrementsCountOnEntryAndReversesDNFOnExit(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{Type: events.TypePit, DriverNumber: intPtr(1), Data: map[string]any{"in_pit": true}})
	assert.Equal(t, 1, s.Pit[1].Count)
	assert.True(t, s.Pit[1].InPit)

	applyEvent(s, events.Event{Type: events.TypePit, DriverNumber: intPtr(1), Data: map[string]any{"in_pit": false, "speed": 80.0}})
	assert.False(t, s.Pit[1].InPit)
	assert.Equal(t, 1, s.Pit[1].Count, "count only increments on pit entry, not exit")
}

func TestApplyStint_ClosesPriorStintOnNumberChange(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{Type: events.TypeStint, DriverNumber: intPtr(1), Data: map[string]any{"compound": "SOFT", "stint_number": 1.0}})
	applyEvent(s, events.Event{Type: events.TypeStint, DriverNumber: intPtr(1), Data: map[string]any{"compound": "MEDIUM", "stint_number": 2.0}})

	require.Len(t, s.StintHistory[1], 1)
	assert.Equal(t, "SOFT", s.StintHistory[1][0].Compound)
	assert.Equal(t, "MEDIUM", s.Stint[1].Compound)
}

func TestApplyRaceControl_TracksRedFlagAndSafetyCar(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{Type: events.TypeRaceControl, Data: map[string]any{"flag": "RED"}})
	assert.True(t, s.ActiveRedFlag)

	applyEvent(s, events.Event{Type: events.TypeRaceControl, Data: map[string]any{"flag": "GREEN"}})
	assert.False(t, s.ActiveRedFlag)

	applyEvent(s, events.Event{Type: events.TypeRaceControl, Data: map[string]any{"flag": "SAFETY_CAR"}})
	assert.True(t, s.ActiveSafetyCar)
}

func TestApplyRaceControl_RetiredMarksDNF(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{
		Type:         events.TypeRaceControl,
		DriverNumber: intPtr(7),
		Data:         map[string]any{"message": "car stopped on track", "retired": true},
	})
	assert.True(t, s.DNF.IsDNF(7))
}

func TestApplyWeather_RecordsCurrentAndFirstHistorySample(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{Type: events.TypeWeather, Data: map[string]any{"air_temperature": 24.5, "track_temperature": 38.0}, TimestampMs: 0})
	assert.InDelta(t, 24.5, s.Weather.AirTemp, 0.001)
	require.Len(t, s.WeatherHistory, 1)
}

func TestApplyOvertake_AppendsEvent(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{Type: events.TypeOvertake, Data: map[string]any{"overtaking_driver_number": 1.0, "overtaken_driver_number": 2.0}})
	require.Len(t, s.Overtakes, 1)
	assert.Equal(t, 1, s.Overtakes[0].OvertakingDriver)
	assert.Equal(t, 2, s.Overtakes[0].OvertakenDriver)
}

func TestApplyLapCount_SetsTotalLaps(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{Type: events.TypeLapCount, Data: map[string]any{"total_laps": 58.0}})
	require.NotNil(t, s.TotalLaps)
	assert.Equal(t, 58, *s.TotalLaps)
}

func TestApplyTeamRadio_AppendsEvent(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{Type: events.TypeTeamRadio, DriverNumber: intPtr(1), Data: map[string]any{"recording_url": "https://example/radio.mp3"}})
	require.Len(t, s.TeamRadio, 1)
	assert.Equal(t, 1, s.TeamRadio[0].DriverNumber)
}

func TestApplySessionData_AppendsOpaqueEvent(t *testing.T) {
	s := newTestSession()
	applyEvent(s, events.Event{Type: events.TypeSessionData, Data: map[string]any{"foo": "bar"}})
	require.Len(t, s.SessionData, 1)
}

func TestClockObserver_TracksLastSeenAndRedFlag(t *testing.T) {
	c := NewClockObserver()
	assert.True(t, c.LastSeen().IsZero())

	now := time.Now()
	c.Observe(now)
	assert.Equal(t, now, c.LastSeen())

	assert.False(t, c.FlagIsRed())
	c.SetRedFlag(true)
	assert.True(t, c.FlagIsRed())
}
