// Package session implements the Session state (spec §3) and Session
// Controller (spec §4.3): the authoritative in-memory model of the
// active session, and the Idle/Active/Ending lifecycle that drives it.
// Session state is owned by a single writer (Design Notes §9); callers
// outside the writer must only read snapshots (see Snapshot()).
package session

import (
	"fmt"
	"time"

	"github.com/trackside/telemetry-core/internal/aggregator"
	"github.com/trackside/telemetry-core/internal/geometry"
)

// Type is the kind of session (spec §3).
type Type string

const (
	TypeRace        Type = "race"
	TypeSprint      Type = "sprint"
	TypeQualifying  Type = "qualifying"
	TypePractice    Type = "practice"
	TypeDemo        Type = "demo"
)

// DriverInfo is static per-driver metadata (spec §3).
type DriverInfo struct {
	Acronym     string
	FullName    string
	Team        string
	TeamColour  string
	HeadshotURL string
}

// PositionSample is one GPS fix within a driver's per-lap position
// history (spec §3).
type PositionSample struct {
	X, Y        float64
	Timestamp   time.Time
}

// Lap is a completed lap record (spec §3).
type Lap struct {
	DurationSec float64
	Sector1Sec  float64
	Sector2Sec  float64
	Sector3Sec  float64
	Segments1   []int
	Segments2   []int
	Segments3   []int
	SpeedI1     float64
	SpeedI2     float64
	SpeedST     float64
	IsPitOutLap bool
	DateStart   time.Time
}

// completeness scores how much data a Lap record carries, used to decide
// whether an incoming update may overwrite a stored one (spec invariant:
// completedLaps is never overwritten with an older version carrying
// strictly less data).
func (l Lap) completeness() int {
	score := 0
	if l.DurationSec > 0 {
		score++
	}
	if l.Sector1Sec > 0 {
		score++
	}
	if l.Sector2Sec > 0 {
		score++
	}
	if l.Sector3Sec > 0 {
		score++
	}
	if len(l.Segments1) > 0 {
		score++
	}
	if len(l.Segments2) > 0 {
		score++
	}
	if len(l.Segments3) > 0 {
		score++
	}
	if l.SpeedI1 > 0 {
		score++
	}
	if l.SpeedI2 > 0 {
		score++
	}
	if l.SpeedST > 0 {
		score++
	}
	return score
}

// Interval is a driver's gap data (spec §3). For the gap to the leader and
// the interval to the car ahead alike, exactly one of the *Seconds value
// or the *LapString is meaningful, matching the spec's "either numeric
// seconds or a lap-difference string".
type Interval struct {
	GapToLeaderSeconds    *float64
	GapToLeaderLapString  string
	IntervalAheadSeconds  *float64
	IntervalAheadLapString string
}

// WeatherInfo is the current weather sample (spec §3).
type WeatherInfo struct {
	AirTemp   float64
	TrackTemp float64
	Humidity  float64
	Rainfall  bool
	WindSpeed float64
	WindDir   float64
	Pressure  float64
}

// WeatherSample is a timestamped historical weather observation (spec §3,
// sampled at >=5 minute spacing).
type WeatherSample struct {
	WeatherInfo
	Timestamp time.Time
}

// WeatherHistorySpacing is the minimum gap between stored weather history
// samples (spec §3).
const WeatherHistorySpacing = 5 * time.Minute

// RaceControlEvent, OvertakeEvent, TeamRadioEvent, SessionDataEvent are
// opaque ordered event records (spec §3); payload shape mirrors the
// upstream message verbatim since no derived computation reads into it.
type RaceControlEvent struct {
	Timestamp time.Time
	Message   string
	Flag      string
	DriverNumber *int
}

type OvertakeEvent struct {
	Timestamp         time.Time
	OvertakingDriver  int
	OvertakenDriver   int
}

type TeamRadioEvent struct {
	Timestamp    time.Time
	DriverNumber int
	AudioURL     string
}

type SessionDataEvent struct {
	Timestamp time.Time
	Data      map[string]any
}

// Session is the authoritative in-memory model of the one active session
// (spec §3). Mutated only by the writer goroutine (Controller.writeLoop); all
// other access must go through Snapshot().
type Session struct {
	SessionKey  int
	MeetingKey  int
	TrackName   string
	SessionType Type
	SessionName string
	DateEndTs   time.Time

	Drivers         map[int]DriverInfo
	PositionHistory map[int]map[int][]PositionSample // driver -> lap -> samples
	CurrentPosition map[int]geometry.Point
	CurrentLap      map[int]int
	CompletedLaps   map[string]Lap // key "<driver>-<lap>"

	SessionBestLapSec float64
	DriverBestLapSec   map[int]float64
	RacePosition       map[int]int
	Intervals          map[int]Interval

	Stint        map[int]aggregator.StintInfo
	StintHistory map[int][]aggregator.StintInfo
	Pit          map[int]aggregator.PitInfo
	Telemetry    map[int]aggregator.Telemetry

	Weather        WeatherInfo
	WeatherHistory []WeatherSample

	RaceControl []RaceControlEvent
	Overtakes   []OvertakeEvent
	TeamRadio   []TeamRadioEvent
	SessionData []SessionDataEvent

	BaselinePath     geometry.Path
	MultiviewerPath  geometry.Path
	BaselineArc      []float64
	MultiviewerArc   []float64
	Corners          []geometry.Point
	SectorBoundaries geometry.SectorBoundaries
	SectorsReady     bool
	PitLaneProfile   geometry.PitLaneProfile
	PitLaneReady     bool

	DNF             *aggregator.Tracker
	ActiveSafetyCar bool
	ActiveRedFlag   bool
	TotalLaps       *int

	// FastLapTraces and SectorLaps accumulate evidence for the Track
	// Geometry Engine's centerline/sector rebuilds (spec §4.4); PitLaneTrace
	// buffers a driver's GPS+speed trace while InPit, finalized into
	// PitStopObservations on pit exit.
	FastLapTraces       []geometry.LapTrace
	SectorLaps          []geometry.SectorLap
	PitLaneTrace        map[int][]geometry.TimedSpeedPoint
	PitStopObservations []geometry.PitStopObservation

	// GeometryDirty marks that BaselinePath, SectorBoundaries or
	// PitLaneProfile changed since the last trackmap persistence pass;
	// cleared by whoever performs that pass (spec §4.7 "keeps the stored
	// track map current").
	GeometryDirty bool
}

// NewSession allocates an empty Session for the given key/window.
func NewSession(sessionKey, meetingKey int, trackName string, sessionType Type, sessionName string, dateEndTs time.Time) *Session {
	return &Session{
		SessionKey:      sessionKey,
		MeetingKey:      meetingKey,
		TrackName:       trackName,
		SessionType:     sessionType,
		SessionName:     sessionName,
		DateEndTs:       dateEndTs,
		Drivers:         make(map[int]DriverInfo),
		PositionHistory: make(map[int]map[int][]PositionSample),
		CurrentPosition: make(map[int]geometry.Point),
		CurrentLap:      make(map[int]int),
		CompletedLaps:   make(map[string]Lap),
		DriverBestLapSec: make(map[int]float64),
		RacePosition:    make(map[int]int),
		Intervals:       make(map[int]Interval),
		Stint:           make(map[int]aggregator.StintInfo),
		StintHistory:    make(map[int][]aggregator.StintInfo),
		Pit:             make(map[int]aggregator.PitInfo),
		Telemetry:       make(map[int]aggregator.Telemetry),
		DNF:             aggregator.NewTracker(),
		PitLaneTrace:    make(map[int][]geometry.TimedSpeedPoint),
	}
}

func completedLapKey(driverNumber, lapNumber int) string {
	return fmt.Sprintf("%d-%d", driverNumber, lapNumber)
}

// CompletedLapKey returns the CompletedLaps map key for (driverNumber,
// lapNumber), exported for callers outside this package (the batcher's
// driver-states tick) that need to look up a specific driver's lap record.
func CompletedLapKey(driverNumber, lapNumber int) string {
	return completedLapKey(driverNumber, lapNumber)
}

// LeaderLap approximates the current race leader's lap number as the
// highest lap number any driver has reached. Upstream never publishes a
// distinct "leader lap" field; DNF timeout/stall evaluation (spec §4.5)
// is defined relative to it, so this is the nearest derivable proxy.
func (s *Session) LeaderLap() int {
	max := 0
	for _, lap := range s.CurrentLap {
		if lap > max {
			max = lap
		}
	}
	return max
}

// SetCurrentLap applies a driver's current-lap number, enforcing the
// monotone-non-decreasing invariant (spec §3, §8 property #1). Returns
// whether the value was applied (false if it would have decreased).
func (s *Session) SetCurrentLap(driverNumber, lap int) bool {
	if existing, ok := s.CurrentLap[driverNumber]; ok && lap < existing {
		return false
	}
	s.CurrentLap[driverNumber] = lap
	return true
}

// UpsertCompletedLap stores a completed lap keyed by (driver,lap),
// applying the progressive-update invariant: an incoming record that
// carries strictly less data than what's stored is rejected; otherwise
// it replaces the stored value (spec §3 invariant, S2 scenario).
func (s *Session) UpsertCompletedLap(driverNumber, lapNumber int, lap Lap) {
	key := completedLapKey(driverNumber, lapNumber)
	if existing, ok := s.CompletedLaps[key]; ok && lap.completeness() < existing.completeness() {
		return
	}
	s.CompletedLaps[key] = lap

	if lap.DurationSec > 0 && (s.SessionBestLapSec == 0 || lap.DurationSec < s.SessionBestLapSec) {
		s.SessionBestLapSec = lap.DurationSec
	}
	if lap.DurationSec > 0 {
		if best, ok := s.DriverBestLapSec[driverNumber]; !ok || lap.DurationSec < best {
			s.DriverBestLapSec[driverNumber] = lap.DurationSec
		}
	}
}

// AppendPosition records a GPS fix in the driver's per-lap position
// history and updates CurrentPosition (last-write-wins, spec §3).
func (s *Session) AppendPosition(driverNumber, lap int, x, y float64, ts time.Time) {
	if s.PositionHistory[driverNumber] == nil {
		s.PositionHistory[driverNumber] = make(map[int][]PositionSample)
	}
	s.PositionHistory[driverNumber][lap] = append(s.PositionHistory[driverNumber][lap], PositionSample{X: x, Y: y, Timestamp: ts})
	s.CurrentPosition[driverNumber] = geometry.Point{X: x, Y: y}
}

// SetBaselinePath installs a newly built centerline, snapping the closure
// invariant and recomputing the arc-length cache (spec invariants).
func (s *Session) SetBaselinePath(path geometry.Path) {
	if len(path) == 0 {
		return
	}
	closed := make(geometry.Path, len(path))
	copy(closed, path)
	closed[len(closed)-1] = closed[0]
	s.BaselinePath = closed
	s.BaselineArc = geometry.ArcLengthTable(closed)
}

// SetMultiviewerPath installs the optional high-fidelity display path.
func (s *Session) SetMultiviewerPath(path geometry.Path) {
	s.MultiviewerPath = path
	s.MultiviewerArc = geometry.ArcLengthTable(path)
}

// RecordWeather appends to weather history only if at least
// WeatherHistorySpacing has elapsed since the last sample (spec §3).
func (s *Session) RecordWeather(w WeatherInfo, ts time.Time) {
	s.Weather = w
	if len(s.WeatherHistory) > 0 {
		last := s.WeatherHistory[len(s.WeatherHistory)-1]
		if ts.Sub(last.Timestamp) < WeatherHistorySpacing {
			return
		}
	}
	s.WeatherHistory = append(s.WeatherHistory, WeatherSample{WeatherInfo: w, Timestamp: ts})
}

// CloseStint archives the driver's current stint into StintHistory and
// installs the new one (spec §3: "close-out on new stint").
func (s *Session) CloseStint(driverNumber int, next aggregator.StintInfo) {
	if prev, ok := s.Stint[driverNumber]; ok {
		s.StintHistory[driverNumber] = append(s.StintHistory[driverNumber], prev)
	}
	s.Stint[driverNumber] = next
}

// InWindow reports whether now falls within [start,end] — used by
// ingest.SessionDiscoverer to detect a currently-in-progress upstream session.
func InWindow(now, start, end time.Time) bool {
	return !now.Before(start) && !now.After(end)
}
