package ingest

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackside/telemetry-core/internal/aggregator"
	"github.com/trackside/telemetry-core/internal/events"
	"github.com/trackside/telemetry-core/internal/geometry"
	"github.com/trackside/telemetry-core/internal/persistence"
	"github.com/trackside/telemetry-core/internal/session"
)

// Applier submits normalized events onto the Session Controller's single
// writer as mutation closures (spec data flow: "Arbiter -> State
// mutation"). It implements replay.Sink so the Replay Engine can inject
// into the identical code path a live adapter uses.
type Applier struct {
	log        zerolog.Logger
	controller *session.Controller
	clock      *ClockObserver
	normalizer *Normalizer
}

// NewApplier returns an Applier bound to controller. clock, if non-nil,
// is updated whenever a clock/heartbeat event passes through, letting the
// batcher's fallback-clock tick (internal/batch) know real upstream
// freshness.
func NewApplier(log zerolog.Logger, controller *session.Controller, clock *ClockObserver) *Applier {
	return &Applier{
		log:        log.With().Str("component", "applier").Logger(),
		controller: controller,
		clock:      clock,
		normalizer: NewNormalizer(),
	}
}

// Apply submits ev for application to the live session. A non-nil error
// most commonly means the controller is not currently Active; callers
// should not treat this as fatal since ingestion continues independent
// of session lifecycle.
func (a *Applier) Apply(ev events.Event) error {
	if a.clock != nil {
		if ev.Type == events.TypeClock {
			a.clock.Observe(time.Now())
		}
		if ev.Type == events.TypeRaceControl {
			if flag, ok := ev.StringField("flag"); ok {
				switch flag {
				case "RED":
					a.clock.SetRedFlag(true)
				case "GREEN", "CLEAR":
					a.clock.SetRedFlag(false)
				}
			}
		}
	}
	return a.controller.Enqueue(func(s *session.Session) {
		applyEvent(s, ev)
	})
}

// HandleReplayMessage implements replay.Sink: decode and apply exactly as
// a live adapter's raw message would be.
func (a *Applier) HandleReplayMessage(msg persistence.ReplayMessage) {
	evs, ok := a.normalizer.NormalizeReplay(msg)
	if !ok {
		return
	}
	for _, ev := range evs {
		if err := a.Apply(ev); err != nil {
			a.log.Debug().Err(err).Str("event_type", string(ev.Type)).Msg("replay event dropped")
		}
	}
}

func applyEvent(s *session.Session, ev events.Event) {
	switch ev.Type {
	case events.TypeDrivers:
		applyDrivers(s, ev)
	case events.TypeLocation:
		applyLocation(s, ev)
	case events.TypeLap:
		applyLap(s, ev)
	case events.TypeCarData:
		applyCarData(s, ev)
	case events.TypeInterval:
		applyInterval(s, ev)
	case events.TypePosition:
		applyPosition(s, ev)
	case events.TypePit:
		applyPit(s, ev)
	case events.TypeStint:
		applyStint(s, ev)
	case events.TypeRaceControl:
		applyRaceControl(s, ev)
	case events.TypeWeather:
		applyWeather(s, ev)
	case events.TypeOvertake:
		applyOvertake(s, ev)
	case events.TypeLapCount:
		applyLapCount(s, ev)
	case events.TypeTeamRadio:
		applyTeamRadio(s, ev)
	case events.TypeSession, events.TypeSessionData:
		applySessionData(s, ev)
	case events.TypeClock:
		// handled directly by the batcher's fallback clock and the live
		// broadcaster path; no session state to mutate.
	}
}

func applyDrivers(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	info := session.DriverInfo{}
	info.Acronym, _ = ev.StringField("name_acronym")
	info.FullName, _ = ev.StringField("full_name")
	info.Team, _ = ev.StringField("team_name")
	info.TeamColour, _ = ev.StringField("team_colour")
	info.HeadshotURL, _ = ev.StringField("headshot_url")
	s.Drivers[*ev.DriverNumber] = info
}

func applyLocation(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	x, xok := ev.Float64Field("x")
	y, yok := ev.Float64Field("y")
	if !xok || !yok {
		return
	}
	lap := s.CurrentLap[*ev.DriverNumber]
	s.AppendPosition(*ev.DriverNumber, lap, x, y, ev.Timestamp())

	if pit := s.Pit[*ev.DriverNumber]; pit.InPit {
		speed := s.Telemetry[*ev.DriverNumber].Speed
		driver := *ev.DriverNumber
		s.PitLaneTrace[driver] = append(s.PitLaneTrace[driver], geometry.TimedSpeedPoint{
			Point:    geometry.Point{X: x, Y: y},
			SpeedKmh: speed,
		})
	}
}

func applyLap(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	lapNumber, ok := ev.IntField("lap_number")
	if !ok {
		return
	}
	s.SetCurrentLap(*ev.DriverNumber, lapNumber)

	lap := session.Lap{}
	lap.DurationSec, _ = ev.Float64Field("lap_duration")
	lap.Sector1Sec, _ = ev.Float64Field("duration_sector_1")
	lap.Sector2Sec, _ = ev.Float64Field("duration_sector_2")
	lap.Sector3Sec, _ = ev.Float64Field("duration_sector_3")
	lap.SpeedI1, _ = ev.Float64Field("i1_speed")
	lap.SpeedI2, _ = ev.Float64Field("i2_speed")
	lap.SpeedST, _ = ev.Float64Field("st_speed")
	lap.IsPitOutLap, _ = ev.BoolField("is_pit_out_lap")
	if segs, ok := intSliceField(ev, "segments_sector_1"); ok {
		lap.Segments1 = segs
	}
	if segs, ok := intSliceField(ev, "segments_sector_2"); ok {
		lap.Segments2 = segs
	}
	if segs, ok := intSliceField(ev, "segments_sector_3"); ok {
		lap.Segments3 = segs
	}
	lap.DateStart = ev.Timestamp()

	s.UpsertCompletedLap(*ev.DriverNumber, lapNumber, lap)
	recordFastLapEvidence(s, *ev.DriverNumber, lapNumber, lap)

	if pit := s.Pit[*ev.DriverNumber]; pit.InPit && pit.PitEntryLeaderLap != nil {
		s.DNF.EvaluatePitTimeout(*ev.DriverNumber, true, *pit.PitEntryLeaderLap, s.LeaderLap())
	}
}

// minFastLapsForCenterline is how many fast-lap traces must accumulate
// before a centerline rebuild is attempted (spec §4.4).
const minFastLapsForCenterline = 5

// maxGeometryEvidence bounds how many fast-lap/sector-lap traces feed
// geometry rebuilds, so a long session's evidence doesn't grow unbounded;
// the spec leaves the retention window to the implementation.
const maxGeometryEvidence = 40

// recordFastLapEvidence appends lapNumber's position trace to the Track
// Geometry Engine's evidence pools when it qualifies as a fast lap (spec
// §4.4), then attempts a rebuild of whichever geometry products are ready.
func recordFastLapEvidence(s *session.Session, driverNumber, lapNumber int, lap session.Lap) {
	samples := s.PositionHistory[driverNumber][lapNumber]
	if !geometry.IsFastLap(lap.DurationSec, s.SessionBestLapSec, lap.IsPitOutLap, len(samples) > 0) {
		return
	}

	gsamples := make([]geometry.Sample, len(samples))
	for i, p := range samples {
		gsamples[i] = geometry.Sample{Point: geometry.Point{X: p.X, Y: p.Y}, TimestampMs: p.Timestamp.UnixMilli()}
	}

	s.FastLapTraces = append(s.FastLapTraces, geometry.LapTrace{
		DriverNumber: driverNumber,
		Samples:      gsamples,
		DurationSec:  lap.DurationSec,
		IsPitOutLap:  lap.IsPitOutLap,
	})
	if len(s.FastLapTraces) > maxGeometryEvidence {
		s.FastLapTraces = s.FastLapTraces[len(s.FastLapTraces)-maxGeometryEvidence:]
	}

	s.SectorLaps = append(s.SectorLaps, geometry.SectorLap{
		DriverNumber: driverNumber,
		DurationSec:  lap.DurationSec,
		Sector1Sec:   lap.Sector1Sec,
		Sector2Sec:   lap.Sector2Sec,
		Sector3Sec:   lap.Sector3Sec,
		Samples:      gsamples,
	})
	if len(s.SectorLaps) > maxGeometryEvidence {
		s.SectorLaps = s.SectorLaps[len(s.SectorLaps)-maxGeometryEvidence:]
	}

	rebuildGeometry(s)
}

// rebuildGeometry re-derives the baseline centerline, sector boundaries and
// pit lane profile from whatever evidence has accumulated so far. Each
// algorithm leaves the prior result in place on failure (spec §4.4:
// "algorithm returns none, caller leaves prior result intact").
func rebuildGeometry(s *session.Session) {
	if len(s.FastLapTraces) >= minFastLapsForCenterline {
		if path, ok := geometry.BuildCenterline(s.FastLapTraces, geometry.DefaultBuildCenterlineConfig()); ok {
			if len(s.BaselinePath) > 0 && geometry.DetectLayoutChange(s.BaselinePath, path, geometry.DefaultLayoutChangeConfig()) {
				// evidence gathered against the old layout no longer applies
				s.FastLapTraces = nil
				s.SectorLaps = nil
				s.SectorsReady = false
			}
			s.SetBaselinePath(path)
			s.GeometryDirty = true
		}
	}

	if len(s.BaselinePath) > 1 && len(s.SectorLaps) > 0 {
		if bounds, _, ok := geometry.DeriveSectorBoundaries(s.SectorLaps, s.BaselinePath, s.BaselineArc); ok {
			s.SectorBoundaries = bounds
			s.SectorsReady = true
			s.GeometryDirty = true
		}
	}

	if len(s.BaselinePath) > 1 && len(s.PitStopObservations) > 0 {
		if profile, ok := geometry.AggregatePitLaneProfile(s.PitStopObservations, s.BaselinePath, s.BaselineArc, geometry.DefaultPitSpeedLimit, geometry.DefaultPitSpeedMargin); ok {
			s.PitLaneProfile = profile
			s.PitLaneReady = true
			s.GeometryDirty = true
		}
	}
}

func intSliceField(ev events.Event, key string) ([]int, bool) {
	raw, ok := ev.Data[key]
	if !ok {
		return nil, false
	}
	values, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(values))
	for _, v := range values {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out, true
}

func applyCarData(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	t := aggregator.Telemetry{}
	t.Speed, _ = ev.Float64Field("speed")
	t.DRS, _ = ev.BoolField("drs")
	if gear, ok := ev.IntField("n_gear"); ok {
		t.Gear = gear
	}
	s.Telemetry[*ev.DriverNumber] = t

	pit := s.Pit[*ev.DriverNumber]
	s.DNF.EvaluateTrackStall(*ev.DriverNumber, t.Speed, pit.InPit, s.ActiveRedFlag, s.LeaderLap())
}

func applyInterval(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	interval := session.Interval{}
	if v, ok := ev.Float64Field("gap_to_leader_seconds"); ok {
		interval.GapToLeaderSeconds = &v
	}
	interval.GapToLeaderLapString, _ = ev.StringField("gap_to_leader")
	if v, ok := ev.Float64Field("interval_ahead_seconds"); ok {
		interval.IntervalAheadSeconds = &v
	}
	interval.IntervalAheadLapString, _ = ev.StringField("interval")
	s.Intervals[*ev.DriverNumber] = interval

	if position, ok := ev.IntField("race_position"); ok {
		s.RacePosition[*ev.DriverNumber] = position
	}
}

func applyPosition(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	if position, ok := ev.IntField("position"); ok {
		s.RacePosition[*ev.DriverNumber] = position
	}
}

func applyPit(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	pit := s.Pit[*ev.DriverNumber]
	wasInPit := pit.InPit
	if inPit, ok := ev.BoolField("in_pit"); ok {
		pit.InPit = inPit
		if inPit && !wasInPit {
			pit.Count++
		}
	}
	if d, ok := ev.Float64Field("pit_duration"); ok {
		pit.LastDurationSec = d
	}
	if v, ok := ev.IntField("entry_position"); ok {
		pit.EntryPosition = &v
	}
	if v, ok := ev.IntField("pit_entry_leader_lap"); ok {
		pit.PitEntryLeaderLap = &v
	}
	s.Pit[*ev.DriverNumber] = pit

	if !pit.InPit {
		if speed, ok := ev.Float64Field("speed"); ok {
			s.DNF.ReverseOnPitExit(*ev.DriverNumber, speed, pitExitSpeedThreshold)
		}
		if wasInPit {
			finalizePitStopObservation(s, *ev.DriverNumber)
		}
	}
}

// finalizePitStopObservation converts a driver's buffered pit-lane trace
// into a geometry.PitStopObservation on pit exit and attempts a pit lane
// profile rebuild (spec §4.4).
func finalizePitStopObservation(s *session.Session, driverNumber int) {
	trace := s.PitLaneTrace[driverNumber]
	delete(s.PitLaneTrace, driverNumber)
	if len(trace) == 0 {
		return
	}
	s.PitStopObservations = append(s.PitStopObservations, geometry.PitStopObservation{
		DriverNumber: driverNumber,
		LaneTrace:    trace,
	})
	if len(s.PitStopObservations) > maxGeometryEvidence {
		s.PitStopObservations = s.PitStopObservations[len(s.PitStopObservations)-maxGeometryEvidence:]
	}
	rebuildGeometry(s)
}

// pitExitSpeedThreshold is the minimum speed (km/h) after a pit exit that
// reverses a prior timeout-based DNF inference (spec §3: "a timeout-based
// DNF is reversible if the driver resumes motion").
const pitExitSpeedThreshold = 30.0

func applyStint(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	next := aggregator.StintInfo{Source: "signalr"}
	next.Compound, _ = ev.StringField("compound")
	next.StintNumber, _ = ev.IntField("stint_number")
	next.LapStart, _ = ev.IntField("lap_start")
	next.TyreAgeAtStart, _ = ev.IntField("tyre_age_at_start")
	if v, ok := ev.IntField("total_laps"); ok {
		next.TotalLaps = &v
	}

	if existing, ok := s.Stint[*ev.DriverNumber]; ok && existing.StintNumber != next.StintNumber {
		s.CloseStint(*ev.DriverNumber, next)
	} else {
		s.Stint[*ev.DriverNumber] = next
	}
}

func applyRaceControl(s *session.Session, ev events.Event) {
	rc := session.RaceControlEvent{Timestamp: ev.Timestamp()}
	rc.Message, _ = ev.StringField("message")
	rc.Flag, _ = ev.StringField("flag")
	rc.DriverNumber = ev.DriverNumber
	s.RaceControl = append(s.RaceControl, rc)

	switch rc.Flag {
	case "RED":
		s.ActiveRedFlag = true
	case "GREEN", "CLEAR":
		s.ActiveRedFlag = false
	case "SAFETY_CAR", "VIRTUAL_SAFETY_CAR":
		s.ActiveSafetyCar = true
	case "SAFETY_CAR_ENDING", "GREEN_FLAG":
		s.ActiveSafetyCar = false
	}
	if retired, ok := ev.BoolField("retired"); ok && retired && ev.DriverNumber != nil {
		s.DNF.MarkRaceControlDNF(*ev.DriverNumber, rc.Message)
	}
}

func applyWeather(s *session.Session, ev events.Event) {
	w := session.WeatherInfo{}
	w.AirTemp, _ = ev.Float64Field("air_temperature")
	w.TrackTemp, _ = ev.Float64Field("track_temperature")
	w.Humidity, _ = ev.Float64Field("humidity")
	w.Rainfall, _ = ev.BoolField("rainfall")
	w.WindSpeed, _ = ev.Float64Field("wind_speed")
	w.WindDir, _ = ev.Float64Field("wind_direction")
	w.Pressure, _ = ev.Float64Field("pressure")
	s.RecordWeather(w, ev.Timestamp())
}

func applyOvertake(s *session.Session, ev events.Event) {
	overtaking, ok1 := ev.IntField("overtaking_driver_number")
	overtaken, ok2 := ev.IntField("overtaken_driver_number")
	if !ok1 || !ok2 {
		return
	}
	s.Overtakes = append(s.Overtakes, session.OvertakeEvent{
		Timestamp:        ev.Timestamp(),
		OvertakingDriver: overtaking,
		OvertakenDriver:  overtaken,
	})
}

func applyLapCount(s *session.Session, ev events.Event) {
	if n, ok := ev.IntField("total_laps"); ok {
		s.TotalLaps = &n
	}
}

func applyTeamRadio(s *session.Session, ev events.Event) {
	if ev.DriverNumber == nil {
		return
	}
	url, _ := ev.StringField("recording_url")
	s.TeamRadio = append(s.TeamRadio, session.TeamRadioEvent{
		Timestamp:    ev.Timestamp(),
		DriverNumber: *ev.DriverNumber,
		AudioURL:     url,
	})
}

func applySessionData(s *session.Session, ev events.Event) {
	s.SessionData = append(s.SessionData, session.SessionDataEvent{
		Timestamp: ev.Timestamp(),
		Data:      ev.Data,
	})
}

// ClockObserver tracks the last time a genuine upstream clock event was
// seen, read by the batcher's fallback-clock tick (spec §4.6: "only fires
// if real upstream clock has been silent > 15s").
type ClockObserver struct {
	mu       sync.Mutex
	lastSeen time.Time
	redFlag  bool
}

// NewClockObserver returns an observer that has never seen a clock event.
func NewClockObserver() *ClockObserver {
	return &ClockObserver{}
}

// Observe records that a clock event arrived at t.
func (c *ClockObserver) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = t
}

// SetRedFlag records the latest known red-flag state, surfaced in the
// fallback clock payload so clients know why the countdown may be frozen.
func (c *ClockObserver) SetRedFlag(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redFlag = active
}

// LastSeen and FlagIsRed satisfy the shape batch.ClockObservation expects.
func (c *ClockObserver) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *ClockObserver) FlagIsRed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redFlag
}
