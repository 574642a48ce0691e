// Package aggregator computes per-driver live state (spec §4.5): the
// array of DriverLiveState emitted every 1000ms, tyre age, segment-array
// truncation for replay mode, and DNF inference (pit timeout, track
// stall, race-control permanent retirement).
package aggregator

// Telemetry mirrors a driver's current car telemetry (spec §3).
type Telemetry struct {
	Speed float64 `json:"speed"`
	DRS   bool    `json:"drs"`
	Gear  int     `json:"gear"`
}

// StintInfo is a driver's current tyre stint (spec §3).
type StintInfo struct {
	Compound      string
	StintNumber   int
	LapStart      int
	TyreAgeAtStart int
	TotalLaps     *int // SignalR-reported total laps on this set, when present
	Source        string
}

// PitInfo is a driver's pit status (spec §3).
type PitInfo struct {
	Count             int      `json:"count"`
	LastDurationSec   float64  `json:"lastDurationSec"`
	InPit             bool     `json:"inPit"`
	EntryPosition     *int     `json:"entryPosition,omitempty"`
	PitEntryLeaderLap *int     `json:"pitEntryLeaderLap,omitempty"`
}

// LapSectorSummary carries the latest completed lap's sector times and
// speed-trap speeds, used to populate DriverLiveState.
type LapSectorSummary struct {
	Sector1Sec float64 `json:"sector1Sec"`
	Sector2Sec float64 `json:"sector2Sec"`
	Sector3Sec float64 `json:"sector3Sec"`
	SpeedI1    float64 `json:"speedI1"`
	SpeedI2    float64 `json:"speedI2"`
	SpeedST    float64 `json:"speedST"`
}

// DriverLiveState is the per-driver payload emitted by the driver-states
// batcher every 1000ms (spec §4.5, §6).
type DriverLiveState struct {
	DriverNumber int               `json:"driverNumber"`
	X            float64           `json:"x"`
	Y            float64           `json:"y"`
	CurrentLap   int               `json:"currentLap"`
	LatestLap    *LapSectorSummary `json:"latestLap,omitempty"`
	Segments1    []int             `json:"segments1"`
	Segments2    []int             `json:"segments2"`
	Segments3    []int             `json:"segments3"`
	TyreCompound string            `json:"tyreCompound"`
	TyreAge      int               `json:"tyreAge"`
	Pit          PitInfo           `json:"pit"`
	PitStopCount int               `json:"pitStopCount"`
	Telemetry    Telemetry         `json:"telemetry"`
	Retired      bool              `json:"retired"`
}
