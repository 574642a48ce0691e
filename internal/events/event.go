// Package events defines the source-agnostic event schema that every
// upstream adapter normalizes into, and the Normalizer that builds it.
package events

import "time"

// Source identifies which upstream produced an InternalEvent.
type Source string

const (
	SourceMQTT    Source = "mqtt"
	SourceSignalR Source = "signalr"
	SourceReplay  Source = "replay"
)

// Type is the closed set of normalized event types (spec §4.1).
type Type string

const (
	TypeSession     Type = "session"
	TypeDrivers     Type = "drivers"
	TypeLocation    Type = "location"
	TypeLap         Type = "lap"
	TypeCarData     Type = "car_data"
	TypeInterval    Type = "interval"
	TypePit         Type = "pit"
	TypeStint       Type = "stint"
	TypePosition    Type = "position"
	TypeRaceControl Type = "race_control"
	TypeWeather     Type = "weather"
	TypeOvertake    Type = "overtake"
	TypeClock       Type = "clock"
	TypeLapCount    Type = "lapcount"
	TypeTeamRadio   Type = "team_radio"
	TypeSessionData Type = "session_data"
)

// Event is the normalized, source-agnostic representation every adapter
// produces. DriverNumber is nil for events that aren't driver-scoped.
// Data carries typed optional fields; absence of a key means "not present
// in this message", distinct from an explicit zero value.
type Event struct {
	Type          Type
	DriverNumber  *int
	Data          map[string]any
	TimestampMs   int64
	Source        Source
	SignalRTopic  string // set only for Source==SourceSignalR, used by the arbiter
}

// Timestamp returns the event's wall-clock time.
func (e Event) Timestamp() time.Time {
	return time.UnixMilli(e.TimestampMs)
}

// IntField reads an int field from Data, returning (0, false) if absent
// or of the wrong type — callers must check ok, never assume a default
// means "absent".
func (e Event) IntField(key string) (int, bool) {
	v, ok := e.Data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Float64Field reads a float64 field from Data.
func (e Event) Float64Field(key string) (float64, bool) {
	v, ok := e.Data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// StringField reads a string field from Data.
func (e Event) StringField(key string) (string, bool) {
	v, ok := e.Data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolField reads a bool field from Data.
func (e Event) BoolField(key string) (bool, bool) {
	v, ok := e.Data[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
