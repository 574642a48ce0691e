package events

import (
	"fmt"

	"github.com/pkg/errors"
)

// mqttTopicType maps an MQTT topic suffix (v1/<name>) to its normalized
// event type. OpenF1-exclusive topics (location, car_data, pit, lap,
// overtakes) have no SignalR analogue and are never suppressed by the
// arbiter.
var mqttTopicType = map[string]Type{
	"location":    TypeLocation,
	"laps":        TypeLap,
	"sessions":    TypeSession,
	"drivers":     TypeDrivers,
	"car_data":    TypeCarData,
	"intervals":   TypeInterval,
	"pit":         TypePit,
	"stints":      TypeStint,
	"position":    TypePosition,
	"race_control": TypeRaceControl,
	"weather":     TypeWeather,
	"overtakes":   TypeOvertake,
}

// ErrUnsupportedTopic is returned when a message arrives on a topic the
// Normalizer doesn't recognize. Per §7 this must never abort the stream —
// callers log it at verbose and discard the message.
var ErrUnsupportedTopic = errors.New("normalizer: unsupported topic")

// NormalizeMQTT converts a single decoded MQTT JSON payload (already
// json.Unmarshal'd into a map) on topic "v1/<name>" into an Event. Pure
// translation: no state mutation, no I/O.
func NormalizeMQTT(topicSuffix string, payload map[string]any, timestampMs int64) (Event, error) {
	typ, ok := mqttTopicType[topicSuffix]
	if !ok {
		return Event{}, errors.Wrapf(ErrUnsupportedTopic, "mqtt topic %q", topicSuffix)
	}

	ev := Event{
		Type:        typ,
		Data:        copyFields(payload),
		TimestampMs: timestampMs,
		Source:      SourceMQTT,
	}
	if dn, ok := intFromAny(payload["driver_number"]); ok {
		ev.DriverNumber = &dn
	}
	return ev, nil
}

// signalrTopicType maps a SignalR hub topic to its normalized event type.
var signalrTopicType = map[string]Type{
	"Heartbeat":            TypeClock,
	"ExtrapolatedClock":    TypeClock,
	"TimingData":           TypePosition,
	"TimingAppData":        TypeStint,
	"TimingStats":          TypeInterval,
	"DriverList":           TypeDrivers,
	"SessionInfo":          TypeSession,
	"SessionStatus":        TypeSession,
	"TrackStatus":          TypeRaceControl,
	"RaceControlMessages":  TypeRaceControl,
	"WeatherData":          TypeWeather,
	"LapCount":             TypeLapCount,
	"TeamRadio":            TypeTeamRadio,
	"SessionData":          TypeSessionData,
}

// NormalizeSignalR converts the *already deep-merged* accumulated shape
// for a topic into zero or more Events, one per driver when the merged
// shape fans out by driver number (e.g. TimingData's per-driver map),
// or a single event when it doesn't. Per §4.1 this is the only
// SignalR-specific fan-out site; the merge itself happens in
// signalr_merge.go before this is ever called.
func NormalizeSignalR(topic string, merged map[string]any, timestampMs int64) ([]Event, error) {
	typ, ok := signalrTopicType[topic]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedTopic, "signalr topic %q", topic)
	}

	if perDriver, ok := merged["Lines"].(map[string]any); ok && len(perDriver) > 0 {
		events := make([]Event, 0, len(perDriver))
		for driverKey, raw := range perDriver {
			fields, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			dn, err := driverNumberFromKey(driverKey)
			if err != nil {
				continue
			}
			ev := Event{
				Type:         typ,
				DriverNumber: &dn,
				Data:         copyFields(fields),
				TimestampMs:  timestampMs,
				Source:       SourceSignalR,
				SignalRTopic: topic,
			}
			events = append(events, ev)
		}
		return events, nil
	}

	return []Event{{
		Type:         typ,
		Data:         copyFields(merged),
		TimestampMs:  timestampMs,
		Source:       SourceSignalR,
		SignalRTopic: topic,
	}}, nil
}

func driverNumberFromKey(key string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(key, "%d", &n); err != nil {
		return 0, errors.Wrapf(err, "driver key %q is not numeric", key)
	}
	return n, nil
}

func copyFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func intFromAny(v any) (int, bool) {
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
