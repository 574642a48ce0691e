package ingest

import (
	"encoding/json"

	"github.com/trackside/telemetry-core/internal/events"
	"github.com/trackside/telemetry-core/internal/geometry"
	"github.com/trackside/telemetry-core/internal/persistence"
)

// Normalizer turns adapter-agnostic RawMessages into events.Event,
// delegating topic tables and SignalR deep-merge semantics to the events
// package (events.NormalizeMQTT/NormalizeSignalR). It owns the one piece
// of state that belongs at the adapter boundary rather than in the
// source-agnostic Normalizer itself: the SignalR accumulator, since each
// live connection (or replay run) needs its own independent merge state.
type Normalizer struct {
	signalR *events.SignalRAccumulator
}

// NewNormalizer returns a Normalizer with a fresh SignalR accumulator.
func NewNormalizer() *Normalizer {
	return &Normalizer{signalR: events.NewSignalRAccumulator()}
}

// NormalizeMQTT decodes msg.Data as JSON and converts it via the shared
// MQTT topic table. Unknown topics are dropped rather than falling back
// to TypeSessionData, since events.NormalizeMQTT already treats an
// unrecognized topic as an explicit error (spec §7: never abort, but also
// never fabricate a type for traffic the vocabulary doesn't name).
func (n *Normalizer) NormalizeMQTT(msg RawMessage) (events.Event, bool) {
	payload, ok := decodeObject(msg.Data)
	if !ok {
		return events.Event{}, false
	}
	ev, err := events.NormalizeMQTT(msg.Topic, payload, msg.TimestampMillis)
	if err != nil {
		return events.Event{}, false
	}
	return ev, true
}

// NormalizeSignalR merges msg's payload into the topic's accumulated
// shape and converts the result, possibly fanning out into one Event per
// driver (spec §4.1).
func (n *Normalizer) NormalizeSignalR(msg RawMessage) ([]events.Event, bool) {
	payload, ok := decodeObject(msg.Data)
	if !ok {
		return nil, false
	}
	merged := n.signalR.Merge(msg.Topic, payload)
	evs, err := events.NormalizeSignalR(msg.Topic, merged, msg.TimestampMillis)
	if err != nil {
		return nil, false
	}
	return evs, true
}

// NormalizeReplay converts a recorded raw message, trying the MQTT table
// first and falling back to the (stateful) SignalR path — a replay
// recording may contain either, interleaved, depending on which upstream
// produced the original live session.
func (n *Normalizer) NormalizeReplay(msg persistence.ReplayMessage) ([]events.Event, bool) {
	raw := RawMessage{Topic: msg.Topic, Data: msg.Data, TimestampMillis: msg.TimestampMillis}
	if ev, ok := n.NormalizeMQTT(raw); ok {
		ev.Source = events.SourceReplay
		return []events.Event{ev}, true
	}
	evs, ok := n.NormalizeSignalR(raw)
	if !ok {
		return nil, false
	}
	for i := range evs {
		evs[i].Source = events.SourceReplay
	}
	return evs, true
}

func decodeObject(data string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, false
	}
	return m, true
}

// IdentifyDriver extracts the driver number a replay message pertains to,
// for the Replay Engine's preamble fast-forward (spec §4.8 step 4). It is
// wired as a replay.DriverIdentifier. Each call normalizes independently
// (no shared accumulator across calls) since the messages this is used
// for — location/position samples — carry a full driverNumber on OpenF1's
// MQTT wire shape and never need SignalR's cross-message merge.
func IdentifyDriver(msg persistence.ReplayMessage) (int, bool) {
	raw := RawMessage{Topic: msg.Topic, Data: msg.Data, TimestampMillis: msg.TimestampMillis}
	n := NewNormalizer()
	ev, ok := n.NormalizeMQTT(raw)
	if !ok || ev.DriverNumber == nil {
		return 0, false
	}
	return *ev.DriverNumber, true
}

// minTraceSamples is the minimum sample count BuildCenterline requires
// before a trace is usable, mirrored here to skip short ones up front.
const minTraceSamples = 10

// BuildTrackFromReplay builds a GPS centerline from a replay's own
// location messages, grouped per (driver, lap). Wired as a
// replay.TrackBuilder (spec §4.8 step 2: "build GPS track synchronously
// from the replay's own lap+location subset"). Like IdentifyDriver, this
// only looks at OpenF1-shaped location/laps/position topics — a
// simplification against the live pipeline's IsFastLap-filtered trace
// selection, since a pure replay-message scan has no session-best-lap
// reference to filter against yet.
func BuildTrackFromReplay(messages []persistence.ReplayMessage) (geometry.Path, bool) {
	type key struct {
		driver, lap int
	}
	traceSamples := make(map[key][]geometry.Sample)
	driverLap := make(map[int]int)
	n := NewNormalizer()

	for _, m := range messages {
		raw := RawMessage{Topic: m.Topic, Data: m.Data, TimestampMillis: m.TimestampMillis}
		ev, ok := n.NormalizeMQTT(raw)
		if !ok || ev.DriverNumber == nil {
			continue
		}
		switch ev.Type {
		case events.TypeLap:
			if lapNumber, ok := ev.IntField("lap_number"); ok {
				driverLap[*ev.DriverNumber] = lapNumber
			}
		case events.TypeLocation, events.TypePosition:
			x, xok := ev.Float64Field("x")
			y, yok := ev.Float64Field("y")
			if !xok || !yok {
				continue
			}
			k := key{driver: *ev.DriverNumber, lap: driverLap[*ev.DriverNumber]}
			traceSamples[k] = append(traceSamples[k], geometry.Sample{
				Point:       geometry.Point{X: x, Y: y},
				TimestampMs: ev.TimestampMs,
			})
		}
	}

	var traces []geometry.LapTrace
	for k, samples := range traceSamples {
		if len(samples) < minTraceSamples {
			continue
		}
		traces = append(traces, geometry.LapTrace{DriverNumber: k.driver, Samples: samples})
	}
	return geometry.BuildCenterline(traces, geometry.DefaultBuildCenterlineConfig())
}
