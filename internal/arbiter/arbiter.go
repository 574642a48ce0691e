// Package arbiter decides whether an OpenF1 (MQTT) event should be
// suppressed because a fresher SignalR update for the same topic has
// already arrived (spec §4.2).
package arbiter

import (
	"sync"
	"time"

	"github.com/trackside/telemetry-core/internal/events"
)

// FreshnessWindow is how recently a SignalR topic must have been seen for
// the corresponding OpenF1 event to be suppressed.
const FreshnessWindow = 15 * time.Second

// suppressibleTypes are the event types OpenF1 shares with SignalR and
// that can therefore be suppressed. location, car_data, pit, lap and
// overtakes are OpenF1-exclusive and always pass through.
var suppressibleTypes = map[events.Type]string{
	events.TypeStint:       "TimingAppData",
	events.TypeInterval:    "TimingStats",
	events.TypeWeather:     "WeatherData",
	events.TypeRaceControl: "RaceControlMessages",
}

// Arbiter tracks the last time each SignalR topic was seen and arbitrates
// OpenF1 events against that freshness.
type Arbiter struct {
	mu             sync.RWMutex
	topicLastSeen  map[string]time.Time
	now            func() time.Time
}

// New returns an Arbiter using the real wall clock.
func New() *Arbiter {
	return &Arbiter{
		topicLastSeen: make(map[string]time.Time),
		now:           time.Now,
	}
}

// NewWithClock returns an Arbiter using a caller-supplied clock, for
// deterministic tests.
func NewWithClock(now func() time.Time) *Arbiter {
	return &Arbiter{
		topicLastSeen: make(map[string]time.Time),
		now:           now,
	}
}

// ObserveSignalR records that a SignalR topic produced an event just now.
// SignalR never suppresses SignalR, so events of this source always pass
// through Admit; this only updates the freshness map other callers read.
func (a *Arbiter) ObserveSignalR(topic string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.topicLastSeen[topic] = a.now()
}

// Admit reports whether ev should be applied to session state. SignalR
// events are always admitted. OpenF1 (MQTT) events of a suppressible type
// are dropped if the corresponding SignalR topic was seen within
// FreshnessWindow; all other OpenF1 events are always admitted.
func (a *Arbiter) Admit(ev events.Event) bool {
	if ev.Source != events.SourceMQTT {
		return true
	}

	topic, suppressible := suppressibleTypes[ev.Type]
	if !suppressible {
		return true
	}

	a.mu.RLock()
	lastSeen, ok := a.topicLastSeen[topic]
	a.mu.RUnlock()
	if !ok {
		return true
	}

	return a.now().Sub(lastSeen) > FreshnessWindow
}

// Stale reports whether topic has gone silent for more than grace, or has
// never been seen at all. Used to gate the REST fallback poller: it only
// polls a topic once SignalR has stopped producing fresher data for it.
func (a *Arbiter) Stale(topic string, grace time.Duration) bool {
	a.mu.RLock()
	lastSeen, ok := a.topicLastSeen[topic]
	a.mu.RUnlock()
	if !ok {
		return true
	}
	return a.now().Sub(lastSeen) > grace
}
