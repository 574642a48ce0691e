package replay

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackside/telemetry-core/internal/geometry"
	"github.com/trackside/telemetry-core/internal/persistence"
	"github.com/trackside/telemetry-core/internal/session"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	room, event string
	payload     any
}

func (r *recordingBroadcaster) Broadcast(room, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{room, event, payload})
}

func (r *recordingBroadcaster) eventsNamed(event string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.event == event {
			out = append(out, c)
		}
	}
	return out
}

type recordingSink struct {
	mu       sync.Mutex
	messages []persistence.ReplayMessage
}

func (s *recordingSink) HandleReplayMessage(msg persistence.ReplayMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func squareTrackBuilder(_ []persistence.ReplayMessage) (geometry.Path, bool) {
	return geometry.Path{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 0, Y: 0}}, true
}

// identifyByDriverTopic treats a "driver:<n>" topic as carrying driver n,
// used only to exercise fastForwardIndex deterministically in tests.
func identifyByDriverTopic(msg persistence.ReplayMessage) (int, bool) {
	const prefix = "driver:"
	if !strings.HasPrefix(msg.Topic, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(msg.Topic, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

func openStoreWithReplay(t *testing.T, sessionKey int, messages []persistence.ReplayMessage) *persistence.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.Open("file:" + filepath.Join(dir, "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveReplay(sessionKey, persistence.ReplayDocument{
		Messages:    messages,
		TrackName:   "Monza",
		SessionName: "Race",
	}, time.Now()))
	return store
}

func fiveDriverPreamble(startMs int64) []persistence.ReplayMessage {
	var msgs []persistence.ReplayMessage
	for i := 1; i <= 5; i++ {
		msgs = append(msgs, persistence.ReplayMessage{
			Topic:           "driver:" + strconv.Itoa(i),
			Data:            "{}",
			TimestampMillis: startMs + int64(i),
		})
	}
	return msgs
}

func TestStart_EmitsFetchingThenReady(t *testing.T) {
	msgs := fiveDriverPreamble(0)
	msgs = append(msgs, persistence.ReplayMessage{Topic: "lap", Data: "{}", TimestampMillis: 1000})
	store := openStoreWithReplay(t, 1, msgs)

	c := session.NewController(zerolog.Nop())
	defer c.Close()
	bc := &recordingBroadcaster{}
	sink := &recordingSink{}

	e := New(zerolog.Nop(), store, c, bc, squareTrackBuilder, identifyByDriverTopic)
	e.Start(context.Background(), 1, 1000, sink)

	require.Eventually(t, func() bool { return len(bc.eventsNamed("replayPhase")) >= 2 }, time.Second, 5*time.Millisecond)
	phases := bc.eventsNamed("replayPhase")
	assert.Equal(t, Phase(PhaseFetching), phases[0].payload)
	assert.Equal(t, Phase(PhaseReady), phases[1].payload)
}

func TestStart_FastForwardsPreambleInstantly(t *testing.T) {
	msgs := fiveDriverPreamble(0)
	store := openStoreWithReplay(t, 2, msgs)

	c := session.NewController(zerolog.Nop())
	defer c.Close()
	bc := &recordingBroadcaster{}
	sink := &recordingSink{}

	e := New(zerolog.Nop(), store, c, bc, squareTrackBuilder, identifyByDriverTopic)
	e.Start(context.Background(), 2, 1000, sink)

	require.Eventually(t, func() bool { return sink.count() >= 5 }, time.Second, 5*time.Millisecond)
}

func TestStart_SupersededByLaterStart(t *testing.T) {
	msgs := fiveDriverPreamble(0)
	store := openStoreWithReplay(t, 3, msgs)

	c := session.NewController(zerolog.Nop())
	defer c.Close()
	bc := &recordingBroadcaster{}
	sink := &recordingSink{}

	e := New(zerolog.Nop(), store, c, bc, squareTrackBuilder, identifyByDriverTopic)
	e.Start(context.Background(), 3, 1000, sink)
	e.Start(context.Background(), 3, 1000, sink) // supersedes the first in-flight run

	require.Eventually(t, func() bool { return len(bc.eventsNamed("replayPhase")) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestStop_HaltsFurtherPlayback(t *testing.T) {
	msgs := fiveDriverPreamble(0)
	for i := 0; i < 200; i++ {
		msgs = append(msgs, persistence.ReplayMessage{Topic: "lap", Data: "{}", TimestampMillis: int64(i) * 10})
	}
	store := openStoreWithReplay(t, 4, msgs)

	c := session.NewController(zerolog.Nop())
	defer c.Close()
	bc := &recordingBroadcaster{}
	sink := &recordingSink{}

	e := New(zerolog.Nop(), store, c, bc, squareTrackBuilder, identifyByDriverTopic)
	e.Start(context.Background(), 4, 1.0, sink)
	require.Eventually(t, func() bool { return len(bc.eventsNamed("replayPhase")) >= 2 }, time.Second, 5*time.Millisecond)

	e.Stop()
	require.Eventually(t, func() bool { return len(bc.eventsNamed("replayPhase")) >= 3 }, time.Second, 5*time.Millisecond)
	countAfterStop := sink.count()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, countAfterStop, sink.count(), "no further messages should be dispatched after Stop")
}

func TestDispatch_ClockTopicRoutedDirectlyNotThroughSink(t *testing.T) {
	msgs := fiveDriverPreamble(0)
	msgs = append(msgs, persistence.ReplayMessage{Topic: "clock", Data: `{"remainingMs":1000}`, TimestampMillis: 1})
	store := openStoreWithReplay(t, 5, msgs)

	c := session.NewController(zerolog.Nop())
	defer c.Close()
	bc := &recordingBroadcaster{}
	sink := &recordingSink{}

	e := New(zerolog.Nop(), store, c, bc, squareTrackBuilder, identifyByDriverTopic)
	e.Start(context.Background(), 5, 1000, sink)

	require.Eventually(t, func() bool { return len(bc.eventsNamed("clock")) >= 1 }, time.Second, 5*time.Millisecond)
	for _, m := range sink.messages {
		assert.NotEqual(t, "clock", m.Topic)
	}
}
