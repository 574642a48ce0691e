package ingest

import (
	"sync"

	"github.com/trackside/telemetry-core/internal/persistence"
)

// Recorder buffers every raw upstream message seen while a session is
// active, so the full wire sequence can be persisted as a
// persistence.ReplayDocument at session end and later replayed through
// the identical Applier code path (spec §4.7/§4.8 "recorded session").
type Recorder struct {
	mu       sync.Mutex
	active   bool
	messages []persistence.ReplayMessage
}

// NewRecorder returns a Recorder with recording initially off; call
// Reset at session entry to start capturing.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Reset discards any previously buffered messages and starts recording
// a fresh session.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.messages = nil
}

// Stop halts recording without discarding the buffer, so a subsequent
// Drain still returns what was captured up to this point.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// Record appends msg to the buffer, a no-op while not active (no session
// entered yet, or the prior session has already ended).
func (r *Recorder) Record(msg RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.messages = append(r.messages, persistence.ReplayMessage{
		Topic:           msg.Topic,
		Data:            msg.Data,
		TimestampMillis: msg.TimestampMillis,
	})
}

// Drain returns a copy of the currently buffered messages.
func (r *Recorder) Drain() []persistence.ReplayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]persistence.ReplayMessage, len(r.messages))
	copy(out, r.messages)
	return out
}
