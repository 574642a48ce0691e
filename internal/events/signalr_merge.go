package events

import "sync"

// SignalRAccumulator holds the per-topic accumulated shape that SignalR's
// incremental "R" (full snapshot) and "M" (partial update) messages merge
// into. This is the only place in the Normalizer where accumulation
// happens (§4.1) — everything downstream operates on the merged result.
type SignalRAccumulator struct {
	mu    sync.Mutex
	state map[string]map[string]any // topic -> accumulated shape
}

// NewSignalRAccumulator returns an empty accumulator.
func NewSignalRAccumulator() *SignalRAccumulator {
	return &SignalRAccumulator{state: make(map[string]map[string]any)}
}

// Merge deep-merges partial into the topic's accumulated shape and
// returns a copy of the result. Maps merge recursively; scalars and
// arrays replace the prior value at that key.
func (a *SignalRAccumulator) Merge(topic string, partial map[string]any) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.state[topic]
	if !ok {
		existing = make(map[string]any)
	}
	merged := deepMerge(existing, partial)
	a.state[topic] = merged

	return copyFields(merged)
}

// Reset clears accumulated state for a topic, used when a session ends
// or a fresh "R" snapshot should fully replace rather than merge.
func (a *SignalRAccumulator) Reset(topic string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.state, topic)
}

// Replace installs full as the entire accumulated shape for a topic
// (used for SignalR's initial "R" full-state message).
func (a *SignalRAccumulator) Replace(topic string, full map[string]any) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state[topic] = deepCopyMap(full)
	return copyFields(a.state[topic])
}

// deepMerge recursively merges src into a copy of dst: maps recurse,
// scalars and arrays (and any non-map value) replace.
func deepMerge(dst, src map[string]any) map[string]any {
	out := deepCopyMap(dst)
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		if !srcIsMap {
			out[k] = v
			continue
		}
		if existing, ok := out[k].(map[string]any); ok {
			out[k] = deepMerge(existing, srcMap)
		} else {
			out[k] = deepCopyMap(srcMap)
		}
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(nested)
		} else {
			out[k] = v
		}
	}
	return out
}
