package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackside/telemetry-core/internal/arbiter"
	"github.com/trackside/telemetry-core/internal/coreerrors"
	"github.com/trackside/telemetry-core/internal/events"
	"github.com/trackside/telemetry-core/internal/metrics"
)

// Pipeline is the single place that wires an upstream source — an
// Adapter's raw channel or the fallback poller's emit callback — through
// normalization, arbitration and application, keeping every source on
// the identical path the Replay Engine also feeds via Applier (spec data
// flow: "Adapter -> Normalizer -> Arbiter -> State mutation").
type Pipeline struct {
	log        zerolog.Logger
	normalizer *Normalizer
	arbiter    *arbiter.Arbiter
	applier    *Applier
	metrics    *metrics.Registry
	recorder   *Recorder
}

// NewPipeline wires a Pipeline from its already-constructed collaborators.
// recorder may be nil, in which case raw messages are not buffered for
// replay.
func NewPipeline(log zerolog.Logger, arb *arbiter.Arbiter, applier *Applier, reg *metrics.Registry, recorder *Recorder) *Pipeline {
	return &Pipeline{
		log:        log.With().Str("component", "pipeline").Logger(),
		normalizer: NewNormalizer(),
		arbiter:    arb,
		applier:    applier,
		metrics:    reg,
		recorder:   recorder,
	}
}

// RunMQTT drains an MQTT-sourced adapter's message channel until ctx is
// cancelled or the channel closes, normalizing, arbitrating and applying
// every message.
func (p *Pipeline) RunMQTT(ctx context.Context, messages <-chan RawMessage, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.log.Warn().Err(err).Msg("mqtt adapter error")
		case msg, ok := <-messages:
			if !ok {
				return
			}
			p.handleMQTT(msg)
		}
	}
}

// RunSignalR drains a SignalR-sourced adapter's message channel, always
// admitting (SignalR is never suppressed) but recording freshness so
// later OpenF1 events on the same topic can be suppressed.
func (p *Pipeline) RunSignalR(ctx context.Context, messages <-chan RawMessage, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.log.Warn().Err(err).Msg("signalr adapter error")
		case msg, ok := <-messages:
			if !ok {
				return
			}
			p.handleSignalR(msg)
		}
	}
}

// RunFallback is the emit callback a Poller invokes for each REST poll
// response; fallback data rides the MQTT-shaped path since it mirrors
// OpenF1's own REST vocabulary and is subject to the same SignalR
// freshness suppression.
func (p *Pipeline) RunFallback(msg RawMessage) {
	p.handleMQTT(msg)
}

func (p *Pipeline) handleMQTT(msg RawMessage) {
	if p.recorder != nil {
		p.recorder.Record(msg)
	}
	ev, ok := p.normalizer.NormalizeMQTT(msg)
	if !ok {
		p.log.Debug().Str("topic", msg.Topic).Msg("discarding malformed mqtt payload")
		return
	}
	if p.metrics != nil {
		p.metrics.AdapterMessages.WithLabelValues(string(events.SourceMQTT), string(ev.Type)).Inc()
	}
	if !p.arbiter.Admit(ev) {
		return
	}
	if err := p.applier.Apply(ev); err != nil {
		p.log.Debug().Err(err).Str("event_type", string(ev.Type)).Msg("mqtt event dropped")
	}
}

func (p *Pipeline) handleSignalR(msg RawMessage) {
	if p.recorder != nil {
		p.recorder.Record(msg)
	}
	evs, ok := p.normalizer.NormalizeSignalR(msg)
	if !ok {
		p.log.Debug().Str("topic", msg.Topic).Msg("discarding malformed signalr payload")
		return
	}
	if msg.Topic != "" {
		p.arbiter.ObserveSignalR(msg.Topic)
	}
	for _, ev := range evs {
		if p.metrics != nil {
			p.metrics.AdapterMessages.WithLabelValues(string(events.SourceSignalR), string(ev.Type)).Inc()
		}
		if err := p.applier.Apply(ev); err != nil {
			p.log.Debug().Err(err).Str("event_type", string(ev.Type)).Msg("signalr event dropped")
		}
	}
}

// ConnectWithRetry drives Adapter.Connect through cfg's retry policy,
// used by cmd/telemetry-core to bring an adapter up before streaming.
// Grounded on sims/connection_handler.go's reconnect-loop shape.
func ConnectWithRetry(ctx context.Context, log zerolog.Logger, name string, connect func(context.Context) error, cfg RetryConfig, cb *CircuitBreaker) error {
	var lastErr error
	for attempt := 0; cfg.MaxAttempts == 0 || !cfg.Exhausted(attempt); attempt++ {
		if cb != nil && !cb.CanExecute() {
			return lastErr
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay(attempt)):
			}
		}
		err := connect(ctx)
		if err == nil {
			if cb != nil {
				cb.RecordSuccess()
			}
			return nil
		}
		lastErr = err
		if cb != nil {
			cb.RecordFailure()
		}
		ce := coreerrors.ClassifyUpstream(err)
		log.Warn().Err(ce).Str("adapter", name).Str("kind", ce.Kind.String()).
			Int("attempt", attempt+1).Msg("adapter connect attempt failed")
	}
	return lastErr
}
