// Command telemetry-core is the process entrypoint: it loads
// configuration, opens storage, wires every ingestion adapter through the
// shared pipeline, drives the session lifecycle, and serves the internal
// ops HTTP surface. Grounded on mrf-agent-racer/backend/cmd/server/main.go's
// flat wiring-and-signal-handling shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trackside/telemetry-core/internal/arbiter"
	"github.com/trackside/telemetry-core/internal/batch"
	"github.com/trackside/telemetry-core/internal/broadcast"
	"github.com/trackside/telemetry-core/internal/config"
	"github.com/trackside/telemetry-core/internal/coreerrors"
	"github.com/trackside/telemetry-core/internal/geometry"
	"github.com/trackside/telemetry-core/internal/httpapi"
	"github.com/trackside/telemetry-core/internal/ingest"
	"github.com/trackside/telemetry-core/internal/metrics"
	"github.com/trackside/telemetry-core/internal/persistence"
	"github.com/trackside/telemetry-core/internal/replay"
	"github.com/trackside/telemetry-core/internal/session"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	log.Logger = logger

	cfg, err := config.Load(os.Getenv("TELEMETRY_CORE_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("loading configuration")
	}

	app, err := newCore(logger, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("wiring core")
	}
	defer app.store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app.start(ctx)

	srv := &http.Server{Addr: cfg.Addr(), Handler: app.admin}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin http server exited")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	app.stop()
}

// core holds every long-lived collaborator wired together at startup.
type core struct {
	log zerolog.Logger
	cfg *config.Config

	store      *persistence.Store
	metrics    *metrics.Registry
	arbiter    *arbiter.Arbiter
	controller *session.Controller
	lifecycle  *session.Lifecycle

	mqtt    *ingest.MQTTAdapter
	signalr *ingest.SignalRAdapter
	poller  *ingest.Poller
	pipeline *ingest.Pipeline
	applier  *ingest.Applier
	clock    *ingest.ClockObserver
	multiviewer *ingest.MultiviewerFetcher
	recorder    *ingest.Recorder

	fallbackActive func(topic string) bool
	fallbackTopics []string

	batcher     *batch.Batcher
	broadcaster *broadcast.Broadcaster
	replayEngine *replay.Engine

	admin http.Handler

	mqttCtx    context.Context
	mqttCancel context.CancelFunc
	signalrCtx context.Context
	signalrCancel context.CancelFunc
}

func newCore(logger zerolog.Logger, cfg *config.Config) (*core, error) {
	store, err := persistence.Open(cfg.StorageURI)
	if err != nil {
		return nil, err
	}

	reg := metrics.New()
	arb := arbiter.New()
	controller := session.NewController(logger)
	clock := ingest.NewClockObserver()
	applier := ingest.NewApplier(logger, controller, clock)
	recorder := ingest.NewRecorder()
	pipeline := ingest.NewPipeline(logger, arb, applier, reg, recorder)

	broadcaster := broadcast.New(logger, 0)
	batcher := batch.New(logger, controller, broadcaster, func() batch.ClockObservation {
		return batch.ClockObservation{LastSeen: clock.LastSeen(), LatestFlagIsRed: clock.FlagIsRed()}
	})

	replayEngine := replay.New(logger, store, controller, broadcaster,
		replay.TrackBuilder(ingest.BuildTrackFromReplay),
		replay.DriverIdentifier(ingest.IdentifyDriver))

	mqttClientID := fmt.Sprintf("telemetry-core-%s", cfg.UpstreamUsername)
	mqttAdapter := ingest.NewMQTTAdapter(logger, cfg.MQTTBroker, mqttClientID)
	signalrAdapter := ingest.NewSignalRAdapter(logger, cfg.SignalRNegotiateURL, cfg.SignalRConnectURL)

	fallbackEndpoints := ingest.EndpointsFromCadences(cfg.RESTBaseURL, ingest.FallbackCadences{
		CarData:     cfg.Cadences.FallbackCarData,
		Intervals:   cfg.Cadences.FallbackIntervals,
		Position:    cfg.Cadences.FallbackPosition,
		Pit:         cfg.Cadences.FallbackPit,
		Stints:      cfg.Cadences.FallbackStints,
		RaceControl: cfg.Cadences.FallbackRaceControl,
		Weather:     cfg.Cadences.FallbackWeather,
		Overtakes:   cfg.Cadences.FallbackOvertakes,
	})
	fallbackActiveFn := fallbackGate(arb, mqttAdapter, cfg.Timeouts.FallbackGracePeriod)
	poller := ingest.NewPoller(logger, &http.Client{Timeout: 10 * time.Second}, fallbackEndpoints, fallbackActiveFn)

	fallbackTopics := make([]string, 0, len(fallbackEndpoints))
	for _, ep := range fallbackEndpoints {
		fallbackTopics = append(fallbackTopics, ep.Topic)
	}

	multiviewer := ingest.NewMultiviewerFetcher(cfg.MultiviewerBaseURL, cfg.Timeouts.MultiviewerFetch)

	discoverer := ingest.NewSessionDiscoverer(cfg.RESTBaseURL, 10*time.Second)

	c := &core{
		log:          logger,
		cfg:          cfg,
		store:        store,
		metrics:      reg,
		arbiter:      arb,
		controller:   controller,
		mqtt:         mqttAdapter,
		signalr:      signalrAdapter,
		poller:       poller,
		pipeline:     pipeline,
		applier:      applier,
		clock:        clock,
		multiviewer:  multiviewer,
		recorder:     recorder,
		batcher:      batcher,
		broadcaster:  broadcaster,
		replayEngine: replayEngine,
		fallbackActive: fallbackActiveFn,
		fallbackTopics: fallbackTopics,
	}

	c.lifecycle = session.NewLifecycle(logger, controller, discoverer, session.Hooks{
		OnEnter: c.onSessionEnter,
		OnEnding: c.onSessionEnding,
		OnIdle:   c.onSessionIdle,
	})

	c.admin = httpapi.New(logger, c.buildCapabilityReport, reg,
		func(sessionKey int, speed float64) { replayEngine.Start(context.Background(), sessionKey, speed, applier) },
		replayEngine.Stop,
	)

	return c, nil
}

// fallbackGate returns the Poller's active callback: MQTT-exclusive
// topics (car_data, position, pit, overtakes) poll once the MQTT
// connection itself is down; topics SignalR also carries (intervals,
// stints, race_control, weather) poll once that SignalR topic has gone
// stale past grace (spec §6 "Activates only after a 15s grace period per
// topic with no MQTT data").
func fallbackGate(arb *arbiter.Arbiter, mqttAdapter *ingest.MQTTAdapter, grace time.Duration) func(topic string) bool {
	signalRTopicFor := map[string]string{
		"intervals":     "TimingStats",
		"stints":        "TimingAppData",
		"race_control":  "RaceControlMessages",
		"weather":       "WeatherData",
	}
	return func(topic string) bool {
		if signalRTopic, ok := signalRTopicFor[topic]; ok {
			return arb.Stale(signalRTopic, grace)
		}
		return !mqttAdapter.IsConnected()
	}
}

func (c *core) start(ctx context.Context) {
	c.lifecycle.Start(ctx)

	c.mqttCtx, c.mqttCancel = context.WithCancel(ctx)
	go c.runMQTT(c.mqttCtx)

	c.signalrCtx, c.signalrCancel = context.WithCancel(ctx)
	go c.runSignalR(c.signalrCtx)

	c.poller.Start(ctx, c.pipeline.RunFallback)
	c.batcher.Start()

	go c.progressiveSaveLoop(ctx)
}

func (c *core) stop() {
	c.lifecycle.Stop()
	c.mqttCancel()
	c.signalrCancel()
	c.mqtt.StopDataStream()
	c.mqtt.Disconnect()
	c.signalr.StopDataStream()
	c.signalr.Disconnect()
	c.poller.Stop()
	c.batcher.Stop()
	c.controller.Close()
}

func (c *core) runMQTT(ctx context.Context) {
	cb := ingest.NewCircuitBreaker(5, 1, 30*time.Second)
	err := ingest.ConnectWithRetry(ctx, c.log, "mqtt", c.mqtt.Connect,
		ingest.IndefiniteBackoffConfig(ingest.MQTTReconnectInitialDelay, ingest.MQTTReconnectMaxDelay), cb)
	if err != nil {
		c.log.Error().Err(err).Msg("mqtt adapter failed to connect")
		return
	}
	messages, errs := c.mqtt.StartDataStream(ctx)
	c.pipeline.RunMQTT(ctx, messages, errs)
}

func (c *core) runSignalR(ctx context.Context) {
	cb := ingest.NewCircuitBreaker(ingest.SignalRMaxAttempts, 1, ingest.SignalRRetryInterval)
	// Connect itself makes up to SignalRMaxAttempts attempts, so it runs once.
	err := ingest.ConnectWithRetry(ctx, c.log, "signalr", c.signalr.Connect,
		ingest.FlatRetryConfig(ingest.SignalRRetryInterval, 1), cb)
	if err != nil {
		c.log.Warn().Err(err).Msg("signalr unavailable, relying on fallback clock and REST poller")
		return
	}
	messages, errs := c.signalr.StartDataStream(ctx)
	c.pipeline.RunSignalR(ctx, messages, errs)
}

// progressiveSaveLoop persists the live session snapshot every
// ProgressiveSave cadence while Active (spec §4.7 "progressiveSave").
func (c *core) progressiveSaveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Cadences.ProgressiveSave)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.metrics.SetSessionPhase(string(c.controller.Phase()))
			snap, ok := c.controller.Snapshot()
			if !ok {
				continue
			}
			if err := c.store.SaveSessionSnapshot(snap.SessionKey, snap, time.Now()); err != nil {
				c.metrics.PersistenceFailures.WithLabelValues("progressive_save").Inc()
				ce := coreerrors.Wrap(coreerrors.KindStorageFailure, "SNAPSHOT_SAVE_FAILED", err)
				c.log.Error().Err(ce).Int("session_key", snap.SessionKey).Msg("progressive save failed, retaining in-memory state")
			}
			if snap.GeometryDirty {
				c.saveTrackmapIfDirty(snap)
			}
		}
	}
}

// saveTrackmapIfDirty persists the track's current baseline path, sector
// boundaries and pit-lane profile once the Track Geometry Engine has
// rebuilt them (spec §4.7: the trackmap document is kept current as
// better geometry evidence accumulates), then clears the dirty flag
// through the writer so a later tick doesn't redo the same save.
func (c *core) saveTrackmapIfDirty(snap *session.Session) {
	doc := persistence.TrackmapDocument{
		TrackName:        snap.TrackName,
		Path:             pathToDoc(snap.BaselinePath),
		MultiviewerPath:  pathToDoc(snap.MultiviewerPath),
		Corners:          pathToDoc(snap.Corners),
		LatestSessionKey: snap.SessionKey,
	}
	if snap.SectorsReady {
		doc.SectorBoundaries = &persistence.SectorBoundariesDoc{
			StartFinish: snap.SectorBoundaries.StartFinish,
			Sector1to2:  snap.SectorBoundaries.Sector1to2,
			Sector2to3:  snap.SectorBoundaries.Sector2to3,
		}
	}
	if snap.PitLaneReady {
		doc.PitLaneProfile = &persistence.PitLaneProfileDoc{
			EntryProgress:     snap.PitLaneProfile.EntryProgress,
			ExitProgress:      snap.PitLaneProfile.ExitProgress,
			PitSide:           string(snap.PitLaneProfile.PitSide),
			PitLaneSpeedLimit: snap.PitLaneProfile.PitLaneSpeedLimit,
		}
	}

	if err := c.store.UpsertTrackmap(doc, time.Now()); err != nil {
		c.metrics.PersistenceFailures.WithLabelValues("trackmap_save").Inc()
		ce := coreerrors.Wrap(coreerrors.KindStorageFailure, "TRACKMAP_SAVE_FAILED", err)
		c.log.Error().Err(ce).Str("track", snap.TrackName).Msg("saving trackmap failed, geometry stays dirty")
		return
	}
	c.controller.Enqueue(func(s *session.Session) {
		s.GeometryDirty = false
	})
}

func pathToDoc(path geometry.Path) [][2]float64 {
	if len(path) == 0 {
		return nil
	}
	out := make([][2]float64, len(path))
	for i, p := range path {
		out[i] = [2]float64{p.X, p.Y}
	}
	return out
}

// CapabilityReportDelay is how long after session entry the one-shot
// capability report fires (spec §4.3, GLOSSARY).
const CapabilityReportDelay = 17 * time.Second

// onSessionEnter runs the spec §4.3 "On entry to Active" side effects:
// load any existing track map and attempt the best-effort MultiViewer
// fetch, both applied through the writer via Enqueue rather than mutating
// the Session directly from outside it; schedules the one-shot
// capability report.
func (c *core) onSessionEnter(sessionKey int, trackName string, circuitKey int) {
	c.metrics.SetSessionPhase("active")
	c.recorder.Reset()

	token := c.controller.Token()
	go func() {
		time.Sleep(CapabilityReportDelay)
		if c.controller.Token() != token {
			return // session ended or cycled before the delay elapsed
		}
		c.broadcaster.Broadcast("live", "capability", c.buildCapabilityReport())
	}()

	if doc, err := c.store.GetTrackmap(trackName); err == nil {
		path := pathFromDoc(doc.Path)
		c.controller.Enqueue(func(s *session.Session) {
			s.SetBaselinePath(path)
		})
	}

	go func() {
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeouts.MultiviewerFetch)
		defer cancel()
		path, ok := c.multiviewer.Fetch(fetchCtx, circuitKey)
		if !ok {
			return
		}
		c.controller.Enqueue(func(s *session.Session) {
			if s.SessionKey != sessionKey {
				return
			}
			s.SetMultiviewerPath(path)
		})
	}()

	if snap, ok := c.controller.Snapshot(); ok {
		c.broadcaster.Broadcast("live", "session", map[string]any{
			"active":      true,
			"trackName":   trackName,
			"sessionType": snap.SessionType,
			"sessionName": snap.SessionName,
		})
	}
}

func (c *core) onSessionEnding() {
	c.metrics.SetSessionPhase("ending")

	c.recorder.Stop()
	messages := c.recorder.Drain()
	snap, ok := c.controller.Snapshot()
	if !ok {
		return
	}
	doc := persistence.ReplayDocument{
		Messages:     messages,
		TrackName:    snap.TrackName,
		SessionName:  snap.SessionName,
		SessionEndTs: snap.DateEndTs,
		DriverCount:  len(snap.Drivers),
	}
	if err := c.store.SaveReplay(snap.SessionKey, doc, time.Now()); err != nil {
		ce := coreerrors.Wrap(coreerrors.KindStorageFailure, "REPLAY_SAVE_FAILED", err)
		c.log.Error().Err(ce).Int("session_key", snap.SessionKey).Msg("saving replay recording failed")
	}

	if snap.GeometryDirty {
		c.saveTrackmapIfDirty(snap)
	}
}

func (c *core) onSessionIdle() {
	c.metrics.SetSessionPhase("idle")
}

// buildCapabilityReport assembles the capability report's current value
// (spec §4.3, GLOSSARY): which upstream sources are connected, whether
// the REST fallback poller is substituting for any of them right now,
// which topics it's polling, where the active track map came from, and
// whether sector boundaries are derivable yet.
func (c *core) buildCapabilityReport() httpapi.CapabilityPayload {
	var sources []string
	if c.mqtt.IsConnected() {
		sources = append(sources, "mqtt")
	}
	if c.signalr.IsConnected() {
		sources = append(sources, "signalr")
	}

	var polling []string
	for _, topic := range c.fallbackTopics {
		if c.fallbackActive(topic) {
			polling = append(polling, topic)
		}
	}

	cap := c.controller.Capability()
	trackMapSource := "none"
	switch {
	case cap.HasMultiviewerPath:
		trackMapSource = "multiviewer"
	case cap.HasBaselinePath:
		trackMapSource = "baseline"
	}

	return httpapi.CapabilityPayload{
		ConnectedSources:   sources,
		FallbackActive:     len(polling) > 0,
		PollingTopics:      polling,
		TrackMapSource:     trackMapSource,
		SectorAvailability: cap.HasSectors,
	}
}

func pathFromDoc(points [][2]float64) geometry.Path {
	out := make(geometry.Path, len(points))
	for i, p := range points {
		out[i] = geometry.Point{X: p[0], Y: p[1]}
	}
	return out
}
