package ingest

import "context"

// Adapter is the shape every ingestion source implements: MQTT, SignalR,
// and the REST fallback poller. Grounded on sims/simulator_connector.go's
// SimulatorConnector interface, generalized from a single-telemetry-
// struct stream to a channel of normalized events.Event.
type Adapter interface {
	// Connect establishes the upstream connection. Connect may be called
	// again after Disconnect to reconnect.
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// StartDataStream begins emitting raw messages on the returned
	// channel until ctx is cancelled or StopDataStream is called. The
	// error channel carries non-fatal stream errors (a fatal connection
	// loss instead triggers the adapter's own reconnect loop).
	StartDataStream(ctx context.Context) (<-chan RawMessage, <-chan error)
	StopDataStream()

	HealthCheck(ctx context.Context) error
}

// RawMessage is an unparsed upstream message as received from any
// adapter, keyed by the same topic vocabulary persisted replays use
// (spec §4.7/§4.8: ReplayMessage{topic,data,timestampMillis}).
type RawMessage struct {
	Topic           string
	Data            string
	TimestampMillis int64
}
