package ingest

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// MQTTReconnectInitialDelay/MaxDelay bound the adapter's indefinite
// reconnect loop; both are the 5s reconnect period, so the backoff never
// grows past 5s (spec §5: upstream network I/O is async; no attempt
// ceiling for MQTT, unlike SignalR's flat-3 policy).
const (
	MQTTReconnectInitialDelay = 5 * time.Second
	MQTTReconnectMaxDelay     = 5 * time.Second
)

// mqttTopicSubscriptions is the fixed set of OpenF1 topics subscribed on
// every (re)connect, named to match the Normalizer's MQTT topic table
// (internal/events).
var mqttTopicSubscriptions = []string{
	"location", "laps", "sessions", "drivers", "car_data", "intervals",
	"pit", "stints", "position", "race_control", "weather", "overtakes",
}

// MQTTAdapter streams OpenF1 topics over github.com/eclipse/paho.mqtt.golang.
// Grounded on other_examples' alibo-simple-mqtt-network-lab client setup
// (NewClientOptions/AddBroker/SetOnConnectHandler/Subscribe/
// SetConnectionLostHandler) and sims/connection_handler.go's retry shape
// for the reconnect loop around it.
type MQTTAdapter struct {
	log    zerolog.Logger
	broker string
	clientID string

	mu       sync.Mutex
	client   mqtt.Client
	messages chan RawMessage
	errs     chan error
	cancel   context.CancelFunc
}

// NewMQTTAdapter returns an adapter targeting broker (e.g. "tcp://host:1883").
func NewMQTTAdapter(log zerolog.Logger, broker, clientID string) *MQTTAdapter {
	return &MQTTAdapter{
		log:      log.With().Str("component", "mqtt_adapter").Logger(),
		broker:   broker,
		clientID: clientID,
	}
}

// Connect establishes the MQTT connection, with the client set to
// reconnect on its own after a lost connection (at most
// MQTTReconnectMaxDelay apart). It waits up to 10s for the first
// connection and returns an error if it is not up by then; the
// indefinite retry of that first connect is ConnectWithRetry's.
func (a *MQTTAdapter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(a.broker).
		SetClientID(a.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(MQTTReconnectInitialDelay).
		SetMaxReconnectInterval(MQTTReconnectMaxDelay)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		a.log.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		a.log.Info().Msg("mqtt reconnecting")
	})

	a.mu.Lock()
	a.client = mqtt.NewClient(opts)
	client := a.client
	a.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt: connect timed out")
	}
	return token.Error()
}

// Disconnect tears down the client.
func (a *MQTTAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
	return nil
}

// IsConnected reports the underlying client's connection state.
func (a *MQTTAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client != nil && a.client.IsConnected()
}

// StartDataStream subscribes to every OpenF1 topic and emits RawMessage
// on the returned channel until ctx is cancelled.
func (a *MQTTAdapter) StartDataStream(ctx context.Context) (<-chan RawMessage, <-chan error) {
	a.mu.Lock()
	a.messages = make(chan RawMessage, 256)
	a.errs = make(chan error, 16)
	client := a.client
	streamCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	handler := func(_ mqtt.Client, m mqtt.Message) {
		msg := RawMessage{
			Topic:           m.Topic(),
			Data:            string(m.Payload()),
			TimestampMillis: time.Now().UnixMilli(),
		}
		select {
		case a.messages <- msg:
		case <-streamCtx.Done():
		default:
			a.log.Warn().Str("topic", msg.Topic).Msg("mqtt message dropped: channel full")
		}
	}

	for _, topic := range mqttTopicSubscriptions {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			select {
			case a.errs <- errors.Wrapf(token.Error(), "mqtt: subscribing to %s", topic):
			default:
			}
		}
	}

	go func() {
		<-streamCtx.Done()
		a.mu.Lock()
		defer a.mu.Unlock()
		close(a.messages)
		close(a.errs)
	}()

	return a.messages, a.errs
}

// StopDataStream cancels the active stream, if any.
func (a *MQTTAdapter) StopDataStream() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HealthCheck reports an error if the client is not connected.
func (a *MQTTAdapter) HealthCheck(ctx context.Context) error {
	if !a.IsConnected() {
		return errors.New("mqtt: not connected")
	}
	return nil
}
