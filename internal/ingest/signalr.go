package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SignalRRetryInterval and SignalRMaxAttempts implement the spec's flat
// retry policy (spec §5: "SignalR reconnect: flat 60s retry, give up
// after 3 attempts and log unavailable").
const (
	SignalRRetryInterval = 60 * time.Second
	SignalRMaxAttempts   = 3
)

// signalRHubMessage is the minimal envelope SignalR's persistent
// connection protocol sends: a batch of hub invocations, each naming the
// hub (H), the method (M, used here as the topic), and its arguments (A).
type signalRHubMessage struct {
	M []struct {
		H string            `json:"H"`
		M string            `json:"M"`
		A []json.RawMessage `json:"A"`
	} `json:"M"`
}

// SignalRAdapter streams SignalR hub topics over a hand-built
// negotiate-then-upgrade client, since no example repo in the pack ships
// a SignalR client for Go. Transport is gorilla/websocket + stdlib
// net/http, matching the pack's other uses of gorilla/websocket
// (internal/broadcast) for the wire layer; the retry/circuit-breaker
// shape is adapted from sims/connection_handler.go.
type SignalRAdapter struct {
	log        zerolog.Logger
	negotiateURL string
	connectURL   string
	httpClient   *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	retry  RetryConfig
	cb     *CircuitBreaker
}

// NewSignalRAdapter returns an adapter for the given negotiate/connect
// base URLs (the caller supplies both since the negotiate response's
// connection token must be appended to the connect URL by the caller's
// environment-specific hub path).
func NewSignalRAdapter(log zerolog.Logger, negotiateURL, connectURL string) *SignalRAdapter {
	return &SignalRAdapter{
		log:          log.With().Str("component", "signalr_adapter").Logger(),
		negotiateURL: negotiateURL,
		connectURL:   connectURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		retry:        FlatRetryConfig(SignalRRetryInterval, SignalRMaxAttempts),
		cb:           NewCircuitBreaker(SignalRMaxAttempts, 1, SignalRRetryInterval),
	}
}

type negotiateResponse struct {
	ConnectionToken string `json:"ConnectionToken"`
}

// Connect performs the HTTPS negotiate handshake and upgrades to a
// websocket. It makes at most SignalRMaxAttempts attempts in total,
// SignalRRetryInterval apart, before giving up (spec §5).
func (a *SignalRAdapter) Connect(ctx context.Context) error {
	if !a.cb.CanExecute() {
		return errors.New("signalr: circuit open, not attempting connect")
	}

	var lastErr error
	for attempt := 0; !a.retry.Exhausted(attempt); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.retry.Delay(attempt)):
			}
		}

		conn, err := a.dial(ctx)
		if err == nil {
			a.mu.Lock()
			a.conn = conn
			a.mu.Unlock()
			a.cb.RecordSuccess()
			return nil
		}
		lastErr = err
		a.cb.RecordFailure()
		a.log.Warn().Err(err).Int("attempt", attempt+1).Msg("signalr connect attempt failed")
	}
	return errors.Wrap(lastErr, "signalr: unavailable after max attempts")
}

func (a *SignalRAdapter) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := a.negotiate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "signalr: negotiate")
	}

	u, err := url.Parse(a.connectURL)
	if err != nil {
		return nil, errors.Wrap(err, "signalr: parsing connect url")
	}
	q := u.Query()
	q.Set("connectionToken", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "signalr: websocket dial")
	}
	return conn, nil
}

func (a *SignalRAdapter) negotiate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.negotiateURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("signalr: negotiate returned status %d", resp.StatusCode)
	}
	var nr negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return "", err
	}
	return nr.ConnectionToken, nil
}

// Disconnect closes the underlying websocket connection.
func (a *SignalRAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// IsConnected reports whether a connection is currently held.
func (a *SignalRAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// StartDataStream reads hub messages off the websocket, unpacking each
// batched invocation into a RawMessage keyed by hub method name.
func (a *SignalRAdapter) StartDataStream(ctx context.Context) (<-chan RawMessage, <-chan error) {
	messages := make(chan RawMessage, 256)
	errs := make(chan error, 16)

	streamCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	conn := a.conn
	a.mu.Unlock()

	go func() {
		defer close(messages)
		defer close(errs)
		if conn == nil {
			return
		}
		for {
			select {
			case <-streamCtx.Done():
				return
			default:
			}
			_, raw, err := conn.ReadMessage()
			if err != nil {
				select {
				case errs <- errors.Wrap(err, "signalr: read"):
				case <-streamCtx.Done():
				}
				return
			}
			var hub signalRHubMessage
			if err := json.Unmarshal(raw, &hub); err != nil {
				continue
			}
			now := time.Now().UnixMilli()
			for _, inv := range hub.M {
				var payload []byte
				if len(inv.A) > 0 {
					payload = inv.A[0]
				} else {
					payload = []byte("{}")
				}
				msg := RawMessage{Topic: inv.M, Data: string(payload), TimestampMillis: now}
				select {
				case messages <- msg:
				case <-streamCtx.Done():
					return
				}
			}
		}
	}()

	return messages, errs
}

// StopDataStream cancels the active read loop.
func (a *SignalRAdapter) StopDataStream() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HealthCheck reports an error if no connection is currently held.
func (a *SignalRAdapter) HealthCheck(ctx context.Context) error {
	if !a.IsConnected() {
		return errors.New("signalr: not connected")
	}
	return nil
}
