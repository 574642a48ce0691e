package ingest

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FallbackEndpoint is one REST polling target with its own cadence (spec
// §6 per-endpoint cadence table).
type FallbackEndpoint struct {
	Topic    string
	URL      string
	Interval time.Duration
}

// Poller periodically GETs each configured endpoint and emits its body as
// a RawMessage, standing in for the upstream feed when it falls silent.
// Grounded on sims/polling_system.go's per-priority ticker goroutines,
// regeneralized from three fixed priority tiers to one ticker per
// endpoint at its own configured cadence.
type Poller struct {
	log      zerolog.Logger
	client   *http.Client
	endpoints []FallbackEndpoint

	// active, when non-nil, gates whether a tick actually polls — wired
	// to "has the real upstream topic been silent long enough" so the
	// poller can run continuously without hammering a live upstream
	// (spec §6: fallback cadences apply only once the feed goes quiet).
	active func(topic string) bool

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewPoller returns a Poller for the given endpoints. active may be nil,
// in which case every tick always polls.
func NewPoller(log zerolog.Logger, client *http.Client, endpoints []FallbackEndpoint, active func(topic string) bool) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Poller{
		log:       log.With().Str("component", "fallback_poller").Logger(),
		client:    client,
		endpoints: endpoints,
		active:    active,
		stop:      make(chan struct{}),
	}
}

// Start launches one goroutine per endpoint, emitting onto emit until
// ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context, emit func(RawMessage)) {
	for _, ep := range p.endpoints {
		p.wg.Add(1)
		go p.loop(ctx, ep, emit)
	}
}

func (p *Poller) loop(ctx context.Context, ep FallbackEndpoint, emit func(RawMessage)) {
	defer p.wg.Done()
	ticker := time.NewTicker(ep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			if p.active != nil && !p.active(ep.Topic) {
				continue
			}
			body, err := p.fetch(ctx, ep.URL)
			if err != nil {
				p.log.Warn().Err(err).Str("endpoint", ep.Topic).Msg("fallback poll failed")
				continue
			}
			emit(RawMessage{Topic: ep.Topic, Data: string(body), TimestampMillis: time.Now().UnixMilli()})
		}
	}
}

func (p *Poller) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Stop halts every endpoint's polling loop and waits for them to exit.
func (p *Poller) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// EndpointsFromCadences builds the fixed fallback endpoint set from
// config cadences and a base URL (spec §6 cadence table).
func EndpointsFromCadences(baseURL string, cadences FallbackCadences) []FallbackEndpoint {
	return []FallbackEndpoint{
		{Topic: "car_data", URL: baseURL + "/car_data", Interval: cadences.CarData},
		{Topic: "intervals", URL: baseURL + "/intervals", Interval: cadences.Intervals},
		{Topic: "position", URL: baseURL + "/position", Interval: cadences.Position},
		{Topic: "pit", URL: baseURL + "/pit", Interval: cadences.Pit},
		{Topic: "stints", URL: baseURL + "/stints", Interval: cadences.Stints},
		{Topic: "race_control", URL: baseURL + "/race_control", Interval: cadences.RaceControl},
		{Topic: "weather", URL: baseURL + "/weather", Interval: cadences.Weather},
		{Topic: "overtakes", URL: baseURL + "/overtakes", Interval: cadences.Overtakes},
	}
}

// FallbackCadences mirrors the subset of config.Cadences this package
// needs, decoupling it from a direct dependency on internal/config.
type FallbackCadences struct {
	CarData     time.Duration
	Intervals   time.Duration
	Position    time.Duration
	Pit         time.Duration
	Stints      time.Duration
	RaceControl time.Duration
	Weather     time.Duration
	Overtakes   time.Duration
}
