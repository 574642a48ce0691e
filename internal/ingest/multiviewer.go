package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/trackside/telemetry-core/internal/geometry"
)

// MultiviewerFetcher fetches a higher-fidelity GPS trace for a circuit
// from the MultiViewer track-map API, best-effort (spec §4.3: attempted
// on entry to Active, 5s timeout, failure leaves the session's own
// GPS-derived path as the only display layer). Starting a replay does
// not fetch.
type MultiviewerFetcher struct {
	client  *http.Client
	baseURL string
	limiter *RateLimiter
}

// NewMultiviewerFetcher returns a fetcher bound to baseURL (e.g.
// "https://api.multiviewer.app/api/v1"), capped at the given timeout.
func NewMultiviewerFetcher(baseURL string, timeout time.Duration) *MultiviewerFetcher {
	return &MultiviewerFetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: NewRateLimiter(30, 5),
	}
}

type multiviewerCircuitResponse struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// Fetch returns the circuit's high-fidelity path, or ok=false on any
// failure (rate-limited, network error, malformed or empty response) —
// callers must treat this as advisory and keep the existing path.
func (f *MultiviewerFetcher) Fetch(ctx context.Context, circuitKey int) (geometry.Path, bool) {
	if !f.limiter.Allow() {
		return nil, false
	}

	url := fmt.Sprintf("%s/circuits/%d", f.baseURL, circuitKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var body multiviewerCircuitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false
	}
	if len(body.X) == 0 || len(body.X) != len(body.Y) {
		return nil, false
	}

	path := make(geometry.Path, len(body.X))
	for i := range body.X {
		path[i] = geometry.Point{X: body.X[i], Y: body.Y[i]}
	}
	return path, true
}
