// Package httpapi serves the internal ops surface: /healthz, /metrics,
// /capability, and a replay trigger. This is distinct from the public
// telemetry API (websocket broadcaster rooms and their client subscribe
// protocol), which is explicitly out of scope.
//
// Grounded on other_examples' use of go-chi/chi/v5 as a lightweight
// router (no complete teacher repo in the pack used chi; the teacher
// itself ships no HTTP server at all).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/trackside/telemetry-core/internal/metrics"
)

// CapabilityPayload is the capability report's wire shape (spec §4.3,
// GLOSSARY): which upstream sources are connected, whether the REST
// fallback poller is actively substituting for any of them, which
// topics it's currently polling, where the track map came from, and
// whether sector boundaries have been derived yet. Pushed over the
// broadcaster 17s after session entry and pulled here on demand.
type CapabilityPayload struct {
	ConnectedSources   []string `json:"connectedSources"`
	FallbackActive     bool     `json:"fallbackActive"`
	PollingTopics      []string `json:"pollingTopics"`
	TrackMapSource     string   `json:"trackMapSource"`
	SectorAvailability bool     `json:"sectorAvailability"`
}

// Server is the internal ops HTTP surface.
type Server struct {
	router      chi.Router
	capability  func() CapabilityPayload
	metrics     *metrics.Registry
	startReplay func(sessionKey int, speed float64)
	stopReplay  func()
}

// New builds a Server with healthz/metrics/capability routes registered.
// capability supplies the current capability report on demand.
// startReplay/stopReplay wire the admin replay trigger to a
// *replay.Engine; either may be nil (e.g. in tests), in which case its
// route still exists and answers 501.
func New(log zerolog.Logger, capability func() CapabilityPayload, reg *metrics.Registry, startReplay func(sessionKey int, speed float64), stopReplay func()) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		capability:  capability,
		metrics:     reg,
		startReplay: startReplay,
		stopReplay:  stopReplay,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(httpLogger(log))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", reg.Handler())
	s.router.Get("/capability", s.handleCapability)
	s.router.Post("/replay/start", s.handleReplayStart)
	s.router.Post("/replay/stop", s.handleReplayStop)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleCapability(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.capability())
}

// handleReplayStart triggers replay.Engine.Start for ?sessionKey=&speed=
// (speed optional, defaults inside the engine). This is an operational
// trigger, not the excluded public client protocol — spec §4.8 names
// sessionKey and speed as "start-time parameters" without specifying a
// transport for them.
func (s *Server) handleReplayStart(w http.ResponseWriter, r *http.Request) {
	if s.startReplay == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	sessionKey, err := strconv.Atoi(r.URL.Query().Get("sessionKey"))
	if err != nil {
		http.Error(w, "sessionKey is required", http.StatusBadRequest)
		return
	}
	speed := 0.0
	if v := r.URL.Query().Get("speed"); v != "" {
		speed, _ = strconv.ParseFloat(v, 64)
	}
	s.startReplay(sessionKey, speed)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReplayStop(w http.ResponseWriter, r *http.Request) {
	if s.stopReplay == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	s.stopReplay()
	w.WriteHeader(http.StatusAccepted)
}

func httpLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("admin request")
			next.ServeHTTP(w, r)
		})
	}
}
