package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackside/telemetry-core/internal/metrics"
)

func noCapability() CapabilityPayload { return CapabilityPayload{} }

func TestHealthz_AlwaysOK(t *testing.T) {
	s := New(zerolog.Nop(), noCapability, metrics.New(), nil, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCapability_ServesProvidedReport(t *testing.T) {
	report := CapabilityPayload{
		ConnectedSources:   []string{"mqtt", "signalr"},
		FallbackActive:     true,
		PollingTopics:      []string{"weather"},
		TrackMapSource:     "baseline",
		SectorAvailability: true,
	}
	s := New(zerolog.Nop(), func() CapabilityPayload { return report }, metrics.New(), nil, nil)

	req := httptest.NewRequest("GET", "/capability", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trackMapSource":"baseline"`)
	assert.Contains(t, rec.Body.String(), `"fallbackActive":true`)
}

func TestMetrics_Served(t *testing.T) {
	reg := metrics.New()
	reg.AdapterReconnects.WithLabelValues("mqtt").Inc()
	s := New(zerolog.Nop(), noCapability, reg, nil, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "telemetry_core_adapter_reconnects_total")
}
