package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAndServesMetrics(t *testing.T) {
	r := New()
	r.AdapterReconnects.WithLabelValues("mqtt").Inc()
	r.AdapterMessages.WithLabelValues("signalr", "location").Add(3)
	r.GeometryRebuilds.WithLabelValues("centerline").Inc()
	r.SetSessionPhase("active")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "telemetry_core_adapter_reconnects_total")
	assert.Contains(t, body, `source="mqtt"`)
	assert.Contains(t, body, "telemetry_core_session_phase")
}

func TestSetSessionPhase_OnlyOnePhaseIsOne(t *testing.T) {
	r := New()
	r.SetSessionPhase("ending")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()

	lines := strings.Split(body, "\n")
	onesCount := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "telemetry_core_session_phase") && strings.HasSuffix(strings.TrimSpace(line), " 1") {
			onesCount++
		}
	}
	assert.Equal(t, 1, onesCount)
}
