package http

import (
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/autopilot"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/config"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/deviation"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/metrics"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/policy"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/service"
	"github.com/Axion-inc/DesktopAgent-sub001/tests/helpers"
)

func TestServerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engine := policy.NewEngine(domain.PolicyConfig{Autopilot: true})
	coordinator := autopilot.New(engine, autopilot.Config{Enabled: true, Deviation: deviation.DefaultConfig()},
		autopilot.WithMetrics(m))
	svc := service.New(helpers.NewTestSQLiteStore(t), coordinator, engine, nil, &config.Config{})
	e := NewServer(svc, reg)

	m.IncrementCounter(autopilot.MetricValidations, 1)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/health", nil))
	assert.Equal(t, nethttp.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/metrics", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "desktop_agent_autopilot_events_total")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/v1/executions/missing", nil))
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
}
