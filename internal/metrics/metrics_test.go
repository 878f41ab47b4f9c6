package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDispatch(t *testing.T) {
	m := New()
	m.ObserveDispatch("chat", true, time.Millisecond)
	m.ObserveDispatch("chat", true, time.Millisecond)
	m.ObserveDispatch("command", false, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatches.WithLabelValues("chat", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("command", OutcomeError)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.dispatchDuration))
}

func TestObserveModel(t *testing.T) {
	m := New()
	m.ObserveModel(false, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelRequests.WithLabelValues(OutcomeError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.modelRequests.WithLabelValues(OutcomeOK)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveDispatch("chat", true, 0)
	m.ObserveModel(true, 0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveDispatch("read", true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `nexus_dispatch_total{kind="read",outcome="ok"} 1`), body)
}
