package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.AuditWriteFailures.Inc()
	a.AuditWriteFailures.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.AuditWriteFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AuditWriteFailures))
}

func TestHandler_ExposesNamespacedMetrics(t *testing.T) {
	m := New()
	m.NotificationsSent.WithLabelValues("ok").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	for _, want := range []string{
		"pharmauth_audit_write_failures_total 0",
		`pharmauth_verification_codes_sent_total{result="ok"} 1`,
		`pharmauth_http_requests_total{method="GET",route="/health",status="200"} 1`,
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(out, want), "missing %q", want)
	}
}
