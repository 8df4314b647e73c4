package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Healthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandler_ExposesPipelineMetrics(t *testing.T) {
	ReconcileRequeued.Add(0)
	DistributeSkipped.WithLabelValues("no_match").Add(0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rfqflow_reconcile_requeued_total")
	assert.Contains(t, rec.Body.String(), "rfqflow_distribute_skipped_total")
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(TargetSends.WithLabelValues(SendResultOK))
	TargetSends.WithLabelValues(SendResultOK).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TargetSends.WithLabelValues(SendResultOK)))
}
