package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

func TestObserveReconciliation(t *testing.T) {
	key := vuln.NewKey("metrics-portal", "main")
	before := testutil.ToFloat64(reconciliations.WithLabelValues("success"))
	addedBefore := testutil.ToFloat64(reconciledVulnerabilities.WithLabelValues("added"))

	ObserveReconciliation(key, 2, 1, 3, []vuln.Vulnerability{
		{ID: "A", State: vuln.StateNew},
		{ID: "B", State: vuln.StateNew},
		{ID: "C", State: vuln.StateIgnored},
	})

	assert.Equal(t, before+1, testutil.ToFloat64(reconciliations.WithLabelValues("success")))
	assert.Equal(t, addedBefore+2, testutil.ToFloat64(reconciledVulnerabilities.WithLabelValues("added")))
	assert.Equal(t, float64(2), testutil.ToFloat64(trackedVulnerabilities.WithLabelValues("metrics-portal", "main", "new")))
	assert.Equal(t, float64(1), testutil.ToFloat64(trackedVulnerabilities.WithLabelValues("metrics-portal", "main", "ignored")))

	t.Run("Should drop gauges of states no longer present", func(t *testing.T) {
		ObserveReconciliation(key, 0, 1, 2, []vuln.Vulnerability{
			{ID: "C", State: vuln.StateIgnored},
		})

		expected := `
# HELP vuln_tracker_tracked_vulnerabilities Number of vulnerabilities stored for a portal branch by state.
# TYPE vuln_tracker_tracked_vulnerabilities gauge
vuln_tracker_tracked_vulnerabilities{branch="main",portal="metrics-portal",state="ignored"} 1
`
		err := testutil.CollectAndCompare(trackedVulnerabilities, strings.NewReader(expected))
		assert.NoError(t, err)
	})
}

func TestObserveTriage(t *testing.T) {
	applied := testutil.ToFloat64(triageEdits.WithLabelValues("applied"))
	unknown := testutil.ToFloat64(triageEdits.WithLabelValues("unknown"))

	ObserveTriage(3, 1)

	assert.Equal(t, applied+3, testutil.ToFloat64(triageEdits.WithLabelValues("applied")))
	assert.Equal(t, unknown+1, testutil.ToFloat64(triageEdits.WithLabelValues("unknown")))
}

func TestReconciliationFailed(t *testing.T) {
	before := testutil.ToFloat64(reconciliations.WithLabelValues("failure"))
	ReconciliationFailed()
	assert.Equal(t, before+1, testutil.ToFloat64(reconciliations.WithLabelValues("failure")))
}

func TestServer_Handler(t *testing.T) {
	server := NewServer(etc.Metrics{Addr: ":0", Endpoint: "/metrics"})
	ReconciliationFailed()

	rr := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `vuln_tracker_reconciliations_total{result="failure"}`)
}
