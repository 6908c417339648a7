package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

const namespace = "vuln_tracker"

var (
	reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Number of reconciliations by result.",
	}, []string{"result"})

	reconciledVulnerabilities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciled_vulnerabilities_total",
		Help:      "Number of vulnerabilities added, retained or removed by reconciliations.",
	}, []string{"change"})

	trackedVulnerabilities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_vulnerabilities",
		Help:      "Number of vulnerabilities stored for a portal branch by state.",
	}, []string{"portal", "branch", "state"})

	triageEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triage_edits_total",
		Help:      "Number of submitted triage edits by outcome.",
	}, []string{"outcome"})
)

// ObserveReconciliation records a successful reconciliation of key that
// resulted in list.
func ObserveReconciliation(key vuln.Key, added, retained, removed int, list []vuln.Vulnerability) {
	reconciliations.WithLabelValues("success").Inc()
	reconciledVulnerabilities.WithLabelValues("added").Add(float64(added))
	reconciledVulnerabilities.WithLabelValues("retained").Add(float64(retained))
	reconciledVulnerabilities.WithLabelValues("removed").Add(float64(removed))

	trackedVulnerabilities.DeletePartialMatch(prometheus.Labels{"portal": key.Portal, "branch": key.Branch})
	byState := make(map[vuln.State]int)
	for _, v := range list {
		byState[v.State.OrDefault()]++
	}
	for state, count := range byState {
		trackedVulnerabilities.WithLabelValues(key.Portal, key.Branch, state.String()).Set(float64(count))
	}
}

func ReconciliationFailed() {
	reconciliations.WithLabelValues("failure").Inc()
}

func ObserveTriage(applied, unknown int) {
	triageEdits.WithLabelValues("applied").Add(float64(applied))
	triageEdits.WithLabelValues("unknown").Add(float64(unknown))
}
