package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics records outcomes of the processor status sync.
type ReconcileMetrics struct {
	synced      *prometheus.CounterVec
	regressions prometheus.Counter
}

// NewReconcileMetrics registers the reconciliation metrics on the provided
// registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	synced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_transactions_synced",
		Help: "Transactions advanced by the processor status sync, by remote state.",
	}, []string{"state"})
	regressions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_state_regressions_rejected",
		Help: "Remote statuses ignored because they trailed the local state.",
	})
	reg.MustRegister(synced, regressions)
	return &ReconcileMetrics{synced: synced, regressions: regressions}
}

// IncSynced counts a transaction advanced to match the given remote state.
func (r *ReconcileMetrics) IncSynced(state string) {
	if r == nil || r.synced == nil {
		return
	}
	r.synced.WithLabelValues(normalizeLabel(state)).Inc()
}

// IncRegressionRejected counts a stale remote status that was ignored.
func (r *ReconcileMetrics) IncRegressionRejected() {
	if r == nil || r.regressions == nil {
		return
	}
	r.regressions.Inc()
}
