package matching

import "expvar"

var (
	metricEnqueueTotal       = expvar.NewInt("matching_enqueue_total")
	metricCancelTotal        = expvar.NewInt("matching_cancel_total")
	metricMatchesCreated     = expvar.NewInt("matching_matches_created_total")
	metricAllocationFailures = expvar.NewInt("matching_allocation_failures_total")
	metricPairRollbacks      = expvar.NewInt("matching_pair_rollbacks_total")
	metricSessionsActive     = expvar.NewInt("matching_sessions_active")
	metricStatusPushTotal    = expvar.NewInt("matching_status_push_total")
)
