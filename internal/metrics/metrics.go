// Package metrics exposes prometheus counters for the reconciliation core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homegrid/admind/pkg/logger"
)

var (
	// UpdateChecks counts update-engine recomputations by result.
	UpdateChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admind_update_checks_total",
		Help: "Update report recomputations by result.",
	}, []string{"result"})

	// PollCycles counts poller cycles by poller name and result.
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admind_poll_cycles_total",
		Help: "Poller cycles by poller and result.",
	}, []string{"poller", "result"})

	// RightsTasks counts drained rights tasks by outcome.
	RightsTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admind_rights_tasks_total",
		Help: "Rights queue tasks by outcome (written, skipped, failed).",
	}, []string{"outcome"})

	// StoreWriteFailures counts failed writes to the object store.
	StoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "admind_store_write_failures_total",
		Help: "Failed object/state writes to the object store.",
	})
)

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving metrics", "addr", addr)
	return http.ListenAndServe(addr, mux)
}
