package replica

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bundlesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openprod_bundles_accepted_total",
		Help: "Bundles appended to the log, by origin",
	}, []string{"origin"})

	bundlesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openprod_bundles_rejected_total",
		Help: "Bundles rejected on ingest, by error code",
	}, []string{"code"})

	bundlesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openprod_bundles_duplicate_total",
		Help: "Bundles dropped because they were already in the log",
	})

	operationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openprod_operations_applied_total",
		Help: "Operations folded into materialized state",
	})

	rederivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openprod_rederivations_total",
		Help: "Bundles whose operations arrived out of canonical order",
	})

	conflictsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openprod_conflicts_opened_total",
		Help: "Field conflicts opened by ingested bundles",
	})

	conflictsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openprod_conflicts_resolved_total",
		Help: "Field conflicts resolved by ingested bundles",
	})

	openConflicts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openprod_open_conflicts",
		Help: "Open field conflicts in the most recently updated replica",
	})
)
