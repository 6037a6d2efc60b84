package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sar",
		Subsystem: "engine",
		Name:      "ticks_total",
		Help:      "Audio cycles processed",
	})

	silentCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sar",
		Subsystem: "engine",
		Name:      "silent_endpoint_cycles_total",
		Help:      "Endpoint cycles that produced silence instead of samples",
	}, []string{"reason"})

	tornReads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sar",
		Subsystem: "engine",
		Name:      "torn_reads_total",
		Help:      "Copies discarded because the endpoint generation changed mid-cycle",
	})

	notificationsSignaled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sar",
		Subsystem: "engine",
		Name:      "notifications_signaled_total",
		Help:      "Notification handles raised at ring crossings",
	})

	signalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sar",
		Subsystem: "engine",
		Name:      "notification_failures_total",
		Help:      "Failed notification handle signals",
	})

	handleRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sar",
		Subsystem: "engine",
		Name:      "handle_refreshes_total",
		Help:      "Notification handle refresh state machine steps",
	})

	handleUpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sar",
		Subsystem: "engine",
		Name:      "handle_updates_applied_total",
		Help:      "Notification handle reissues applied from the driver",
	})
)
