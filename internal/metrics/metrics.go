// Package metrics holds the Prometheus collectors shared by the poller and the processor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dln"

// Poller metrics.
var (
	TxSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "tx_saved_total",
			Help:      "Transactions captured as tasks.",
		},
		[]string{"contract_type"},
	)

	LastSlot = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "last_slot",
			Help:      "Slot of the last captured transaction.",
		},
		[]string{"contract_type"},
	)
)

// Processor metrics.
var (
	ProcessedTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "processed_tasks_total",
			Help:      "Tasks finalized by the processor.",
		},
		[]string{"status", "type"}, // status: success, error
	)

	LastProcessedSlot = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "last_processed_slot",
			Help:      "Slot of the last finalized task.",
		},
		[]string{"type"},
	)

	LastTaskID = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "last_task_id",
			Help:      "Id of the last finalized task.",
		},
	)

	PendingTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "pending_tasks_count",
			Help:      "Tasks waiting to be claimed.",
		},
	)
)

// PriceLookups counts price resolutions by result: cache_hit, fetched, zero.
var PriceLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "price",
		Name:      "lookups_total",
		Help:      "Token price lookups by result.",
	},
	[]string{"result"},
)
