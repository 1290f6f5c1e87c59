// Package metrics exposes the server's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsync_documents_loaded_total",
		Help: "Documents loaded into memory since start.",
	})

	DocumentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docsync_documents_active",
		Help: "Documents currently loaded.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docsync_connections_active",
		Help: "Connections currently admitted.",
	})

	MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsync_messages_total",
		Help: "Inbound frames handled, by message type.",
	}, []string{"type"})

	Saves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsync_saves_total",
		Help: "Successful document store flushes.",
	})

	SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsync_save_failures_total",
		Help: "Failed document store flushes (not retried).",
	})

	ReplicationPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsync_replication_published_total",
		Help: "Updates published to the replication backplane.",
	})

	ReplicationReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsync_replication_received_total",
		Help: "Remote updates applied from the replication backplane.",
	})

	ReplicationSelfFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsync_replication_self_filtered_total",
		Help: "Backplane messages discarded as this instance's own echoes.",
	})
)
