package kvserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type serverMetrics struct {
	connectionsAccepted prometheus.Counter
	requestsByType      *prometheus.CounterVec
	compactionErrors    prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	return &serverMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_server_connections_accepted_total",
			Help: "Number of TCP connections accepted.",
		}),
		requestsByType: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kvs_server_requests_total",
			Help: "Number of requests handled, labeled by message type.",
		}, []string{"type"}),
		compactionErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_server_periodic_compaction_errors_total",
			Help: "Number of periodic compaction ticks whose job returned an error.",
		}),
	}
}
