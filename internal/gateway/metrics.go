package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway's Prometheus collectors
type Metrics struct {
	Connections prometheus.Gauge
	Requests    *prometheus.CounterVec
	FilesSent   prometheus.Counter
	FetchErrors prometheus.Counter
}

// NewMetrics registers the gateway collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "boxpeer",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxpeer",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Text frames received, by outcome.",
		}, []string{"result"}),
		FilesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "boxpeer",
			Subsystem: "gateway",
			Name:      "files_sent_total",
			Help:      "File frames pushed to clients.",
		}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "boxpeer",
			Subsystem: "gateway",
			Name:      "fetch_errors_total",
			Help:      "CIDs that could not be fetched from the content source.",
		}),
	}
}
