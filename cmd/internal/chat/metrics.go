package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "lovechat"

// Metrics holds the client collectors. Build one per Manager.
type Metrics struct {
	state          prometheus.Gauge
	attempts       prometheus.Gauge
	unread         prometheus.Gauge
	ledgerSize     prometheus.Gauge
	dials          *prometheus.CounterVec
	closes         *prometheus.CounterVec
	framesIn       *prometheus.CounterVec
	framesOut      prometheus.Counter
	dropped        *prometheus.CounterVec
	reconnectDelay prometheus.Histogram
	historyPages   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "conn", Name: "state",
			Help: "Connection state (0=disconnected 1=connecting 2=awaiting_auth 3=connected 4=reconnecting).",
		}),
		attempts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "conn", Name: "reconnect_attempts",
			Help: "Reconnect attempts since the last successful auth.",
		}),
		unread: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "ledger", Name: "unread",
			Help: "Unread counter.",
		}),
		ledgerSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "ledger", Name: "messages",
			Help: "Messages held by the ledger.",
		}),
		dials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "conn", Name: "dials_total",
			Help: "Transport dials by result.",
		}, []string{"result"}),
		closes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "conn", Name: "closes_total",
			Help: "Transport closes by kind.",
		}, []string{"kind"}),
		framesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "frames", Name: "received_total",
			Help: "Inbound frames by kind.",
		}, []string{"kind"}),
		framesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "frames", Name: "sent_total",
			Help: "Outbound frames written.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "frames", Name: "dropped_total",
			Help: "Outbound frames dropped by reason.",
		}, []string{"reason"}),
		reconnectDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "conn", Name: "reconnect_delay_seconds",
			Help:    "Scheduled reconnect delays.",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		}),
		historyPages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "history", Name: "pages_total",
			Help: "History page loads by result.",
		}, []string{"result"}),
	}
}
