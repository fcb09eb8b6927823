package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "lovechat_dev"

// Metrics holds the server collectors.
type Metrics struct {
	sessions     prometheus.Gauge
	accepts      *prometheus.CounterVec
	authFailures *prometheus.CounterVec
	frames       *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	stored       *prometheus.CounterVec
	reads        prometheus.Counter
	dropped      prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "ws", Name: "sessions",
			Help: "Authenticated websocket sessions.",
		}),
		accepts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "ws", Name: "accepts_total",
			Help: "Websocket upgrades by result.",
		}, []string{"result"}),
		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "auth", Name: "failures_total",
			Help: "Rejected credentials by channel (query, frame, rest, login).",
		}, []string{"channel"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "ws", Name: "frames_total",
			Help: "Inbound client frames by type.",
		}, []string{"type"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "ws", Name: "frames_rejected_total",
			Help: "Inbound client frames dropped by reason.",
		}, []string{"reason"}),
		stored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "messages", Name: "stored_total",
			Help: "Messages persisted by type.",
		}, []string{"type"}),
		reads: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "messages", Name: "read_total",
			Help: "Messages marked read.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "ws", Name: "send_dropped_total",
			Help: "Outbound frames dropped on full session queues.",
		}),
	}
}
