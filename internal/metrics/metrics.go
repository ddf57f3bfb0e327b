package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpproxy_messages_total",
			Help: "BMP messages framed and decoded, by message type.",
		},
		[]string{"type"},
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpproxy_decode_errors_total",
			Help: "Decode failures and diagnostics by stage.",
		},
		[]string{"stage", "reason"},
	)

	FramingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpproxy_framing_errors_total",
			Help: "Buffered stream data discarded after a framing failure.",
		},
		[]string{"reason"},
	)

	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bmpproxy_bytes_received_total",
			Help: "Bytes read from BMP speakers.",
		},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bmpproxy_active_connections",
			Help: "Currently open BMP speaker connections.",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bmpproxy_queue_depth",
			Help: "Records waiting in the forward queue.",
		},
	)

	ForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmpproxy_forwarded_total",
			Help: "Records handed to a sink, by sink and result.",
		},
		[]string{"sink", "result"},
	)

	ForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bmpproxy_forward_duration_seconds",
			Help:    "Sink write latency.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"sink"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessagesTotal,
			DecodeErrorsTotal,
			FramingErrorsTotal,
			BytesReceivedTotal,
			ActiveConnections,
			QueueDepth,
			ForwardedTotal,
			ForwardDuration,
		)
	})
}
