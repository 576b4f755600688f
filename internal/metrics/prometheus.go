// Package metrics exposes the process-wide Prometheus registry for the
// integration engine: message throughput, processing latency, connection
// and queue gauges, and host status.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide metrics container.
type Metrics struct {
	MessagesReceivedTotal *prometheus.CounterVec
	MessagesSentTotal     *prometheus.CounterVec
	MessagesFailedTotal   *prometheus.CounterVec
	MessageProcessingTime *prometheus.HistogramVec
	MessageSizeBytes      *prometheus.HistogramVec
	ConnectionsActive     *prometheus.GaugeVec
	QueueDepth            *prometheus.GaugeVec
	HostStatus            *prometheus.GaugeVec
	WALPending            prometheus.Gauge

	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics builds the metric set under the given namespace/subsystem
// and registers it as the process default.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		MessagesReceivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "messages_received_total",
				Help:      "Total number of inbound messages received by a host",
			},
			[]string{"host", "type"},
		),

		MessagesSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "messages_sent_total",
				Help:      "Total number of messages sent by a host to a target",
			},
			[]string{"host", "target"},
		),

		MessagesFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "messages_failed_total",
				Help:      "Total number of messages that failed processing",
			},
			[]string{"host", "error"},
		),

		MessageProcessingTime: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "message_processing_seconds",
				Help:      "Duration of message processing by a host",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"host"},
		),

		MessageSizeBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "message_size_bytes",
				Help:      "Size of messages handled by a host, up to 1 MiB",
				Buckets:   []float64{128, 512, 1024, 4096, 16384, 65536, 262144, 1048576},
			},
			[]string{"host", "direction"},
		),

		ConnectionsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connections_active",
				Help:      "Current number of active connections per host/adapter",
			},
			[]string{"host", "adapter"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_depth",
				Help:      "Current depth of a host's inbound queue",
			},
			[]string{"host"},
		),

		HostStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "host_status",
				Help:      "Current lifecycle state of a host (1 = Running, 0 otherwise)",
			},
			[]string{"host", "type"},
		),

		WALPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "wal_pending",
				Help:      "Number of WAL entries not yet acknowledged as durably processed",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Engine build/version information",
			},
			[]string{"version"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the process-wide metrics, lazily initializing with the
// "hie" namespace if InitMetrics was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("hie", "")
	}
	return defaultMetrics
}

// RecordReceived records an inbound message on host for a message type.
func (m *Metrics) RecordReceived(host, msgType string, size int) {
	m.MessagesReceivedTotal.WithLabelValues(host, msgType).Inc()
	m.MessageSizeBytes.WithLabelValues(host, "in").Observe(float64(size))
}

// RecordSent records an outbound message dispatched from host to target.
func (m *Metrics) RecordSent(host, target string, size int) {
	m.MessagesSentTotal.WithLabelValues(host, target).Inc()
	m.MessageSizeBytes.WithLabelValues(host, "out").Observe(float64(size))
}

// RecordFailed records a processing failure for host, tagged by error code.
func (m *Metrics) RecordFailed(host, errCode string) {
	m.MessagesFailedTotal.WithLabelValues(host, errCode).Inc()
}

// RecordProcessingTime records how long host took to process one message.
func (m *Metrics) RecordProcessingTime(host string, d time.Duration) {
	m.MessageProcessingTime.WithLabelValues(host).Observe(d.Seconds())
}

// SetConnectionsActive sets the active connection gauge for host/adapter.
func (m *Metrics) SetConnectionsActive(host, adapter string, n int) {
	m.ConnectionsActive.WithLabelValues(host, adapter).Set(float64(n))
}

// SetQueueDepth sets the current queue depth gauge for host.
func (m *Metrics) SetQueueDepth(host string, depth int) {
	m.QueueDepth.WithLabelValues(host).Set(float64(depth))
}

// SetHostStatus sets the host's running gauge: 1 if running, 0 otherwise.
func (m *Metrics) SetHostStatus(host, hostType string, running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	m.HostStatus.WithLabelValues(host, hostType).Set(v)
}

// SetWALPending sets the current count of undurable/unacknowledged WAL entries.
func (m *Metrics) SetWALPending(n int) {
	m.WALPending.Set(float64(n))
}

// SetServiceInfo sets the service_info gauge for the running build.
func (m *Metrics) SetServiceInfo(version string) {
	m.ServiceInfo.WithLabelValues(version).Set(1)
}

// Handler returns the HTTP handler serving /metrics in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the HTTP server exposing /metrics and /health.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write failure is not actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
