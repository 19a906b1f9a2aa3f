package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status API requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Frames reassembled from the wire.",
		},
		[]string{"channel"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from the wire.",
		},
		[]string{"channel"},
	)
	framesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Outbound packets fully written to the command socket.",
		},
	)
	bytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "transport",
			Name:      "bytes_sent_total",
			Help:      "Raw bytes written to the command socket.",
		},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by outcome.",
		},
		[]string{"result"},
	)
	connectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "edgelink",
			Subsystem: "transport",
			Name:      "connect_duration_seconds",
			Help:      "Time from BeginConnect to the terminal connect outcome.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	backpressureEngaged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "transport",
			Name:      "backpressure_engaged_total",
			Help:      "Times the inbound ceiling paused socket reads.",
		},
	)
	transportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelink",
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Faults recorded into the transport exception slot.",
		},
		[]string{"kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesReceived, bytesReceived, framesSent, bytesSent,
			connectAttempts, connectDuration, backpressureEngaged, transportErrors,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFramesReceived(channel string, frames int) {
	RegisterMetrics()
	framesReceived.WithLabelValues(channel).Add(float64(frames))
}

func RecordBytesReceived(channel string, n int) {
	RegisterMetrics()
	bytesReceived.WithLabelValues(channel).Add(float64(n))
}

func RecordPacketSent(size int) {
	RegisterMetrics()
	framesSent.Inc()
	bytesSent.Add(float64(size))
}

// RecordConnectAttempt counts one dial sequence. result is "ok" or "failed".
func RecordConnectAttempt(result string) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(result).Inc()
}

func RecordConnectDuration(d time.Duration) {
	RegisterMetrics()
	connectDuration.Observe(d.Seconds())
}

func RecordBackpressure() {
	RegisterMetrics()
	backpressureEngaged.Inc()
}

func RecordTransportError(kind string) {
	RegisterMetrics()
	transportErrors.WithLabelValues(kind).Inc()
}
