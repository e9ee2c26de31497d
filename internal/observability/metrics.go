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
			Namespace: "fraiselink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraiselink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linkPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraiselink",
			Subsystem: "link",
			Name:      "packets_total",
			Help:      "Packets crossing a link by direction and packet type.",
		},
		[]string{"link", "direction", "type"},
	)
	linkDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraiselink",
			Subsystem: "link",
			Name:      "dispatch_total",
			Help:      "Data and error payloads routed to handlers.",
		},
		[]string{"link", "kind", "delivered"},
	)
	linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fraiselink",
			Subsystem: "link",
			Name:      "connected",
			Help:      "1 while the link handshake is complete.",
		},
		[]string{"link"},
	)
	linkDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraiselink",
			Subsystem: "link",
			Name:      "disconnects_total",
			Help:      "Transport-unavailable signals.",
		},
		[]string{"link"},
	)
	linkCorrupt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraiselink",
			Subsystem: "link",
			Name:      "corrupt_frames_total",
			Help:      "Frames dropped for checksum or encoding errors.",
		},
		[]string{"link"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration,
			linkPackets, linkDispatch, linkState, linkDisconnects, linkCorrupt)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPacket(link, direction, packetType string) {
	RegisterMetrics()
	linkPackets.WithLabelValues(link, direction, packetType).Inc()
}

func RecordDispatch(link, kind string, delivered bool) {
	RegisterMetrics()
	linkDispatch.WithLabelValues(link, kind, strconv.FormatBool(delivered)).Inc()
}

func SetConnected(link string, connected bool) {
	RegisterMetrics()
	v := 0.0
	if connected {
		v = 1
	}
	linkState.WithLabelValues(link).Set(v)
}

func RecordDisconnect(link string) {
	RegisterMetrics()
	linkDisconnects.WithLabelValues(link).Inc()
}

// RecordCorruptFrame matches the stream corrupt-frame hook signature once
// bound to a link name.
func RecordCorruptFrame(link string) func(error) {
	return func(error) {
		RegisterMetrics()
		linkCorrupt.WithLabelValues(link).Inc()
	}
}
