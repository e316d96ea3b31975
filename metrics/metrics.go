package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame outcomes recorded by FramesTotal.
const (
	OutcomeBroadcast    = "broadcast"
	OutcomeMalformed    = "malformed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRateLimited  = "rate_limited"
	OutcomePersistError = "persist_error"
)

type Metrics struct {
	Connections     prometheus.Gauge
	Rooms           prometheus.Gauge
	AuthFailures    *prometheus.CounterVec
	FramesTotal     *prometheus.CounterVec
	DeliveredTotal  prometheus.Counter
	DroppedTotal    prometheus.Counter
	PersistLatency  prometheus.Histogram
	DecryptFailures prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide metrics, registered on the default registry.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Connections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "chat_gateway_connections",
				Help: "Current number of authenticated connections",
			}),
			Rooms: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "chat_gateway_rooms",
				Help: "Current number of workspace rooms with at least one member",
			}),
			AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "chat_gateway_auth_failures_total",
				Help: "Connection attempts rejected at the handshake",
			}, []string{"reason"}),
			FramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "chat_gateway_frames_total",
				Help: "Inbound frames by outcome",
			}, []string{"outcome"}),
			DeliveredTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "chat_gateway_deliveries_total",
				Help: "Outbound frames queued to peers",
			}),
			DroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "chat_gateway_dropped_deliveries_total",
				Help: "Outbound frames dropped because the peer was closed or its queue was full",
			}),
			PersistLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "chat_gateway_persist_seconds",
				Help:    "Time spent storing one message record",
				Buckets: prometheus.DefBuckets,
			}),
			DecryptFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "chat_gateway_decrypt_failures_total",
				Help: "History records replaced with a placeholder",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ConnectionOpened() {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil || m.Rooms == nil {
		return
	}
	m.Rooms.Set(float64(n))
}

func (m *Metrics) AuthFailed(reason string) {
	if m == nil || m.AuthFailures == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Frame(outcome string) {
	if m == nil || m.FramesTotal == nil {
		return
	}
	m.FramesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Delivered(n int) {
	if m == nil || m.DeliveredTotal == nil {
		return
	}
	m.DeliveredTotal.Add(float64(n))
}

func (m *Metrics) Dropped(n int) {
	if m == nil || m.DroppedTotal == nil {
		return
	}
	m.DroppedTotal.Add(float64(n))
}

func (m *Metrics) ObservePersist(seconds float64) {
	if m == nil || m.PersistLatency == nil {
		return
	}
	m.PersistLatency.Observe(seconds)
}

func (m *Metrics) DecryptFailed() {
	if m == nil || m.DecryptFailures == nil {
		return
	}
	m.DecryptFailures.Inc()
}
