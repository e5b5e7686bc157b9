package server

import (
	"github.com/benothman/xnio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "xnio"
	metricsSubsystem = "server"
)

// Metrics are the server counters. A nil *Metrics records nothing.
type Metrics struct {
	connectionsAccepted prometheus.Counter
	connectionsActive   prometheus.Gauge
	handshakes          prometheus.Counter
	handshakesFailed    prometheus.Counter
	requests            prometheus.Counter
	connectionErrors    *prometheus.CounterVec
	bytesWritten        prometheus.Counter
	partialWrites       prometheus.Counter

	poolBuffers *prometheus.GaugeVec
	poolWaiters *prometheus.GaugeVec
}

// NewMetrics registers the server metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_active",
			Help:      "Number of connections not yet closed",
		}),
		handshakes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handshakes_total",
			Help:      "Total number of completed session handshakes",
		}),
		handshakesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handshakes_failed_total",
			Help:      "Total number of connections abandoned during the handshake",
		}),
		requests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Total number of answered requests",
		}),
		connectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connection_errors_total",
			Help:      "Total number of connections closed on an I/O error",
		}, []string{"op"}), // op: read, write
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "bytes_written_total",
			Help:      "Total number of response bytes accepted by the transport",
		}),
		partialWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "partial_writes_total",
			Help:      "Total number of writes which left part of a response for a later turn",
		}),
		poolBuffers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pool_buffers",
			Help:      "Buffers of a pool by state",
		}, []string{"pool", "state"}), // state: in_use, free
		poolWaiters: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pool_waiters",
			Help:      "Goroutines blocked waiting for a buffer",
		}, []string{"pool"}),
	}
}

func (m *Metrics) accepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) closed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) handshake() {
	if m == nil {
		return
	}
	m.handshakes.Inc()
}

func (m *Metrics) handshakeFailed() {
	if m == nil {
		return
	}
	m.handshakesFailed.Inc()
}

func (m *Metrics) request() {
	if m == nil {
		return
	}
	m.requests.Inc()
}

func (m *Metrics) connectionError(op string) {
	if m == nil {
		return
	}
	m.connectionErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) written(n int, partial bool) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(n))
	if partial {
		m.partialWrites.Inc()
	}
}

// observePool samples the state of a buffer pool.
func (m *Metrics) observePool(name string, pool *xnio.BufferPool) {
	if m == nil {
		return
	}
	stats := pool.Stats()
	m.poolBuffers.WithLabelValues(name, "in_use").Set(float64(stats.InUse))
	m.poolBuffers.WithLabelValues(name, "free").Set(float64(stats.Free))
	m.poolWaiters.WithLabelValues(name).Set(float64(stats.Waiters))
}
