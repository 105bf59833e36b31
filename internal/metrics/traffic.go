// =============================================================================
// 文件: internal/metrics/traffic.go
// 描述: 流量埋点指标（Counter/Gauge）- 以流量监听器和通知器的形式接入
// =============================================================================
package metrics

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/wiretap/internal/notify"
)

const namespace = "wiretap"

// TrafficMetrics 连接与流量指标
// 实现 trafficlistener.Listener
type TrafficMetrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  *prometheus.CounterVec
	BytesTotal        *prometheus.CounterVec
	ChunksTotal       *prometheus.CounterVec
	ChunkSize         *prometheus.HistogramVec
}

// NewTrafficMetrics 创建并注册指标
func NewTrafficMetrics(registry prometheus.Registerer) *TrafficMetrics {
	m := &TrafficMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently open observed connections",
		}),

		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total connection lifecycle events",
		}, []string{"status"}),

		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total bytes observed by direction",
		}, []string{"direction"}),

		ChunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Total read/write events by direction",
		}, []string{"direction"}),

		ChunkSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_size_bytes",
			Help:      "Size of observed read/write chunks",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}, []string{"direction"}),
	}

	registry.MustRegister(
		m.ActiveConnections,
		m.ConnectionsTotal,
		m.BytesTotal,
		m.ChunksTotal,
		m.ChunkSize,
	)

	return m
}

// Opened 连接建立
func (m *TrafficMetrics) Opened(net.Conn) {
	m.ConnectionsTotal.WithLabelValues("opened").Inc()
	m.ActiveConnections.Inc()
}

// Closed 连接关闭
func (m *TrafficMetrics) Closed(net.Conn) {
	m.ConnectionsTotal.WithLabelValues("closed").Inc()
	m.ActiveConnections.Dec()
}

// Incoming 收到数据
func (m *TrafficMetrics) Incoming(_ net.Conn, chunk []byte) {
	m.record("incoming", len(chunk))
}

// Outgoing 发出数据
func (m *TrafficMetrics) Outgoing(_ net.Conn, chunk []byte) {
	m.record("outgoing", len(chunk))
}

func (m *TrafficMetrics) record(direction string, n int) {
	m.BytesTotal.WithLabelValues(direction).Add(float64(n))
	m.ChunksTotal.WithLabelValues(direction).Inc()
	m.ChunkSize.WithLabelValues(direction).Observe(float64(n))
}

// =============================================================================
// 通知计数
// =============================================================================

// CountingNotifier 按级别统计通知数量后转发
// error 级别即解码失败次数
type CountingNotifier struct {
	next          notify.Notifier
	notifications *prometheus.CounterVec
}

// NewCountingNotifier 创建计数通知器，next 可为 nil
func NewCountingNotifier(registry prometheus.Registerer, next notify.Notifier) *CountingNotifier {
	c := &CountingNotifier{
		next: next,
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Traffic notifications emitted by level",
		}, []string{"level"}),
	}
	registry.MustRegister(c.notifications)
	return c
}

// Info 计数并转发
func (c *CountingNotifier) Info(message string) {
	c.notifications.WithLabelValues("info").Inc()
	if c.next != nil {
		c.next.Info(message)
	}
}

// Error 计数并转发
func (c *CountingNotifier) Error(message string) {
	c.notifications.WithLabelValues("error").Inc()
	if c.next != nil {
		c.next.Error(message)
	}
}
