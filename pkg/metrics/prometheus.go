package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BufferStats 由缓冲区实现，用于导出缓冲区状态
type BufferStats interface {
	Size() uint64
	Len() int
	Evicted() uint64
}

// PrometheusMetrics 汇总检测流程的全部Prometheus指标
type PrometheusMetrics struct {
	findingsTotal    *prometheus.CounterVec
	recordsProcessed prometheus.Counter
	batchesSent      prometheus.Counter
	sendErrors       prometheus.Counter
	activeSessions   prometheus.Gauge
	tickDuration     prometheus.Histogram

	registry *prometheus.Registry
}

// NewPrometheusMetrics 创建指标并注册到独立的registry
// source和buf可以为nil，为nil时不导出对应的指标
func NewPrometheusMetrics(source *SourceMetrics, buf BufferStats) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),

		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traffic_visor_findings_total",
				Help: "Number of anomaly findings emitted, by rule",
			},
			[]string{"rule"},
		),
		recordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traffic_visor_records_processed_total",
			Help: "Number of connection records run through the anomaly detector",
		}),
		batchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traffic_visor_batches_sent_total",
			Help: "Number of batches delivered to transports",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traffic_visor_send_errors_total",
			Help: "Number of failed batch deliveries",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_visor_active_sessions",
			Help: "Number of running streaming sessions",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traffic_visor_tick_duration_seconds",
			Help:    "Time spent processing one streaming tick",
			Buckets: prometheus.DefBuckets,
		}),
	}

	pm.registry.MustRegister(
		pm.findingsTotal,
		pm.recordsProcessed,
		pm.batchesSent,
		pm.sendErrors,
		pm.activeSessions,
		pm.tickDuration,
	)

	if source != nil {
		pm.registerSource(source)
	}
	if buf != nil {
		pm.registerBuffer(buf)
	}
	return pm
}

func (pm *PrometheusMetrics) registerSource(source *SourceMetrics) {
	pm.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "traffic_visor_packets_captured_total",
			Help: "Number of packets read from the capture handle",
		}, func() float64 { return float64(source.GetStats()["packets_captured"].(uint64)) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "traffic_visor_packets_dropped_total",
			Help: "Number of packets without a usable source address",
		}, func() float64 { return float64(source.GetStats()["packets_dropped"].(uint64)) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "traffic_visor_capture_errors_total",
			Help: "Number of packet read errors",
		}, func() float64 { return float64(source.GetStats()["error_count"].(uint64)) }),
	)
}

func (pm *PrometheusMetrics) registerBuffer(buf BufferStats) {
	pm.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "traffic_visor_buffer_appended_total",
			Help: "Number of records ever appended to the capture buffer",
		}, func() float64 { return float64(buf.Size()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "traffic_visor_buffer_evicted_total",
			Help: "Number of records evicted from the capture buffer",
		}, func() float64 { return float64(buf.Evicted()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "traffic_visor_buffer_records",
			Help: "Number of records currently retained",
		}, func() float64 { return float64(buf.Len()) }),
	)
}

// RecordFinding 记录一条告警
func (pm *PrometheusMetrics) RecordFinding(rule string) {
	pm.findingsTotal.WithLabelValues(rule).Inc()
}

// RecordProcessed 记录经过检测器的记录数
func (pm *PrometheusMetrics) RecordProcessed(n int) {
	pm.recordsProcessed.Add(float64(n))
}

// RecordBatch 记录一次批次发送结果
func (pm *PrometheusMetrics) RecordBatch(err error) {
	if err != nil {
		pm.sendErrors.Inc()
		return
	}
	pm.batchesSent.Inc()
}

// ObserveTick 记录一次tick的耗时
func (pm *PrometheusMetrics) ObserveTick(d time.Duration) {
	pm.tickDuration.Observe(d.Seconds())
}

// SessionStarted 会话开始
func (pm *PrometheusMetrics) SessionStarted() {
	pm.activeSessions.Inc()
}

// SessionEnded 会话结束
func (pm *PrometheusMetrics) SessionEnded() {
	pm.activeSessions.Dec()
}

// Registry 返回指标registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler 返回/metrics的HTTP handler
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
