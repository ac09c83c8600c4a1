package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 引擎指标
type Metrics struct {
	registry *prometheus.Registry

	Executions      *prometheus.CounterVec   // 函数执行次数，按状态分类
	ExecuteDuration *prometheus.HistogramVec // 执行耗时
	Teaches         *prometheus.CounterVec   // 教学次数，按结果分类
	PathFallbacks   prometheus.Counter       // 执行阶段 payload 路径失配后退回原始响应的次数
	SinkReports     *prometheus.CounterVec   // 上报到错误通道的次数
}

// NewMetrics 创建并注册指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callforge",
			Name:      "function_executions_total",
			Help:      "Number of function executions by status.",
		}, []string{"status"}),
		ExecuteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "callforge",
			Name:      "function_execution_duration_seconds",
			Help:      "Function execution latency including the outbound call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		Teaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callforge",
			Name:      "teach_total",
			Help:      "Number of teach calls by outcome.",
		}, []string{"outcome"}),
		PathFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "callforge",
			Name:      "payload_path_fallbacks_total",
			Help:      "Executions that fell back to the raw response because the payload path did not resolve.",
		}),
		SinkReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callforge",
			Name:      "sink_reports_total",
			Help:      "Execution failures reported to the error sink, by whether the sink claimed them.",
		}, []string{"claimed"}),
	}
	reg.MustRegister(m.Executions, m.ExecuteDuration, m.Teaches, m.PathFallbacks, m.SinkReports)
	return m
}

// Handler 返回 /metrics 的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层注册表（用于测试）
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// DefaultMetrics 默认指标实例
var DefaultMetrics = NewMetrics()
