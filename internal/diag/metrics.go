package diag

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nqmn/adddosdn-sub001/pkg/contract"
)

// Metrics 单次调用的指标集合（私有注册表，不污染 DefaultRegisterer）：
// - adddosdn_op_total{comp,stage,result}
// - adddosdn_error_total{comp,code}
// - adddosdn_op_duration_ms{comp,stage}
// - adddosdn_table_rows{table,state}
//
// nil *Metrics 的全部方法为空操作。
type Metrics struct {
	registry   *prometheus.Registry
	opTotal    *prometheus.CounterVec
	errorTotal *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	tableRows  *prometheus.GaugeVec
}

// NewMetrics 创建独立注册表及其指标。
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		opTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adddosdn_op_total",
			Help: "Stage operations by result.",
		}, []string{"comp", "stage", "result"}),
		errorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adddosdn_error_total",
			Help: "Errors by classification code.",
		}, []string{"comp", "code"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adddosdn_op_duration_ms",
			Help:    "Stage duration in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"comp", "stage"}),
		tableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "adddosdn_table_rows",
			Help: "Row count of each table after a state transition.",
		}, []string{"table", "state"}),
	}
	m.registry.MustRegister(m.opTotal, m.errorTotal, m.opDuration, m.tableRows)
	return m
}

// IncOp 累加操作计数（result=success|error）。
func (m *Metrics) IncOp(comp, stage, result string) {
	if m == nil {
		return
	}
	m.opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func (m *Metrics) IncError(comp, code string) {
	if m == nil {
		return
	}
	m.errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func (m *Metrics) ObserveDuration(comp, stage string, durMS int64) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// SetRows 记录某表在某状态下的行数。
func (m *Metrics) SetRows(table string, state contract.State, rows int) {
	if m == nil {
		return
	}
	m.tableRows.WithLabelValues(table, string(state)).Set(float64(rows))
}

// Gatherer 暴露注册表（测试与导出使用）。
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// WriteTextfile 以 textfile 格式原子写出全部指标（node_exporter textfile collector）。
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Gatherer())
}
