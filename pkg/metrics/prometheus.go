package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	analysesTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	runDuration      *prometheus.HistogramVec
	runPollsTotal    *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
// Metrics register with the default registry exposed on /metrics, so only one
// recorder may exist per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		analysesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_analyses_total",
				Help: "Total number of analysis requests by mode, status, and error type",
			},
			[]string{"mode", "status", "error_type"},
		),
		analysisDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_analysis_duration_seconds",
				Help:    "End-to-end duration of analysis requests in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_run_duration_seconds",
				Help:    "Duration of agent runs in seconds by terminal status",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		runPollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_run_polls_total",
				Help: "Total number of run status reads by observed status",
			},
			[]string{"status"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_retries_total",
				Help: "Total number of retried remote calls by operation",
			},
			[]string{"operation"},
		),
		toolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_calls_total",
				Help: "Total number of resolved tool calls by tool and outcome",
			},
			[]string{"tool", "status"},
		),
	}
}

// ObserveAnalysis records one finished analysis request.
func (p *PrometheusRecorder) ObserveAnalysis(mode, status, errorType string, duration time.Duration) {
	p.analysesTotal.WithLabelValues(mode, status, errorType).Inc()
	p.analysisDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRun records one run reaching the end of its poll loop.
func (p *PrometheusRecorder) ObserveRun(status string, duration time.Duration) {
	p.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncRunPoll counts a status read inside the poll loop.
func (p *PrometheusRecorder) IncRunPoll(status string) {
	p.runPollsTotal.WithLabelValues(status).Inc()
}

// IncRetry counts a retried remote call by operation name.
func (p *PrometheusRecorder) IncRetry(operation string) {
	p.retriesTotal.WithLabelValues(operation).Inc()
}

// IncToolCall counts a resolved tool call by tool name and outcome.
func (p *PrometheusRecorder) IncToolCall(tool, status string) {
	p.toolCallsTotal.WithLabelValues(tool, status).Inc()
}
