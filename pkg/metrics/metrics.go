package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue and admission metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asaengine_queue_depth",
			Help: "Current number of queued handles by priority",
		},
		[]string{"priority"},
	)

	AdmissionDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_admission_denials_total",
			Help: "Total number of admission denials by gate",
		},
		[]string{"reason"},
	)

	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "asaengine_jobs_running",
			Help: "Current number of tasks being actively worked",
		},
	)

	WorkerUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asaengine_worker_utilization",
			Help: "1 if a worker is currently holding a task, 0 if idle",
		},
		[]string{"worker_id"},
	)

	// State machine metrics
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_state_transitions_total",
			Help: "Total number of task state transitions by from-state, to-state, and outcome",
		},
		[]string{"from", "to", "outcome"},
	)

	StateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asaengine_state_duration_seconds",
			Help:    "Time spent in a state before its effect resolves",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"state"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_retries_total",
			Help: "Total number of RETRY transitions by the state that failed",
		},
		[]string{"state"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal state, by terminal status",
		},
		[]string{"status"},
	)

	// LLM gateway metrics
	LLMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_llm_calls_total",
			Help: "Total number of LLM calls by purpose, model, and outcome",
		},
		[]string{"purpose", "model", "status"},
	)

	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_llm_tokens_total",
			Help: "Total prompt+completion tokens spent by purpose and model",
		},
		[]string{"purpose", "model"},
	)

	LLMCostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_llm_cost_usd_total",
			Help: "Total USD spent on LLM calls by purpose and model",
		},
		[]string{"purpose", "model"},
	)

	LLMCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asaengine_llm_call_duration_seconds",
			Help:    "LLM call duration in seconds by purpose",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"purpose"},
	)

	BudgetDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_budget_denials_total",
			Help: "Total number of calls refused by a budget gate, by gate kind",
		},
		[]string{"kind"},
	)

	// Patch and test execution metrics
	PatchApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_patch_apply_total",
			Help: "Total number of patch application attempts by outcome",
		},
		[]string{"outcome"},
	)

	PatchValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_patch_validation_failures_total",
			Help: "Total number of patches rejected by pre-apply validation, by reason",
		},
		[]string{"reason"},
	)

	TestRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asaengine_test_run_duration_seconds",
			Help:    "Sandbox test run duration in seconds by phase",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"phase"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asaengine_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asaengine_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(AdmissionDenialsTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(WorkerUtilization)

	prometheus.MustRegister(StateTransitionsTotal)
	prometheus.MustRegister(StateDuration)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(TasksCompletedTotal)

	prometheus.MustRegister(LLMCallsTotal)
	prometheus.MustRegister(LLMTokensTotal)
	prometheus.MustRegister(LLMCostUSDTotal)
	prometheus.MustRegister(LLMCallDuration)
	prometheus.MustRegister(BudgetDenialsTotal)

	prometheus.MustRegister(PatchApplyTotal)
	prometheus.MustRegister(PatchValidationFailuresTotal)
	prometheus.MustRegister(TestRunDuration)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
