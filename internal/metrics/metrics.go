package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics captures origination pipeline and metering health signals.
type Metrics struct {
	applicationsCreated *prometheus.CounterVec
	statusTransitions   *prometheus.CounterVec
	stepsCompleted      *prometheus.CounterVec
	usageRecorded       *prometheus.CounterVec
	usageLimitReached   *prometheus.CounterVec
	commissionsCreated  *prometheus.CounterVec
	rateLimitDenied     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Config carries labels stamped on every series.
type Config struct {
	ServiceName string
	Environment string
}

// Default returns the singleton metrics registry.
func Default() *Metrics {
	return WithConfig(Config{})
}

// WithConfig returns the singleton metrics registry using config labels.
func WithConfig(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return metrics
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "omnifin"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	applicationsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "omnifin_applications_created_total",
		Help:        "Loan applications created, by loan type.",
		ConstLabels: constLabels,
	}, []string{"loan_type"})
	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "omnifin_application_status_transitions_total",
		Help:        "Application status transitions for pipeline health.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	stepsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "omnifin_workflow_steps_completed_total",
		Help:        "Workflow steps completed, by step number.",
		ConstLabels: constLabels,
	}, []string{"step"})
	usageRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "omnifin_usage_tokens_recorded_total",
		Help:        "Token usage ledger entries recorded, by feature.",
		ConstLabels: constLabels,
	}, []string{"feature"})
	usageLimitReached := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "omnifin_usage_limit_reached_total",
		Help:        "Groups hitting a plan limit, by resource.",
		ConstLabels: constLabels,
	}, []string{"resource"})
	commissionsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "omnifin_commissions_created_total",
		Help:        "Broker commissions created, by trigger event.",
		ConstLabels: constLabels,
	}, []string{"trigger_event"})
	rateLimitDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "omnifin_rate_limit_denied_total",
		Help:        "Requests denied by the ingest rate limiter.",
		ConstLabels: constLabels,
	}, []string{"endpoint"})

	registerer.MustRegister(
		applicationsCreated,
		statusTransitions,
		stepsCompleted,
		usageRecorded,
		usageLimitReached,
		commissionsCreated,
		rateLimitDenied,
	)

	return &Metrics{
		applicationsCreated: applicationsCreated,
		statusTransitions:   statusTransitions,
		stepsCompleted:      stepsCompleted,
		usageRecorded:       usageRecorded,
		usageLimitReached:   usageLimitReached,
		commissionsCreated:  commissionsCreated,
		rateLimitDenied:     rateLimitDenied,
	}
}

// IncApplicationCreated increments the application created counter.
func (m *Metrics) IncApplicationCreated(loanType string) {
	if m == nil || m.applicationsCreated == nil {
		return
	}
	m.applicationsCreated.WithLabelValues(loanType).Inc()
}

// IncStatusTransition increments application status transition counters.
func (m *Metrics) IncStatusTransition(from, to string) {
	if m == nil || m.statusTransitions == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// IncStepCompleted increments the workflow step counter.
func (m *Metrics) IncStepCompleted(step string) {
	if m == nil || m.stepsCompleted == nil {
		return
	}
	m.stepsCompleted.WithLabelValues(step).Inc()
}

// AddUsageRecorded adds recorded tokens to the usage counter.
func (m *Metrics) AddUsageRecorded(feature string, tokens int64) {
	if m == nil || m.usageRecorded == nil || tokens <= 0 {
		return
	}
	m.usageRecorded.WithLabelValues(feature).Add(float64(tokens))
}

// IncUsageLimitReached increments the limit reached counter for a resource.
func (m *Metrics) IncUsageLimitReached(resource string) {
	if m == nil || m.usageLimitReached == nil {
		return
	}
	m.usageLimitReached.WithLabelValues(resource).Inc()
}

// IncCommissionCreated increments the commission created counter.
func (m *Metrics) IncCommissionCreated(triggerEvent string) {
	if m == nil || m.commissionsCreated == nil {
		return
	}
	m.commissionsCreated.WithLabelValues(triggerEvent).Inc()
}

// IncRateLimitDenied increments the rate limit deny counter.
func (m *Metrics) IncRateLimitDenied(endpoint string) {
	if m == nil || m.rateLimitDenied == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(endpoint).Inc()
}
