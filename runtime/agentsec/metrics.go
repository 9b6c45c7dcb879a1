package agentsec

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aidefense"

// Metrics holds the Prometheus collectors of the interception runtime.
type Metrics struct {
	// InspectionsTotal counts completed inspections by kind (llm, mcp) and
	// decision action.
	InspectionsTotal *prometheus.CounterVec
	// InspectionDuration observes inspection round-trip latency by kind.
	InspectionDuration *prometheus.HistogramVec
	// InspectionErrorsTotal counts failed inspections by kind and whether
	// fail-open converted the failure into an allow.
	InspectionErrorsTotal *prometheus.CounterVec
	// PatchedCallsTotal counts calls through wrapped provider clients.
	PatchedCallsTotal *prometheus.CounterVec
	// GatewayRequestsTotal counts gateway-mode provider requests by HTTP
	// status class.
	GatewayRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InspectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inspections_total",
			Help:      "Completed inspections by kind and decision action.",
		}, []string{"kind", "decision"}),
		InspectionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "inspection_duration_seconds",
			Help:      "Inspection round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		InspectionErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inspection_errors_total",
			Help:      "Failed inspections by kind and fail-open outcome.",
		}, []string{"kind", "fail_open"}),
		PatchedCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "patched_calls_total",
			Help:      "Calls intercepted by wrapped provider clients.",
		}, []string{"provider", "operation"}),
		GatewayRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gateway_requests_total",
			Help:      "Gateway-mode provider requests by HTTP status.",
		}, []string{"provider", "status"}),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns the process-wide metric set, registered on the
// default Prometheus registerer on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObserveInspection records one completed inspection.
func (m *Metrics) ObserveInspection(kind string, action Action, elapsed time.Duration) {
	m.InspectionsTotal.WithLabelValues(kind, string(action)).Inc()
	m.InspectionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveInspectionError records one failed inspection.
func (m *Metrics) ObserveInspectionError(kind string, failOpen bool) {
	m.InspectionErrorsTotal.WithLabelValues(kind, strconv.FormatBool(failOpen)).Inc()
}

// ObservePatchedCall records one call through a wrapped provider client.
func (m *Metrics) ObservePatchedCall(provider, operation string) {
	m.PatchedCallsTotal.WithLabelValues(provider, operation).Inc()
}

// ObserveGatewayRequest records one gateway-mode request.
func (m *Metrics) ObserveGatewayRequest(provider string, status int) {
	m.GatewayRequestsTotal.WithLabelValues(provider, strconv.Itoa(status)).Inc()
}
