package monetization

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "paywall"

// Metrics counts service activity.
type Metrics struct {
	operations      *prometheus.CounterVec
	receipts        *prometheus.CounterVec
	histogramAmount *prometheus.CounterVec
}

// NewMetrics registers the service collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Total number of monetization operations",
			},
			[]string{"operation", "status"},
		),
		receipts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "receipts_verified_total",
				Help:      "Total number of receipts checked with the verifier",
			},
			[]string{"verified"},
		),
		histogramAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "histogram_contributions_total",
				Help:      "Total contributions added to video histograms in the video currency",
			},
			[]string{"currency"},
		),
	}
}

// WithMetrics wires Prometheus collectors into the service.
func WithMetrics(metrics *Metrics) ServiceOption {
	return func(service *Service) {
		service.metrics = metrics
	}
}

func (metrics *Metrics) observeOperation(operation string, status string) {
	if metrics == nil {
		return
	}
	metrics.operations.WithLabelValues(operation, status).Inc()
}

func (metrics *Metrics) observeReceipt(verified bool) {
	if metrics == nil {
		return
	}
	label := "false"
	if verified {
		label = "true"
	}
	metrics.receipts.WithLabelValues(label).Inc()
}

func (metrics *Metrics) observeContribution(currency string, amount float64) {
	if metrics == nil || amount <= 0 {
		return
	}
	metrics.histogramAmount.WithLabelValues(currency).Add(amount)
}
