package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	registry           *prometheus.Registry
	paymentsTotal      *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
	reconcileTotal     *prometheus.CounterVec
}

func NewRegistry() *Registry {
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_payments_total",
		Help: "Payment operations by outcome",
	}, []string{"operation", "status"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_retry_attempts_total",
		Help: "Retry attempts for on-chain writes",
	}, []string{"operation"})

	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_reconcile_total",
		Help: "Worker reconciliation passes by result",
	}, []string{"result"})

	r := prometheus.NewRegistry()
	r.MustRegister(payments, retries, reconcile)

	return &Registry{
		registry:           r,
		paymentsTotal:      payments,
		retryAttemptsTotal: retries,
		reconcileTotal:     reconcile,
	}
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) IncPayment(operation, status string) {
	m.paymentsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Registry) IncRetry(operation string) {
	m.retryAttemptsTotal.WithLabelValues(operation).Inc()
}

func (m *Registry) IncReconcile(result string) {
	m.reconcileTotal.WithLabelValues(result).Inc()
}
