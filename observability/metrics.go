package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics records invoice lifecycle and exchange-rate cache activity.
type HubMetrics struct {
	invoicesCreated  prometheus.Counter
	invoicesSettled  prometheus.Counter
	invoicesExpired  prometheus.Counter
	invoicesArchived prometheus.Counter
	refunds          *prometheus.CounterVec
	rateRefreshes    *prometheus.CounterVec
	activeInvoices   prometheus.Gauge
	liveGenerations  prometheus.Gauge
}

var (
	hubMetricsOnce sync.Once
	hubRegistry    *HubMetrics
)

// Hub returns the lazily-initialised payment hub metrics registry.
func Hub() *HubMetrics {
	hubMetricsOnce.Do(func() {
		hubRegistry = &HubMetrics{
			invoicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "invoice",
				Name:      "created_total",
				Help:      "Total invoices created.",
			}),
			invoicesSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "invoice",
				Name:      "settled_total",
				Help:      "Total invoices settled as paid.",
			}),
			invoicesExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "invoice",
				Name:      "expired_total",
				Help:      "Total invoices evicted by TTL expiry.",
			}),
			invoicesArchived: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "invoice",
				Name:      "archived_total",
				Help:      "Total settled invoices handed off to the history sink.",
			}),
			refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "invoice",
				Name:      "refunds_total",
				Help:      "Total automatic refunds issued, segmented by reason.",
			}, []string{"reason"}),
			rateRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payhub",
				Subsystem: "rates",
				Name:      "refreshes_total",
				Help:      "Total exchange-rate refresh attempts, segmented by outcome.",
			}, []string{"outcome"}),
			activeInvoices: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "payhub",
				Subsystem: "invoice",
				Name:      "active",
				Help:      "Invoices currently awaiting payment.",
			}),
			liveGenerations: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "payhub",
				Subsystem: "rates",
				Name:      "generations_live",
				Help:      "Exchange-rate generations currently held in memory.",
			}),
		}
		prometheus.MustRegister(
			hubRegistry.invoicesCreated,
			hubRegistry.invoicesSettled,
			hubRegistry.invoicesExpired,
			hubRegistry.invoicesArchived,
			hubRegistry.refunds,
			hubRegistry.rateRefreshes,
			hubRegistry.activeInvoices,
			hubRegistry.liveGenerations,
		)
	})
	return hubRegistry
}

// InvoiceCreated records a newly minted invoice.
func (m *HubMetrics) InvoiceCreated() {
	if m == nil {
		return
	}
	m.invoicesCreated.Inc()
}

// InvoiceSettled records a Created to Paid transition.
func (m *HubMetrics) InvoiceSettled() {
	if m == nil {
		return
	}
	m.invoicesSettled.Inc()
}

// InvoicesExpired records n invoices evicted by a TTL sweep.
func (m *HubMetrics) InvoicesExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invoicesExpired.Add(float64(n))
}

// InvoicesArchived records n invoices handed off to the history sink.
func (m *HubMetrics) InvoicesArchived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invoicesArchived.Add(float64(n))
}

// RefundIssued records an automatic refund with its reason label.
func (m *HubMetrics) RefundIssued(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.refunds.WithLabelValues(reason).Inc()
}

// RateRefresh records the outcome of a feed refresh attempt.
func (m *HubMetrics) RateRefresh(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.rateRefreshes.WithLabelValues(outcome).Inc()
}

// SetActiveInvoices updates the awaiting-payment gauge.
func (m *HubMetrics) SetActiveInvoices(n int) {
	if m == nil {
		return
	}
	m.activeInvoices.Set(float64(n))
}

// SetLiveGenerations updates the in-memory generation gauge.
func (m *HubMetrics) SetLiveGenerations(n int) {
	if m == nil {
		return
	}
	m.liveGenerations.Set(float64(n))
}
