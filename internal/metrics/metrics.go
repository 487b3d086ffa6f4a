package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_payment_callbacks_total",
		Help: "Payment callbacks by provider and outcome.",
	}, []string{"provider", "outcome"})

	TransactionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_transaction_transitions_total",
		Help: "Transactions moved into a terminal status.",
	}, []string{"status"})

	InvoicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_invoices_total",
		Help: "Invoice creation attempts by provider and result.",
	}, []string{"provider", "result"})

	ProvisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_provisioning_calls_total",
		Help: "Grant, revoke and probe calls by result.",
	}, []string{"action", "result"})

	SweepItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_sweep_items_total",
		Help: "Entitlements handled by each sweep pass, by result.",
	}, []string{"pass", "result"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invite_sweep_duration_seconds",
		Help:    "Wall time of one sweep pass.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"pass"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invite_notifications_total",
		Help: "Notification deliveries by kind, channel and status.",
	}, []string{"kind", "channel", "status"})
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
