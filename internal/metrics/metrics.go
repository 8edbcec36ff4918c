// Package metrics holds the Prometheus collectors for deposits, sync and purchases.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const namespace = "billpay_wallet"

type Metrics struct {
	depositsReconciled  *prometheus.CounterVec
	depositCreditsNaira prometheus.Counter
	syncRuns            *prometheus.CounterVec
	syncCredits         prometheus.Counter
	purchases           *prometheus.CounterVec
	purchaseRefunds     *prometheus.CounterVec
	sweeperRuns         *prometheus.CounterVec
	conflictRetries     prometheus.Counter
}

// New registers the collectors on reg. A nil *Metrics is valid and records nothing.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		depositsReconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposits",
				Name:      "reconciled_total",
				Help:      "Deposit reconciliations partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		depositCreditsNaira: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposits",
				Name:      "credited_naira_total",
				Help:      "Total naira credited to balances from deposits.",
			},
		),
		syncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "runs_total",
				Help:      "Balance sync runs partitioned by result.",
			},
			[]string{"result"},
		),
		syncCredits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "credits_total",
				Help:      "Provider transactions credited by balance sync.",
			},
		),
		purchases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "purchases",
				Name:      "total",
				Help:      "Purchase attempts partitioned by product and outcome.",
			},
			[]string{"product", "outcome"},
		),
		purchaseRefunds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "purchases",
				Name:      "refunds_total",
				Help:      "Refunded purchases partitioned by product.",
			},
			[]string{"product"},
		),
		sweeperRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "deposits_total",
				Help:      "Pending deposits visited by the sweeper partitioned by result.",
			},
			[]string{"result"},
		),
		conflictRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "conflict_retries_total",
				Help:      "Transactions retried after losing a unique-key race.",
			},
		),
	}
}

func (m *Metrics) DepositReconciled(outcome string) {
	if m == nil {
		return
	}
	m.depositsReconciled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DepositCredited(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.depositCreditsNaira.Add(amount.InexactFloat64())
}

func (m *Metrics) SyncRun(result string, credited int) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
	m.syncCredits.Add(float64(credited))
}

func (m *Metrics) Purchase(product, outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(product, outcome).Inc()
}

func (m *Metrics) PurchaseRefunded(product string) {
	if m == nil {
		return
	}
	m.purchaseRefunds.WithLabelValues(product).Inc()
}

func (m *Metrics) SweptDeposit(result string) {
	if m == nil {
		return
	}
	m.sweeperRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) ConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}
