package metrics

import (
	"math/big"
	"net/http"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
)

// Metrics exposes vault state and activity to Prometheus. It is an
// events.Emitter for activity counters; gauges are refreshed from snapshots.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	gains        *prometheus.CounterVec
	losses       *prometheus.CounterVec
	totalIdle    *prometheus.GaugeVec
	totalDebt    *prometheus.GaugeVec
	totalShares  *prometheus.GaugeVec
	lockedProfit *prometheus.GaugeVec
	strategyDebt *prometheus.GaugeVec
	queueLength  *prometheus.GaugeVec
	jobFailures  *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_total",
			Help: "Count of committed vault events by type.",
		}, []string{"vault", "type"}),
		gains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_reported_gain_total",
			Help: "Cumulative gain recognized from strategy reports.",
		}, []string{"vault", "strategy"}),
		losses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_reported_loss_total",
			Help: "Cumulative loss recognized from strategy reports.",
		}, []string{"vault", "strategy"}),
		totalIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_total_idle",
			Help: "Assets held directly by the vault.",
		}, []string{"vault"}),
		totalDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_total_debt",
			Help: "Assets allocated to strategies.",
		}, []string{"vault"}),
		totalShares: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_total_shares",
			Help: "Shares outstanding.",
		}, []string{"vault"}),
		lockedProfit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_locked_profit",
			Help: "Reported profit still locked as of the last update.",
		}, []string{"vault"}),
		strategyDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_strategy_debt",
			Help: "Current debt per strategy.",
		}, []string{"vault", "strategy"}),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_queue_length",
			Help: "Entries in the default allocation queue.",
		}, []string{"vault"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_job_failures_total",
			Help: "Scheduled job steps that returned an error, by job and error kind.",
		}, []string{"job", "kind"}),
	}
	m.registry.MustRegister(
		m.events, m.gains, m.losses,
		m.totalIdle, m.totalDebt, m.totalShares, m.lockedProfit,
		m.strategyDebt, m.queueLength, m.jobFailures,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Emit implements events.Emitter.
func (m *Metrics) Emit(evt events.Event) {
	if m == nil {
		return
	}
	switch e := evt.(type) {
	case events.StrategyReported:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
		m.gains.WithLabelValues(e.VaultID, e.Strategy).Add(toFloat(e.Gain))
		m.losses.WithLabelValues(e.VaultID, e.Strategy).Add(toFloat(e.Loss))
	case events.DebtUpdated:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
		m.strategyDebt.WithLabelValues(e.VaultID, e.Strategy).Set(toFloat(e.CurrentDebt))
	case events.QueueUpdated:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
		m.queueLength.WithLabelValues(e.VaultID).Set(float64(len(e.Queue)))
	case events.VaultCreated:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
	case events.StrategyChanged:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
	case events.Deposited:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
	case events.Withdrawn:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
	case events.MaxDebtUpdated:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
	case events.ConfigUpdated:
		m.events.WithLabelValues(e.VaultID, evt.EventType()).Inc()
	}
}

// Observe refreshes every gauge for one vault from its snapshot.
func (m *Metrics) Observe(snap model.VaultSnapshot) {
	if m == nil {
		return
	}
	m.totalIdle.WithLabelValues(snap.ID).Set(decimalToFloat(snap.TotalIdle))
	m.totalDebt.WithLabelValues(snap.ID).Set(decimalToFloat(snap.TotalDebt))
	m.totalShares.WithLabelValues(snap.ID).Set(decimalToFloat(snap.TotalShares))
	m.lockedProfit.WithLabelValues(snap.ID).Set(decimalToFloat(snap.LockedProfit))
	m.queueLength.WithLabelValues(snap.ID).Set(float64(len(snap.Queue)))
	for _, s := range snap.Strategies {
		m.strategyDebt.WithLabelValues(snap.ID, s.ID).Set(decimalToFloat(s.CurrentDebt))
	}
}

// IncJobFailure counts a failed scheduled step.
func (m *Metrics) IncJobFailure(job, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.jobFailures.WithLabelValues(job, kind).Inc()
}

func toFloat(v uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

func decimalToFloat(s string) float64 {
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return 0
	}
	out, _ := f.Float64()
	return out
}
