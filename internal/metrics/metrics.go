package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/classbank/economy/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the economy's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger entries recorded, by kind.",
		},
		[]string{"kind"},
	)

	ledgerVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "ledger",
			Name:      "amount_total",
			Help:      "Currency moved through the ledger, by kind.",
		},
		[]string{"kind"},
	)

	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Executed trades, by direction.",
		},
		[]string{"direction"},
	)

	feedFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "market",
			Name:      "fetches_total",
			Help:      "Market data fetches, by outcome.",
		},
		[]string{"outcome"},
	)

	salaryPayments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classbank",
			Subsystem: "salary",
			Name:      "payments_total",
			Help:      "Salary batch results per account.",
		},
		[]string{"success"},
	)

	storeTxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "classbank",
			Subsystem: "store",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of store transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(ledgerEntries, ledgerVolume, trades, feedFetches, salaryPayments, storeTxDuration)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordLedgerEntry(kind models.TxKind, amount int64) {
	ledgerEntries.WithLabelValues(string(kind)).Inc()
	ledgerVolume.WithLabelValues(string(kind)).Add(float64(amount))
}

func RecordTrade(direction models.Direction) {
	trades.WithLabelValues(string(direction)).Inc()
}

// RecordFetch labels a market data fetch as ok, cached, unavailable or open
// (circuit breaker rejected the call).
func RecordFetch(outcome string) {
	feedFetches.WithLabelValues(outcome).Inc()
}

func RecordSalaryPayment(success bool) {
	salaryPayments.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func ObserveStoreTx(err error, d time.Duration) {
	outcome := "commit"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrConcurrentUpdate):
		outcome = "conflict"
	default:
		outcome = "rollback"
	}
	storeTxDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
