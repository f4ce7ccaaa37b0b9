// Package metrics exposes Prometheus counters and gauges for the trading
// engine's runtime health: entries, exits by reason, portfolio value, and
// adapter error counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every metric the engine registers, so callers pass one
// value around instead of package-level globals.
type Collectors struct {
	EntriesTotal *prometheus.CounterVec
	ExitsTotal *prometheus.CounterVec
	AdapterErrors *prometheus.CounterVec
	PortfolioCash prometheus.Gauge
	PortfolioValue prometheus.Gauge
	OpenPositions prometheus.Gauge
	TradesToday prometheus.Gauge
	TickDuration *prometheus.HistogramVec
}

// New registers and returns a fresh set of collectors against reg. Pass
// prometheus.NewRegistry in tests to avoid colliding with the default
// global registry across test runs.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name: "entries_total",
			Help: "Entries opened, labeled by option_type.",
		}, []string{"option_type"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name: "exits_total",
			Help: "Positions closed, labeled by exit_reason.",
		}, []string{"exit_reason"}),
		AdapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name: "adapter_errors_total",
			Help: "Market-data adapter errors, labeled by operation.",
		}, []string{"operation"}),
		PortfolioCash: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Name: "portfolio_cash",
			Help: "Current uncommitted cash.",
		}),
		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Name: "portfolio_total_value",
			Help: "Cash plus mark-to-market positions value.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Name: "open_positions",
			Help: "Number of currently open positions.",
		}),
		TradesToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Name: "trades_today",
			Help: "Entries opened so far on the current trading day.",
		}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engine",
			Name: "tick_duration_seconds",
			Help: "Wall-clock duration of one strategy/exit tick.",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
	}

	reg.MustRegister(c.EntriesTotal, c.ExitsTotal, c.AdapterErrors, c.PortfolioCash,
		c.PortfolioValue, c.OpenPositions, c.TradesToday, c.TickDuration)

	return c
}

// RecordEntry increments the entries counter for optionType.
func (c *Collectors) RecordEntry(optionType string) {
	c.EntriesTotal.WithLabelValues(optionType).Inc()
}

// RecordExit increments the exits counter for reason.
func (c *Collectors) RecordExit(reason string) {
	c.ExitsTotal.WithLabelValues(reason).Inc()
}

// RecordAdapterError increments the adapter-error counter for operation.
func (c *Collectors) RecordAdapterError(operation string) {
	c.AdapterErrors.WithLabelValues(operation).Inc()
}

// UpdatePortfolio sets the cash/value/position-count gauges from a
// snapshot taken under the ledger's lock.
func (c *Collectors) UpdatePortfolio(cash, totalValue float64, openPositions, tradesToday int) {
	c.PortfolioCash.Set(cash)
	c.PortfolioValue.Set(totalValue)
	c.OpenPositions.Set(float64(openPositions))
	c.TradesToday.Set(float64(tradesToday))
}
