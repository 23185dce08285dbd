// Package metrics defines the Prometheus instrumentation the coordinator
// updates every tick and the status server exposes at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// MispricingBps is the signed ETF-vs-synthetic mispricing, in basis
	// points, as of the most recent tick.
	MispricingBps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_etf_mispricing_bps",
		Help: "Signed basis-point mispricing of the ETF against its synthetic fair value.",
	})

	// DollarExposure is the current absolute dollar exposure across the
	// symbol universe.
	DollarExposure = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_dollar_exposure",
		Help: "Absolute dollar exposure summed across all symbols.",
	})

	// DrawdownPct is the fractional drawdown from the equity high-watermark.
	DrawdownPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_drawdown_pct",
		Help: "Fractional drawdown from the equity high-watermark.",
	})

	// SizeScale is the blended size multiplier applied this tick
	// (drawdown x exposure x resting-notional scale).
	SizeScale = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_size_scale",
		Help: "Blended order-size multiplier applied on the most recent tick.",
	})

	// RealizedPnL and UnrealizedPnL track the strategy's running PnL.
	RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_realized_pnl_usd",
		Help: "Cumulative realized PnL in dollars.",
	})
	UnrealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_unrealized_pnl_usd",
		Help: "Mark-to-market unrealized PnL in dollars.",
	})

	// Position reports signed inventory per symbol.
	Position = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mm_position",
		Help: "Signed resting position per symbol.",
	}, []string{"symbol"})

	// VolatilityBps reports the EWMA move-size estimate per symbol.
	VolatilityBps = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mm_volatility_bps",
		Help: "EWMA-smoothed basis-point move size per symbol.",
	}, []string{"symbol"})

	// ActionsThisWindow reports the ladder manager's rolling one-second
	// action-budget utilization, as a fraction in [0, 1].
	ActionBudgetUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_action_budget_utilization",
		Help: "Fraction of the per-second order-action budget consumed on the most recent tick.",
	})

	// ThrottledTicks counts ticks where quoting was fully suspended by
	// the drawdown stop.
	ThrottledTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mm_throttled_ticks_total",
		Help: "Number of ticks where quoting was suspended by the drawdown hard stop.",
	})

	// FillsTotal counts fills received, by symbol and side.
	FillsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_fills_total",
		Help: "Fills received, by symbol and side.",
	}, []string{"symbol", "side"})
)

// Registry is the collector registry the status server serves. Building a
// dedicated registry instead of using prometheus.DefaultRegisterer keeps
// this package's metrics from colliding with any other library that also
// registers into the default one.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		MispricingBps,
		DollarExposure,
		DrawdownPct,
		SizeScale,
		RealizedPnL,
		UnrealizedPnL,
		Position,
		VolatilityBps,
		ActionBudgetUtilization,
		ThrottledTicks,
		FillsTotal,
	)
}
