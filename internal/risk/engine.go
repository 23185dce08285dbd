// Package risk implements the pure accounting and drawdown-response
// functions that size and throttle the agent's quoting. Every function
// here is stateless over its arguments: given the same PositionState/
// PnLState/mid map it always returns the same answer, so these are
// exercised directly by table-driven tests with no mocking required.
package risk

import (
	"math"

	"etfmm/internal/config"
	"etfmm/pkg/types"
)

// DollarExposure sums |position * mid| across symbols that have a known
// mid price. Symbols without a mid are skipped rather than treated as
// zero exposure.
func DollarExposure(positions map[string]types.PositionState, mids map[string]float64) float64 {
	var exposure float64
	for symbol, pos := range positions {
		mid, ok := mids[symbol]
		if !ok {
			continue
		}
		exposure += math.Abs(float64(pos.Position) * mid)
	}
	return exposure
}

// UpdateUnrealizedPnL recomputes pnl.Unrealized from current mids and
// raises the equity high-watermark if the new equity is a new high.
func UpdateUnrealizedPnL(pnl *types.PnLState, positions map[string]types.PositionState, mids map[string]float64) {
	var unrealized float64
	for symbol, pos := range positions {
		mid, ok := mids[symbol]
		if !ok {
			continue
		}
		unrealized += float64(pos.Position) * (mid - pos.VWAP)
	}
	pnl.Unrealized = unrealized
	pnl.UpdateHighWatermark()
}

// DrawdownPct returns the fractional drop from the equity high-watermark.
// Zero whenever the watermark is non-positive or equity is at/above it.
func DrawdownPct(pnl types.PnLState) float64 {
	if pnl.EquityHighWatermark <= 0 {
		return 0
	}
	equity := pnl.Realized + pnl.Unrealized
	drop := pnl.EquityHighWatermark - equity
	if drop <= 0 {
		return 0
	}
	return drop / pnl.EquityHighWatermark
}

// DrawdownAdjustments maps a drawdown fraction to (spreadScale, sizeScale,
// throttled). Below the soft threshold: unrestricted. At/above the hard
// threshold: stop quoting entirely. In between, severity follows a
// squared curve — gentle near the soft threshold, aggressive near the
// hard one.
func DrawdownAdjustments(drawdownPct float64) (spreadScale, sizeScale float64, throttled bool) {
	limits := config.Limits
	if drawdownPct >= limits.HardStopPct {
		return 2.0, 0.0, true
	}
	if drawdownPct <= limits.DrawdownStopPct {
		return 1.0, 1.0, false
	}

	severity := (drawdownPct - limits.DrawdownStopPct) / (limits.HardStopPct - limits.DrawdownStopPct)
	severity = math.Max(0, math.Min(1, severity))
	curved := severity * severity

	spreadScale = 1.0 + curved*config.DrawdownSpreadMult
	sizeScale = math.Max(0.2, 1.0-curved*config.DrawdownSizeReduction)
	return spreadScale, sizeScale, false
}
