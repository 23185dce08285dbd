// Package quote builds layered passive bid/ask ladders from a market
// snapshot and a fair-value/risk context. It is pure: given the same
// inputs it always returns the same ladders, and it never signals an
// error — degenerate inputs simply produce empty ladders.
package quote

import (
	"math"

	"etfmm/internal/config"
	"etfmm/pkg/types"
)

// Context carries the per-tick inputs the ladder construction needs beyond
// the raw snapshot: the fair-value estimate, the symbol's current
// volatility, its inventory skew, and the risk-derived scaling factors.
type Context struct {
	FairValue        float64
	VolatilityBps    float64
	InventorySkewBps float64
	SpreadScale      float64
	SizeScale        float64
	BidSizeScale     float64
	AskSizeScale     float64
}

// InventorySkewBps computes the bps skew applied to bid/ask offsets from a
// signed position and the symbol's position limit. Positive skew pulls
// bids back (long inventory); negative skew pulls asks back (short).
func InventorySkewBps(position, limit int64) float64 {
	if limit == 0 {
		return 0
	}
	ratio := float64(position) / float64(limit)
	if ratio > 1 {
		ratio = 1
	} else if ratio < -1 {
		ratio = -1
	}
	return math.Trunc(config.InventorySkewBps * ratio)
}

// BuildLadders constructs the desired bid and ask ladders for one symbol.
//
// mid is ctx.FairValue if positive, else the snapshot's own mid; if neither
// is usable, both ladders are empty. Each level widens by LevelSpreadStepBps
// and grows size geometrically by SizeMultiplier, starting from BaseSize.
func BuildLadders(snapshot types.MarketSnapshot, ctx Context, cfg config.SymbolConfig) (bids, asks []types.OrderLevel) {
	mid := ctx.FairValue
	if mid <= 0 {
		m, ok := snapshot.Book.Mid()
		if !ok || m <= 0 {
			return nil, nil
		}
		mid = m
	}

	baseSpreadBps := cfg.BaseSpreadBps*ctx.SpreadScale + ctx.VolatilityBps
	levelStepBps := cfg.LevelSpreadStepBps * ctx.SpreadScale
	makerEdgeBps := config.EffectiveMakerEdgeBps / 2.0

	currentSize := cfg.BaseSize
	if currentSize < 1 {
		currentSize = 1
	}

	for i := 0; i < cfg.MaxLevels; i++ {
		offsetBps := baseSpreadBps + float64(i)*levelStepBps

		baseSizeI := int64(float64(currentSize) * ctx.SizeScale)
		if baseSizeI < 1 {
			baseSizeI = 1
		}
		bidSize := int64(float64(baseSizeI) * ctx.BidSizeScale)
		if bidSize < 1 {
			bidSize = 1
		}
		askSize := int64(float64(baseSizeI) * ctx.AskSizeScale)
		if askSize < 1 {
			askSize = 1
		}

		bidBps := offsetBps + math.Max(ctx.InventorySkewBps, 0)
		askBps := offsetBps + math.Max(-ctx.InventorySkewBps, 0)

		bidPrice := priceFromBps(mid, bidBps-makerEdgeBps, types.Bid)
		askPrice := priceFromBps(mid, askBps-makerEdgeBps, types.Ask)

		bids = append(bids, types.OrderLevel{
			Symbol: snapshot.Symbol, Side: types.Bid, LevelIndex: i,
			Price: bidPrice, Size: bidSize,
		})
		asks = append(asks, types.OrderLevel{
			Symbol: snapshot.Symbol, Side: types.Ask, LevelIndex: i,
			Price: askPrice, Size: askSize,
		})

		currentSize = int64(float64(currentSize) * cfg.SizeMultiplier)
		if currentSize < 1 {
			currentSize = 1
		}
	}

	return bids, asks
}

// priceFromBps converts an offset in bps away from mid into a price on the
// given side. The offset is floored at 1 bps, which is what lets the
// maker-edge subtraction invert sign at very tight base spreads — see
// DESIGN.md for why that's preserved rather than clamped to zero.
func priceFromBps(mid, bps float64, side types.Side) float64 {
	effectiveBps := math.Max(1.0, bps)
	delta := mid * (effectiveBps / 10_000)
	if side == types.Bid {
		return math.Max(0.01, mid-delta)
	}
	return mid + delta
}

// EstimateNotional sums price*size across a set of levels; used by the
// coordinator to scale aggregate resting notional toward a target.
func EstimateNotional(levels []types.OrderLevel) float64 {
	var total float64
	for _, l := range levels {
		total += l.Price * float64(l.Size)
	}
	return total
}
