// Package strategy coordinates market data, quoting, and risk controls
// for the fixed four-symbol ETF/basket universe: one tick loop that
// refreshes snapshots concurrently, derives a synthetic fair value and
// mispricing signal from the basket, and reconciles every symbol's order
// ladder through a shared rate-limited manager.
package strategy

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"etfmm/internal/config"
	"etfmm/internal/ladder"
	"etfmm/internal/metrics"
	"etfmm/internal/quote"
	"etfmm/internal/risk"
	"etfmm/internal/statusserver"
	"etfmm/internal/transport"
	"etfmm/pkg/types"
)

// Coordinator runs the tick loop described in spec.md §4: refresh books,
// update risk state, compute the synthetic fair value and mispricing
// signal, then quote every symbol and reconcile ladders.
type Coordinator struct {
	market    transport.MarketDataClient
	orders    *ladder.Manager
	symbolCfg map[string]config.SymbolConfig

	logger *slog.Logger

	mu                sync.Mutex
	positions         map[string]types.PositionState
	pnl               types.PnLState
	snapshots         map[string]types.MarketSnapshot
	volatilityBps     map[string]float64
	lastMid           map[string]float64
	lastMetricsLog    time.Time
	lastMispricingBps float64
	lastThrottled     bool
}

// NewCoordinator wires a Coordinator against a market-data client and an
// order-ladder manager already bound to an OrderTransport. Fills arriving
// on that transport must be routed to RegisterFill (usually via
// transport.SubscribeFills).
func NewCoordinator(market transport.MarketDataClient, orders *ladder.Manager, symbolCfg map[string]config.SymbolConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	positions := make(map[string]types.PositionState, len(config.AllSymbols))
	volatility := make(map[string]float64, len(config.AllSymbols))
	for _, sym := range config.AllSymbols {
		positions[sym] = types.PositionState{Symbol: sym}
		volatility[sym] = symbolCfg[sym].BaseSpreadBps
	}

	return &Coordinator{
		market:        market,
		orders:        orders,
		symbolCfg:     symbolCfg,
		logger:        logger.With("component", "strategy"),
		positions:     positions,
		snapshots:     make(map[string]types.MarketSnapshot, len(config.AllSymbols)),
		volatilityBps: volatility,
		lastMid:       make(map[string]float64, len(config.AllSymbols)),
	}
}

// Run ticks at config.LoopDelay until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(config.LoopDelay)
	defer ticker.Stop()

	c.logger.Info("strategy started", "symbols", config.AllSymbols, "loop_delay", config.LoopDelay)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	c.refreshOrderBooks(ctx)

	midMap := c.midMap()
	if len(midMap) == 0 {
		return
	}

	c.mu.Lock()
	risk.UpdateUnrealizedPnL(&c.pnl, c.positions, midMap)
	pnlSnapshot := c.pnl
	positionsSnapshot := clonePositions(c.positions)
	c.mu.Unlock()

	drawdownPct := risk.DrawdownPct(pnlSnapshot)
	spreadScale, sizeScale, throttled := risk.DrawdownAdjustments(drawdownPct)

	exposure := risk.DollarExposure(positionsSnapshot, midMap)
	sizeScale *= exposureSizeScale(exposure)
	sizeScale *= c.restingNotionalScale(midMap)

	if throttled || sizeScale == 0.0 {
		metrics.ThrottledTicks.Inc()
		if err := c.orders.CancelAll(ctx); err != nil {
			c.logger.Warn("cancel-all during throttle failed", "error", err)
		}
		c.mu.Lock()
		c.lastMispricingBps = 0
		c.lastThrottled = true
		c.mu.Unlock()
		c.recordMetrics(0, exposure, drawdownPct, sizeScale, pnlSnapshot)
		return
	}

	syntheticFair, haveFair := c.computeSyntheticFair(midMap)
	mispricingBps := c.computeMispricingBps(midMap, syntheticFair, haveFair)

	c.mu.Lock()
	c.lastMispricingBps = mispricingBps
	c.lastThrottled = false
	c.mu.Unlock()

	c.quoteAll(ctx, midMap, syntheticFair, haveFair, spreadScale, sizeScale, mispricingBps, positionsSnapshot)
	c.recordMetrics(mispricingBps, exposure, drawdownPct, sizeScale, pnlSnapshot)
}

func clonePositions(src map[string]types.PositionState) map[string]types.PositionState {
	out := make(map[string]types.PositionState, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// refreshOrderBooks fetches every symbol's snapshot concurrently via
// errgroup; a single symbol's fetch failure is logged and that symbol
// simply keeps its last-known snapshot for this tick.
func (c *Coordinator) refreshOrderBooks(ctx context.Context) {
	var g errgroup.Group
	results := make([]types.MarketSnapshot, len(config.AllSymbols))
	oks := make([]bool, len(config.AllSymbols))

	for i, symbol := range config.AllSymbols {
		i, symbol := i, symbol
		g.Go(func() error {
			snap, err := c.market.GetOrderBook(ctx, symbol, 10)
			if err != nil {
				c.logger.Debug("orderbook refresh failed", "symbol", symbol, "error", err)
				return nil
			}
			results[i] = snap
			oks[i] = true
			return nil
		})
	}
	_ = g.Wait() // symbol fetches never return a non-nil error; failures are logged in place.

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, symbol := range config.AllSymbols {
		if !oks[i] {
			continue
		}
		c.snapshots[symbol] = results[i]
		if mid, ok := results[i].Book.Mid(); ok {
			c.updateVolatilityLocked(symbol, mid)
		}
	}
}

func (c *Coordinator) updateVolatilityLocked(symbol string, mid float64) {
	if mid <= 0 {
		return
	}
	previous, hadPrevious := c.lastMid[symbol]
	c.lastMid[symbol] = mid
	if !hadPrevious || previous <= 0 {
		if c.volatilityBps[symbol] < config.VolatilityFloorBps {
			c.volatilityBps[symbol] = config.VolatilityFloorBps
		}
		metrics.VolatilityBps.WithLabelValues(symbol).Set(c.volatilityBps[symbol])
		return
	}
	moveBps := math.Abs(mid-previous) / previous * 10_000
	prior := c.volatilityBps[symbol]
	c.volatilityBps[symbol] = (1-config.VolSmoothingAlpha)*prior + config.VolSmoothingAlpha*moveBps
	metrics.VolatilityBps.WithLabelValues(symbol).Set(c.volatilityBps[symbol])
}

func (c *Coordinator) midMap() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	mids := make(map[string]float64, len(c.snapshots))
	for symbol, snap := range c.snapshots {
		if mid, ok := snap.Book.Mid(); ok {
			mids[symbol] = mid
		}
	}
	return mids
}

// computeSyntheticFair blends the basket constituents' mids by
// SyntheticWeights. If every constituent is missing, it falls back to the
// ETF's own mid rather than refusing to quote (see DESIGN.md: Open
// Question on partial-constituent fallback, preserved as-is).
func (c *Coordinator) computeSyntheticFair(midMap map[string]float64) (float64, bool) {
	var total, weightSum float64
	for symbol, weight := range config.SyntheticWeights {
		mid, ok := midMap[symbol]
		if !ok {
			continue
		}
		total += weight * mid
		weightSum += weight
	}
	if weightSum == 0 {
		mid, ok := midMap[config.SymbolETF]
		return mid, ok
	}
	return total, true
}

func (c *Coordinator) computeMispricingBps(midMap map[string]float64, fair float64, haveFair bool) float64 {
	if !haveFair || fair <= 0 {
		return 0
	}
	etfMid, ok := midMap[config.SymbolETF]
	if !ok || etfMid <= 0 {
		return 0
	}
	return (etfMid - fair) / fair * 10_000
}

func (c *Coordinator) quoteAll(
	ctx context.Context,
	midMap map[string]float64,
	syntheticFair float64,
	haveFair bool,
	spreadScale, sizeScale, mispricingBps float64,
	positions map[string]types.PositionState,
) {
	order := make([]string, len(config.AllSymbols))
	copy(order, config.AllSymbols)
	sort.Slice(order, func(i, j int) bool {
		return symbolPriority(order[i], mispricingBps, positions) > symbolPriority(order[j], mispricingBps, positions)
	})

	c.mu.Lock()
	snapshots := make(map[string]types.MarketSnapshot, len(c.snapshots))
	for k, v := range c.snapshots {
		snapshots[k] = v
	}
	volatility := make(map[string]float64, len(c.volatilityBps))
	for k, v := range c.volatilityBps {
		volatility[k] = v
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, symbol := range order {
		symbol := symbol
		snapshot, ok := snapshots[symbol]
		if !ok {
			continue
		}

		var fairValue float64
		if symbol == config.SymbolETF {
			if !haveFair {
				continue
			}
			fairValue = syntheticFair
		} else {
			mid, ok := midMap[symbol]
			if !ok {
				continue
			}
			fairValue = mid
		}

		inventorySkew := quote.InventorySkewBps(positions[symbol].Position, config.Limits.MaxPosition)
		spreadMultiplier := spreadScaleAdjust(symbol, mispricingBps)
		bidScale, askScale := sideSizeScales(symbol, mispricingBps)

		vol := volatility[symbol]
		if vol < 1.0 {
			vol = 1.0
		}

		qctx := quote.Context{
			FairValue:        fairValue,
			VolatilityBps:    vol,
			InventorySkewBps: inventorySkew,
			SpreadScale:      spreadScale * spreadMultiplier,
			SizeScale:        sizeScale,
			BidSizeScale:     bidScale,
			AskSizeScale:     askScale,
		}
		bids, asks := quote.BuildLadders(snapshot, qctx, c.symbolCfg[symbol])

		g.Go(func() error {
			if err := c.orders.SyncSymbol(ctx, symbol, bids, asks); err != nil {
				c.logger.Warn("sync symbol failed", "symbol", symbol, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func symbolPriority(symbol string, mispricingBps float64, positions map[string]types.PositionState) float64 {
	mispricingComponent := math.Abs(mispricingBps)
	if symbol != config.SymbolETF {
		mispricingComponent *= config.SyntheticWeights[symbol]
	}
	maxPos := config.Limits.MaxPosition
	if maxPos < 1 {
		maxPos = 1
	}
	inventoryRatio := math.Abs(float64(positions[symbol].Position)) / float64(maxPos)
	priority := mispricingComponent + inventoryRatio*config.InventoryPriorityWeight
	if symbol == config.SymbolETF {
		priority += 10.0
	}
	return priority
}

func mispricingIntensity(mispricingBps, weight float64) float64 {
	if weight <= 0 {
		return 0
	}
	base := math.Min(math.Abs(mispricingBps)/math.Max(1.0, config.MispricingIntensityBps), 1.0)
	return math.Max(0, math.Min(1, base*weight))
}

func spreadScaleAdjust(symbol string, mispricingBps float64) float64 {
	weight := 1.0
	if symbol != config.SymbolETF {
		weight = config.SyntheticWeights[symbol]
	}
	intensity := mispricingIntensity(mispricingBps, weight)
	return 1.0 + intensity*config.MispricingSpreadWiden
}

// sideSizeScales returns (bidScale, askScale): the ETF grows the side that
// fades the mispricing and shrinks the side that would extend it; each
// constituent mirrors the direction scaled by its basket weight, since
// buying/selling a constituent drags the synthetic fair the opposite way
// the ETF mispricing needs to close.
func sideSizeScales(symbol string, mispricingBps float64) (bidScale, askScale float64) {
	weight := 1.0
	if symbol != config.SymbolETF {
		weight = config.SyntheticWeights[symbol]
	}
	if mispricingBps == 0.0 || weight <= 0 {
		return 1.0, 1.0
	}
	intensity := mispricingIntensity(mispricingBps, weight)
	bonus := 1.0 + intensity*config.MispricingSizeBonus
	penalty := math.Max(0.5, 1.0-intensity*config.MispricingSizePenalty)

	if symbol == config.SymbolETF {
		if mispricingBps > 0 {
			return penalty, bonus
		}
		return bonus, penalty
	}
	if mispricingBps > 0 {
		return bonus, penalty
	}
	return penalty, bonus
}

func (c *Coordinator) restingNotionalScale(midMap map[string]float64) float64 {
	var base float64
	for symbol, cfg := range c.symbolCfg {
		mid, ok := midMap[symbol]
		if !ok {
			continue
		}
		var sizeSum float64
		size := float64(cfg.BaseSize)
		for i := 0; i < cfg.MaxLevels; i++ {
			sizeSum += size
			size = math.Max(1, math.Trunc(size*cfg.SizeMultiplier))
		}
		base += 2 * mid * sizeSum
	}
	if base <= 0 {
		return 1.0
	}
	ratio := config.TargetRestingNotional / base
	return math.Max(0.5, math.Min(3.0, ratio))
}

func exposureSizeScale(exposure float64) float64 {
	limit := config.Limits.MaxDollarExposure
	if exposure <= 0 || exposure <= limit {
		return 1.0
	}
	scale := limit / exposure
	return math.Max(0.25, math.Min(1.0, scale))
}

func (c *Coordinator) recordMetrics(mispricingBps, exposure, drawdownPct, sizeScale float64, pnl types.PnLState) {
	metrics.MispricingBps.Set(mispricingBps)
	metrics.DollarExposure.Set(exposure)
	metrics.DrawdownPct.Set(drawdownPct)
	metrics.SizeScale.Set(sizeScale)
	metrics.RealizedPnL.Set(pnl.Realized)
	metrics.UnrealizedPnL.Set(pnl.Unrealized)
	metrics.ActionBudgetUtilization.Set(c.orders.BudgetUtilization())

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastMetricsLog) < config.TelemetryInterval {
		return
	}
	c.lastMetricsLog = time.Now()
	c.logger.Info("telemetry",
		"mispricing_bps", mispricingBps,
		"exposure_usd", exposure,
		"drawdown_pct", drawdownPct*100,
		"size_scale", sizeScale,
		"realized_usd", pnl.Realized,
		"unrealized_usd", pnl.Unrealized,
	)
}

// RegisterFill folds a reported fill into position state and realized
// PnL. It must be registered with the order transport's SubscribeFills so
// every gateway fill reaches it; it is safe to call concurrently with
// Run's tick loop.
func (c *Coordinator) RegisterFill(symbol string, side types.Side, size int64, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.positions[symbol]
	signedQty := size
	if side == types.Ask {
		signedQty = -size
	}
	prePosition := state.Position

	switch {
	case prePosition > 0 && signedQty < 0:
		closing := minInt64(prePosition, absInt64(signedQty))
		c.pnl.Realized += float64(closing) * (price - state.VWAP)
	case prePosition < 0 && signedQty > 0:
		closing := minInt64(absInt64(prePosition), signedQty)
		c.pnl.Realized += float64(closing) * (state.VWAP - price)
	}

	newPosition := prePosition + signedQty

	sameDirection := prePosition == 0 ||
		(prePosition > 0 && signedQty > 0) ||
		(prePosition < 0 && signedQty < 0)

	if sameDirection {
		totalSize := absInt64(prePosition) + absInt64(signedQty)
		if totalSize > 0 {
			state.VWAP = (state.VWAP*float64(absInt64(prePosition)) + price*float64(absInt64(signedQty))) / float64(totalSize)
		}
	} else {
		residual := newPosition
		switch {
		case residual == 0:
			state.VWAP = price
		case (residual > 0 && signedQty > 0) || (residual < 0 && signedQty < 0):
			state.VWAP = price
		}
	}

	state.Position = newPosition
	c.positions[symbol] = state

	metrics.Position.WithLabelValues(symbol).Set(float64(newPosition))
	metrics.FillsTotal.WithLabelValues(symbol, string(side)).Inc()
}

// Status returns a point-in-time snapshot for the status server.
func (c *Coordinator) Status() statusserver.StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := make(map[string]int64, len(c.positions))
	vwap := make(map[string]float64, len(c.positions))
	for symbol, pos := range c.positions {
		positions[symbol] = pos.Position
		vwap[symbol] = pos.VWAP
	}

	return statusserver.StatusSnapshot{
		Positions:     positions,
		VWAP:          vwap,
		RealizedPnL:   c.pnl.Realized,
		UnrealizedPnL: c.pnl.Unrealized,
		DrawdownPct:   risk.DrawdownPct(c.pnl),
		MispricingBps: c.lastMispricingBps,
		Throttled:     c.lastThrottled,
		UpdatedAt:     time.Now(),
	}
}

// CancelAll cancels every resting order; intended for graceful shutdown.
func (c *Coordinator) CancelAll(ctx context.Context) error {
	return c.orders.CancelAll(ctx)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
