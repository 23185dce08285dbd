// Package ladder keeps each symbol's resting bid/ask orders aligned with
// the ladders the quote engine wants, while respecting a hard per-second
// action budget shared across every symbol.
package ladder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"etfmm/internal/config"
	"etfmm/internal/transport"
	"etfmm/pkg/types"
)

// bpsDistance is the symmetric basis-point distance between two prices,
// relative to their midpoint. Either price non-positive is treated as an
// infinite distance, forcing a refresh.
func bpsDistance(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return math.Inf(1)
	}
	mid := (a + b) / 2.0
	return math.Abs(a-b) / mid * 10_000
}

type sideOrders map[int]types.OrderInfo

// Manager mirrors the live state of every resting order and serializes
// all order-entry actions behind a single rolling one-second budget. One
// Manager instance is shared across the whole symbol universe, matching
// the single rate limit the gateway enforces per team.
type Manager struct {
	transport transport.OrderTransport
	log       *slog.Logger

	mu     sync.Mutex
	active map[string]map[types.Side]sideOrders

	windowStart       time.Time
	actionsThisWindow int
}

// NewManager builds a Manager tracking the given symbols, initially with
// no resting orders on any side.
func NewManager(t transport.OrderTransport, symbols []string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	active := make(map[string]map[types.Side]sideOrders, len(symbols))
	for _, sym := range symbols {
		active[sym] = map[types.Side]sideOrders{
			types.Bid: {},
			types.Ask: {},
		}
	}
	return &Manager{
		transport:   t,
		log:         logger.With("component", "ladder"),
		active:      active,
		windowStart: time.Now(),
	}
}

// BudgetUtilization returns the fraction of the current one-second action
// window already consumed, in [0, 1].
func (m *Manager) BudgetUtilization() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.windowStart) >= time.Second {
		return 0
	}
	return float64(m.actionsThisWindow) / float64(config.MaxActionsPerSecond)
}

// Live returns a snapshot of every currently-resting order, for telemetry
// and tests. The returned slice is a copy; mutating it has no effect on
// manager state.
func (m *Manager) Live(symbol string) []types.OrderInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.OrderInfo
	for _, side := range []types.Side{types.Bid, types.Ask} {
		for _, info := range m.active[symbol][side] {
			out = append(out, info)
		}
	}
	return out
}

// SyncSymbol reconciles one symbol's live bid and ask ladders against the
// desired levels: missing rungs are placed, stale rungs are replaced, and
// rungs no longer desired are canceled. The whole reconciliation for this
// symbol runs under the manager's single lock, so a concurrent SyncSymbol
// for another symbol still shares the same action budget fairly.
func (m *Manager) SyncSymbol(ctx context.Context, symbol string, bids, asks []types.OrderLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[symbol]; !ok {
		m.active[symbol] = map[types.Side]sideOrders{types.Bid: {}, types.Ask: {}}
	}

	if err := m.syncSideLocked(ctx, symbol, types.Bid, bids); err != nil {
		return err
	}
	if err := m.syncSideLocked(ctx, symbol, types.Ask, asks); err != nil {
		return err
	}

	bidIdx := desiredIndexSet(bids)
	askIdx := desiredIndexSet(asks)
	m.pruneLocked(ctx, symbol, types.Bid, bidIdx)
	m.pruneLocked(ctx, symbol, types.Ask, askIdx)

	return nil
}

func desiredIndexSet(levels []types.OrderLevel) map[int]struct{} {
	set := make(map[int]struct{}, len(levels))
	for _, lvl := range levels {
		set[lvl.LevelIndex] = struct{}{}
	}
	return set
}

func (m *Manager) syncSideLocked(ctx context.Context, symbol string, side types.Side, desired []types.OrderLevel) error {
	for _, level := range desired {
		existing, ok := m.active[symbol][side][level.LevelIndex]
		switch {
		case !ok:
			info, err := m.throttledPlaceLocked(ctx, level)
			if err != nil {
				m.log.Warn("place failed", "symbol", symbol, "side", side, "level", level.LevelIndex, "error", err)
				continue
			}
			m.active[symbol][side][level.LevelIndex] = info

		case needsRefresh(existing, level):
			info, err := m.throttledReplaceLocked(ctx, existing, level)
			if err != nil {
				m.log.Warn("replace failed", "symbol", symbol, "side", side, "level", level.LevelIndex, "error", err)
				delete(m.active[symbol][side], level.LevelIndex)
				continue
			}
			m.active[symbol][side][level.LevelIndex] = info
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) pruneLocked(ctx context.Context, symbol string, side types.Side, desiredIdx map[int]struct{}) {
	for idx, info := range m.active[symbol][side] {
		if _, wanted := desiredIdx[idx]; wanted {
			continue
		}
		if err := m.throttledCancelLocked(ctx, info); err != nil {
			m.log.Warn("cancel failed", "symbol", symbol, "side", side, "level", idx, "error", err)
		}
		delete(m.active[symbol][side], idx)
	}
}

// needsRefresh reports whether a resting order's size or price has drifted
// far enough from the desired level to warrant a replace. Size changes
// always refresh; price changes only refresh once they clear the
// hysteresis band, so the manager doesn't chase every sub-tick wobble.
func needsRefresh(existing types.OrderInfo, desired types.OrderLevel) bool {
	if existing.Size != desired.Size {
		return true
	}
	return bpsDistance(existing.Price, desired.Price) >= config.MinMoveToRefreshBps
}

func (m *Manager) throttledPlaceLocked(ctx context.Context, level types.OrderLevel) (types.OrderInfo, error) {
	if err := m.reserveActionSlotLocked(ctx); err != nil {
		return types.OrderInfo{}, err
	}
	orderID, err := m.transport.Place(ctx, level)
	if err != nil {
		return types.OrderInfo{}, fmt.Errorf("place: %w", err)
	}
	return types.OrderInfo{OrderLevel: level, OrderID: orderID, CreatedAt: time.Now()}, nil
}

// A replace is one gateway cancel followed by one gateway place, but it
// draws a single slot from the action budget, the way the exchange
// client's replace_order counts as one client call even though it issues
// two wire messages.
func (m *Manager) throttledReplaceLocked(ctx context.Context, existing types.OrderInfo, level types.OrderLevel) (types.OrderInfo, error) {
	if err := m.reserveActionSlotLocked(ctx); err != nil {
		return types.OrderInfo{}, err
	}
	if err := m.transport.Cancel(ctx, existing.OrderID, existing.Symbol); err != nil {
		return types.OrderInfo{}, fmt.Errorf("replace/cancel: %w", err)
	}
	orderID, err := m.transport.Place(ctx, level)
	if err != nil {
		return types.OrderInfo{}, fmt.Errorf("replace/place: %w", err)
	}
	return types.OrderInfo{OrderLevel: level, OrderID: orderID, CreatedAt: time.Now()}, nil
}

func (m *Manager) throttledCancelLocked(ctx context.Context, info types.OrderInfo) error {
	if err := m.reserveActionSlotLocked(ctx); err != nil {
		return err
	}
	if err := m.transport.Cancel(ctx, info.OrderID, info.Symbol); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	return nil
}

// CancelAll cancels every resting order across every symbol, best-effort:
// a single cancel failure is logged and does not stop the rest of the
// sweep. Intended for shutdown.
func (m *Manager) CancelAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for symbol, sides := range m.active {
		for _, side := range []types.Side{types.Bid, types.Ask} {
			for idx, info := range sides[side] {
				if err := m.throttledCancelLocked(ctx, info); err != nil {
					m.log.Warn("cancel-all failed", "symbol", symbol, "side", side, "level", idx, "error", err)
					if firstErr == nil {
						firstErr = err
					}
				}
				delete(sides[side], idx)
			}
		}
	}
	return firstErr
}

// reserveActionSlotLocked blocks, while m.mu is held, until an action slot
// opens in the current one-second window. The window resets hard on
// expiry rather than refilling continuously, matching the gateway's own
// rolling-window rate limiter.
func (m *Manager) reserveActionSlotLocked(ctx context.Context) error {
	for {
		now := time.Now()
		elapsed := now.Sub(m.windowStart)
		if elapsed >= time.Second {
			m.windowStart = now
			m.actionsThisWindow = 0
			elapsed = 0
		}
		if m.actionsThisWindow < config.MaxActionsPerSecond {
			m.actionsThisWindow++
			return nil
		}

		wait := time.Second - elapsed
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
