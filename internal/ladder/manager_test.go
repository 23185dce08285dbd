package ladder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"etfmm/internal/config"
	"etfmm/pkg/types"
)

type fakeTransport struct {
	mu        sync.Mutex
	nextID    int64
	placed    []types.OrderLevel
	canceled  []string
	placeErr  error
	cancelErr error
}

func (f *fakeTransport) Place(_ context.Context, level types.OrderLevel) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := atomic.AddInt64(&f.nextID, 1)
	f.placed = append(f.placed, level)
	return fmt.Sprintf("%d", id), nil
}

func (f *fakeTransport) Cancel(_ context.Context, orderID string, _ string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeTransport) SubscribeFills(func(string, types.Side, int64, float64)) {}

func level(symbol string, side types.Side, idx int, price float64, size int64) types.OrderLevel {
	return types.OrderLevel{Symbol: symbol, Side: side, LevelIndex: idx, Price: price, Size: size}
}

// Invariant 5: after a sync, the live order set equals exactly the desired
// set (no stragglers, nothing missing).
func TestSyncSymbolLiveSetMatchesDesired(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	mgr := NewManager(ft, []string{config.SymbolETF}, nil)

	bids := []types.OrderLevel{level(config.SymbolETF, types.Bid, 0, 99, 100)}
	asks := []types.OrderLevel{level(config.SymbolETF, types.Ask, 0, 101, 100)}

	ctx := context.Background()
	if err := mgr.SyncSymbol(ctx, config.SymbolETF, bids, asks); err != nil {
		t.Fatalf("SyncSymbol() error = %v", err)
	}

	live := mgr.Live(config.SymbolETF)
	if len(live) != 2 {
		t.Fatalf("live orders = %d, want 2", len(live))
	}
}

// Invariant 8: repeating an identical sync issues no further actions.
func TestSyncSymbolIdempotent(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	mgr := NewManager(ft, []string{config.SymbolETF}, nil)

	bids := []types.OrderLevel{level(config.SymbolETF, types.Bid, 0, 99, 100)}
	asks := []types.OrderLevel{level(config.SymbolETF, types.Ask, 0, 101, 100)}

	ctx := context.Background()
	if err := mgr.SyncSymbol(ctx, config.SymbolETF, bids, asks); err != nil {
		t.Fatalf("first SyncSymbol() error = %v", err)
	}
	firstPlaced := len(ft.placed)

	if err := mgr.SyncSymbol(ctx, config.SymbolETF, bids, asks); err != nil {
		t.Fatalf("second SyncSymbol() error = %v", err)
	}
	if len(ft.placed) != firstPlaced {
		t.Errorf("second identical sync placed %d more orders, want 0", len(ft.placed)-firstPlaced)
	}
	if len(ft.canceled) != 0 {
		t.Errorf("second identical sync canceled %d orders, want 0", len(ft.canceled))
	}
}

// A level dropped from the desired ladder gets canceled and removed from
// the live set.
func TestSyncSymbolPrunesDroppedLevels(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	mgr := NewManager(ft, []string{config.SymbolETF}, nil)
	ctx := context.Background()

	bids := []types.OrderLevel{
		level(config.SymbolETF, types.Bid, 0, 99, 100),
		level(config.SymbolETF, types.Bid, 1, 98, 100),
	}
	if err := mgr.SyncSymbol(ctx, config.SymbolETF, bids, nil); err != nil {
		t.Fatalf("SyncSymbol() error = %v", err)
	}

	if err := mgr.SyncSymbol(ctx, config.SymbolETF, bids[:1], nil); err != nil {
		t.Fatalf("SyncSymbol() error = %v", err)
	}

	live := mgr.Live(config.SymbolETF)
	if len(live) != 1 {
		t.Fatalf("live orders after prune = %d, want 1", len(live))
	}
	if len(ft.canceled) != 1 {
		t.Errorf("canceled = %d, want 1", len(ft.canceled))
	}
}

// A price move that clears the hysteresis band triggers a replace
// (cancel+place); one that doesn't, does not.
func TestSyncSymbolRefreshHysteresis(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	mgr := NewManager(ft, []string{config.SymbolETF}, nil)
	ctx := context.Background()

	if err := mgr.SyncSymbol(ctx, config.SymbolETF, []types.OrderLevel{level(config.SymbolETF, types.Bid, 0, 100, 100)}, nil); err != nil {
		t.Fatalf("SyncSymbol() error = %v", err)
	}

	// Tiny move, well under MinMoveToRefreshBps: no replace.
	if err := mgr.SyncSymbol(ctx, config.SymbolETF, []types.OrderLevel{level(config.SymbolETF, types.Bid, 0, 100.0001, 100)}, nil); err != nil {
		t.Fatalf("SyncSymbol() error = %v", err)
	}
	if len(ft.canceled) != 0 {
		t.Errorf("tiny price move triggered %d cancels, want 0", len(ft.canceled))
	}

	// Large move: must replace.
	if err := mgr.SyncSymbol(ctx, config.SymbolETF, []types.OrderLevel{level(config.SymbolETF, types.Bid, 0, 105, 100)}, nil); err != nil {
		t.Fatalf("SyncSymbol() error = %v", err)
	}
	if len(ft.canceled) != 1 {
		t.Errorf("large price move triggered %d cancels, want 1", len(ft.canceled))
	}
}

// Invariant 4: the manager never issues more than MaxActionsPerSecond
// actions in any rolling one-second window, even under heavy churn.
func TestReserveActionSlotNeverExceedsBudget(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	mgr := NewManager(ft, []string{config.SymbolETF}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	count := config.MaxActionsPerSecond + 20
	for i := 0; i < count; i++ {
		if err := mgr.reserveActionSlotLocked(ctx); err != nil {
			t.Fatalf("reserveActionSlotLocked() error at i=%d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	// 115 actions at a 95/s budget must spill into a second window, so
	// this can never complete in well under a second.
	if elapsed < 900*time.Millisecond {
		t.Errorf("budget of %d actions completed in %v, too fast for a %d/s limit", count, elapsed, config.MaxActionsPerSecond)
	}
}

func TestPlaceFailureDropsMirrorEntryWithoutAbortingBatch(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{placeErr: fmt.Errorf("gateway rejected")}
	mgr := NewManager(ft, []string{config.SymbolETF}, nil)
	ctx := context.Background()

	bids := []types.OrderLevel{
		level(config.SymbolETF, types.Bid, 0, 99, 100),
		level(config.SymbolETF, types.Bid, 1, 98, 100),
	}
	if err := mgr.SyncSymbol(ctx, config.SymbolETF, bids, nil); err != nil {
		t.Fatalf("SyncSymbol() error = %v, want nil (failures are logged, not propagated)", err)
	}

	live := mgr.Live(config.SymbolETF)
	if len(live) != 0 {
		t.Errorf("live orders after place failures = %d, want 0", len(live))
	}
}
