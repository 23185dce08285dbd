package strategy

import (
	"context"
	"math"
	"testing"

	"etfmm/internal/config"
	"etfmm/internal/ladder"
	"etfmm/internal/transport"
	"etfmm/pkg/types"
)

type stubMarketData struct {
	books map[string]types.MarketSnapshot
}

func (s *stubMarketData) GetOrderBook(_ context.Context, symbol string, _ int) (types.MarketSnapshot, error) {
	return s.books[symbol], nil
}

type noopTransport struct{}

func (noopTransport) Place(context.Context, types.OrderLevel) (string, error) { return "1", nil }
func (noopTransport) Cancel(context.Context, string, string) error           { return nil }
func (noopTransport) SubscribeFills(transport.FillHandler)                   {}

func newTestCoordinator() *Coordinator {
	mgr := ladder.NewManager(noopTransport{}, config.AllSymbols, nil)
	market := &stubMarketData{books: map[string]types.MarketSnapshot{}}
	return NewCoordinator(market, mgr, config.DefaultSymbolConfigs, nil)
}

// Invariant 7: a buy fill followed by an equal-size sell fill at the same
// price returns position to flat and realized PnL reflects exactly the
// spread captured, with no residual VWAP drift.
func TestRegisterFillRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator()
	c.RegisterFill(config.SymbolETF, types.Bid, 100, 50.0)
	c.RegisterFill(config.SymbolETF, types.Ask, 100, 50.5)

	c.mu.Lock()
	pos := c.positions[config.SymbolETF]
	realized := c.pnl.Realized
	c.mu.Unlock()

	if pos.Position != 0 {
		t.Errorf("position after round trip = %d, want 0", pos.Position)
	}
	want := 100 * 0.5
	if math.Abs(realized-want) > 1e-9 {
		t.Errorf("realized pnl = %v, want %v", realized, want)
	}
}

// S3: a sell fill larger than the existing long position flips it to
// short with a fresh VWAP at the crossing price, realizing PnL only on
// the portion that closed the long.
func TestRegisterFillThroughZero(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator()
	c.RegisterFill(config.SymbolETF, types.Bid, 100, 10.0)
	c.RegisterFill(config.SymbolETF, types.Ask, 150, 11.0)

	c.mu.Lock()
	pos := c.positions[config.SymbolETF]
	realized := c.pnl.Realized
	c.mu.Unlock()

	if pos.Position != -50 {
		t.Fatalf("position = %d, want -50", pos.Position)
	}
	if pos.VWAP != 11.0 {
		t.Errorf("vwap after flip = %v, want 11.0 (fresh, at crossing price)", pos.VWAP)
	}
	wantRealized := 100 * (11.0 - 10.0)
	if math.Abs(realized-wantRealized) > 1e-9 {
		t.Errorf("realized = %v, want %v (only the closing 100 units)", realized, wantRealized)
	}
}

func TestRegisterFillVWAPAccumulatesSameDirection(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator()
	c.RegisterFill(config.SymbolXYZ, types.Bid, 100, 10.0)
	c.RegisterFill(config.SymbolXYZ, types.Bid, 100, 20.0)

	c.mu.Lock()
	pos := c.positions[config.SymbolXYZ]
	c.mu.Unlock()

	if pos.Position != 200 {
		t.Fatalf("position = %d, want 200", pos.Position)
	}
	if pos.VWAP != 15.0 {
		t.Errorf("vwap = %v, want 15.0", pos.VWAP)
	}
}

// Invariant 9: the ETF's bid/ask size scales move in opposite directions
// as mispricing flips sign, and a constituent's response is the mirror of
// the ETF's, scaled by its basket weight.
func TestSideSizeScalesMispricingAsymmetry(t *testing.T) {
	t.Parallel()

	etfBid, etfAsk := sideSizeScales(config.SymbolETF, 30.0)
	if !(etfAsk > etfBid) {
		t.Errorf("ETF rich (positive mispricing): ask scale %v should exceed bid scale %v (sell harder)", etfAsk, etfBid)
	}

	etfBidNeg, etfAskNeg := sideSizeScales(config.SymbolETF, -30.0)
	if !(etfBidNeg > etfAskNeg) {
		t.Errorf("ETF cheap (negative mispricing): bid scale %v should exceed ask scale %v (buy harder)", etfBidNeg, etfAskNeg)
	}

	xyzBid, xyzAsk := sideSizeScales(config.SymbolXYZ, 30.0)
	if !(xyzBid > xyzAsk) {
		t.Errorf("constituent response should mirror the ETF: bid %v should exceed ask %v when ETF is rich", xyzBid, xyzAsk)
	}
}

func TestSideSizeScalesZeroMispricingIsNeutral(t *testing.T) {
	t.Parallel()
	bid, ask := sideSizeScales(config.SymbolETF, 0.0)
	if bid != 1.0 || ask != 1.0 {
		t.Errorf("sideSizeScales(0) = (%v, %v), want (1.0, 1.0)", bid, ask)
	}
}

// S6: when every basket constituent mid is missing, the synthetic fair
// falls back to the ETF's own mid instead of refusing to quote.
func TestComputeSyntheticFairFallsBackToETFMid(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator()
	midMap := map[string]float64{config.SymbolETF: 42.0}

	fair, ok := c.computeSyntheticFair(midMap)
	if !ok {
		t.Fatal("computeSyntheticFair() ok = false, want true (ETF mid fallback)")
	}
	if fair != 42.0 {
		t.Errorf("fair = %v, want 42.0", fair)
	}
}

func TestComputeMispricingBpsZeroWithoutFair(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator()
	got := c.computeMispricingBps(map[string]float64{}, 0, false)
	if got != 0 {
		t.Errorf("computeMispricingBps() = %v, want 0", got)
	}
}

func TestExposureSizeScaleClampsAboveLimit(t *testing.T) {
	t.Parallel()

	if got := exposureSizeScale(0); got != 1.0 {
		t.Errorf("exposureSizeScale(0) = %v, want 1.0", got)
	}
	limit := config.Limits.MaxDollarExposure
	if got := exposureSizeScale(limit * 10); got < 0.25 || got > 1.0 {
		t.Errorf("exposureSizeScale(10x limit) = %v, want in [0.25, 1.0]", got)
	}
}
