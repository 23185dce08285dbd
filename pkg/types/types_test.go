package types

import "testing"

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if got := Bid.Opposite(); got != Ask {
		t.Errorf("Bid.Opposite() = %q, want %q", got, Ask)
	}
	if got := Ask.Opposite(); got != Bid {
		t.Errorf("Ask.Opposite() = %q, want %q", got, Bid)
	}
}

func TestOrderBookMid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		book    OrderBook
		wantMid float64
		wantOK  bool
	}{
		{
			name: "both sides present",
			book: OrderBook{
				Bids: []MarketLevel{{Price: 99, Size: 10}},
				Asks: []MarketLevel{{Price: 101, Size: 10}},
			},
			wantMid: 100,
			wantOK:  true,
		},
		{
			name: "no bids",
			book: OrderBook{Asks: []MarketLevel{{Price: 101, Size: 10}}},
			wantOK: false,
		},
		{
			name: "no asks",
			book: OrderBook{Bids: []MarketLevel{{Price: 99, Size: 10}}},
			wantOK: false,
		},
		{
			name:   "empty book",
			book:   OrderBook{},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mid, ok := tt.book.Mid()
			if ok != tt.wantOK {
				t.Fatalf("Mid() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && mid != tt.wantMid {
				t.Errorf("Mid() = %v, want %v", mid, tt.wantMid)
			}
		})
	}
}

func TestPnLStateUpdateHighWatermark(t *testing.T) {
	t.Parallel()

	pnl := &PnLState{Realized: 10, Unrealized: 5, EquityHighWatermark: 0}
	pnl.UpdateHighWatermark()
	if pnl.EquityHighWatermark != 15 {
		t.Errorf("high watermark = %v, want 15", pnl.EquityHighWatermark)
	}

	// A drop in equity must not lower the watermark.
	pnl.Unrealized = -20
	pnl.UpdateHighWatermark()
	if pnl.EquityHighWatermark != 15 {
		t.Errorf("high watermark dropped to %v, want unchanged 15", pnl.EquityHighWatermark)
	}

	// A new high raises it.
	pnl.Unrealized = 50
	pnl.UpdateHighWatermark()
	if pnl.EquityHighWatermark != 60 {
		t.Errorf("high watermark = %v, want 60", pnl.EquityHighWatermark)
	}
}
