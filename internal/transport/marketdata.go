package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"etfmm/internal/config"
	"etfmm/pkg/types"
)

// bookLevel mirrors the wire format of one order-book level. The
// snapshot endpoint accepts p/qty/size as synonyms for price/quantity.
type bookLevel struct {
	Price    float64 `json:"price"`
	P        float64 `json:"p"`
	Quantity float64 `json:"quantity"`
	Qty      float64 `json:"qty"`
	Size     float64 `json:"size"`
}

func (l bookLevel) price() float64 {
	if l.Price != 0 {
		return l.Price
	}
	return l.P
}

func (l bookLevel) size() int64 {
	switch {
	case l.Quantity != 0:
		return int64(l.Quantity)
	case l.Qty != 0:
		return int64(l.Qty)
	default:
		return int64(l.Size)
	}
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

// SnapshotClient is an HTTP client for the competition's order-book
// snapshot endpoint, GET /orderbook/{symbol}?depth=N. It retries on 5xx
// the way the teacher's CLOB REST client does, and enforces the 0.2s
// per-request timeout spec.md mandates for snapshot fetches.
type SnapshotClient struct {
	http *resty.Client
}

// NewSnapshotClient builds a SnapshotClient against baseURL.
func NewSnapshotClient(baseURL string) *SnapshotClient {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(config.SnapshotHTTPTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(20 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &SnapshotClient{http: http}
}

// GetOrderBook fetches depth levels of both sides for symbol. A timeout or
// non-200 response is returned as an error; callers are expected to drop
// the symbol for this tick rather than propagate the failure further.
func (c *SnapshotClient) GetOrderBook(ctx context.Context, symbol string, depth int) (types.MarketSnapshot, error) {
	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("depth", fmt.Sprintf("%d", depth)).
		SetResult(&result).
		Get(fmt.Sprintf("/orderbook/%s", symbol))
	if err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("get orderbook %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.MarketSnapshot{}, fmt.Errorf("get orderbook %s: status %d", symbol, resp.StatusCode())
	}

	book := types.OrderBook{
		Bids: make([]types.MarketLevel, 0, len(result.Bids)),
		Asks: make([]types.MarketLevel, 0, len(result.Asks)),
	}
	for _, lvl := range result.Bids {
		book.Bids = append(book.Bids, types.MarketLevel{Price: lvl.price(), Size: lvl.size()})
	}
	for _, lvl := range result.Asks {
		book.Asks = append(book.Asks, types.MarketLevel{Price: lvl.price(), Size: lvl.size()})
	}

	return types.MarketSnapshot{Symbol: symbol, Book: book, Timestamp: time.Now()}, nil
}
