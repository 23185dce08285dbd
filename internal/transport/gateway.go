package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"etfmm/internal/config"
	"etfmm/pkg/types"
)

// Wire message types on the response stream. Only fills (msgTypeFill) are
// surfaced to strategy code; acks and rejects are logged and dropped.
const (
	msgTypeAck    uint32 = 0
	msgTypeReject uint32 = 1
	msgTypeFill   uint32 = 2
)

const (
	requestFrameSize  = 40
	responseFrameSize = 64
)

const (
	reqNewOrder uint32 = 0
	reqCancel   uint32 = 1
)

// sideWire maps a domain Side onto the protocol's 0=bid/1=ask encoding.
func sideWire(s types.Side) uint32 {
	if s == types.Bid {
		return 0
	}
	return 1
}

func sideFromWire(v uint32) types.Side {
	if v == 0 {
		return types.Bid
	}
	return types.Ask
}

// GatewayClient is a binary-protocol client for the competition's order
// gateway: a fixed-size request frame per command, and a fixed-size
// response frame per ack/reject/fill pushed back on the same connection.
// Fills are dispatched to any handlers registered via SubscribeFills.
type GatewayClient struct {
	conn   net.Conn
	reader *bufio.Reader
	writeM sync.Mutex

	clientSeq uint64

	mu             sync.Mutex
	orderClientIDs map[uint64]uint64
	orderSymbolIDs map[uint64]uint32

	fillM    sync.Mutex
	handlers []FillHandler

	log *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// DialGateway connects to host:port and starts the background response
// reader. The caller must call Close when finished.
func DialGateway(ctx context.Context, host string, port int, logger *slog.Logger) (*GatewayClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	c := &GatewayClient{
		conn:           conn,
		reader:         bufio.NewReaderSize(conn, responseFrameSize*16),
		orderClientIDs: make(map[uint64]uint64),
		orderSymbolIDs: make(map[uint64]uint32),
		log:            logger.With("component", "gateway"),
		done:           make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the connection and stops the response reader.
func (c *GatewayClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// SubscribeFills registers handler to be invoked for every fill frame.
func (c *GatewayClient) SubscribeFills(handler FillHandler) {
	c.fillM.Lock()
	defer c.fillM.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Place encodes and sends a new-order request, returning the gateway's
// assigned order id as a decimal string once the write succeeds. The
// gateway protocol does not synchronously ack placement, so the returned
// id is provisional: it is the client-generated id used to key future
// cancels, mirroring the teacher's exchange client's client_id scheme.
func (c *GatewayClient) Place(ctx context.Context, level types.OrderLevel) (string, error) {
	symbolIDInt, ok := config.SymbolIDs[level.Symbol]
	if !ok {
		return "", fmt.Errorf("place order: unknown symbol %q", level.Symbol)
	}
	symbolID := uint32(symbolIDInt)
	clientID := atomic.AddUint64(&c.clientSeq, 1)
	priceTicks := types.PriceToTicks(level.Price, config.OrderPriceScale)

	frame := make([]byte, requestFrameSize)
	binary.BigEndian.PutUint32(frame[0:4], reqNewOrder)
	binary.BigEndian.PutUint64(frame[4:12], clientID)
	binary.BigEndian.PutUint32(frame[12:16], symbolID)
	binary.BigEndian.PutUint32(frame[16:20], sideWire(level.Side))
	binary.BigEndian.PutUint64(frame[20:28], uint64(priceTicks))
	binary.BigEndian.PutUint64(frame[28:36], uint64(level.Size))
	// frame[36:40] reserved

	if err := c.writeFrame(ctx, frame); err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}

	c.mu.Lock()
	c.orderClientIDs[clientID] = clientID
	c.orderSymbolIDs[clientID] = symbolID
	c.mu.Unlock()

	return fmt.Sprintf("%d", clientID), nil
}

// Cancel encodes and sends a cancel request for a previously placed order.
func (c *GatewayClient) Cancel(ctx context.Context, orderID string, symbol string) error {
	var orderInt uint64
	if _, err := fmt.Sscanf(orderID, "%d", &orderInt); err != nil {
		return fmt.Errorf("cancel order: invalid order id %q: %w", orderID, err)
	}

	c.mu.Lock()
	clientID, ok := c.orderClientIDs[orderInt]
	if !ok {
		clientID = orderInt
	}
	symbolID, ok := c.orderSymbolIDs[orderInt]
	if !ok {
		symbolID = uint32(config.SymbolIDs[symbol])
	}
	c.mu.Unlock()

	frame := make([]byte, requestFrameSize)
	binary.BigEndian.PutUint32(frame[0:4], reqCancel)
	binary.BigEndian.PutUint64(frame[4:12], clientID)
	binary.BigEndian.PutUint32(frame[12:16], symbolID)
	binary.BigEndian.PutUint64(frame[16:24], orderInt)
	// frame[24:40] reserved

	if err := c.writeFrame(ctx, frame); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	c.mu.Lock()
	delete(c.orderClientIDs, orderInt)
	delete(c.orderSymbolIDs, orderInt)
	c.mu.Unlock()

	return nil
}

func (c *GatewayClient) writeFrame(ctx context.Context, frame []byte) error {
	c.writeM.Lock()
	defer c.writeM.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	}
	_, err := c.conn.Write(frame)
	return err
}

// readLoop consumes fixed-size response frames until the connection closes.
// Every frame it cannot decode is logged and skipped; a short read at EOF
// ends the loop without error, matching the teacher's tolerant shutdown.
func (c *GatewayClient) readLoop() {
	frame := make([]byte, responseFrameSize)
	for {
		_, err := io.ReadFull(c.reader, frame)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if err != io.EOF {
				c.log.Warn("gateway response read failed", "error", err)
			}
			return
		}
		c.handleResponseFrame(frame)
	}
}

// responseFrame is the decoded shape of a 64-byte response. Bytes 52-63
// are reserved padding the gateway never populates.
type responseFrame struct {
	ClientID   uint64
	OrderID    uint64
	SymbolID   uint32
	Side       uint32
	reserved1  uint32
	reserved2  uint32
	MsgType    uint32
	PriceTicks int64
	Quantity   int64
}

func decodeResponseFrame(b []byte) responseFrame {
	return responseFrame{
		ClientID:   binary.BigEndian.Uint64(b[0:8]),
		OrderID:    binary.BigEndian.Uint64(b[8:16]),
		SymbolID:   binary.BigEndian.Uint32(b[16:20]),
		Side:       binary.BigEndian.Uint32(b[20:24]),
		reserved1:  binary.BigEndian.Uint32(b[24:28]),
		reserved2:  binary.BigEndian.Uint32(b[28:32]),
		MsgType:    binary.BigEndian.Uint32(b[32:36]),
		PriceTicks: int64(binary.BigEndian.Uint64(b[36:44])),
		Quantity:   int64(binary.BigEndian.Uint64(b[44:52])),
	}
}

func (c *GatewayClient) handleResponseFrame(raw []byte) {
	frame := decodeResponseFrame(raw)
	if frame.MsgType != msgTypeFill {
		return
	}

	symbol, ok := config.IDToSymbol[int32(frame.SymbolID)]
	if !ok {
		c.log.Debug("fill for unknown symbol id", "symbol_id", frame.SymbolID)
		return
	}
	quantity := frame.Quantity
	if quantity < 0 {
		quantity = -quantity
	}
	if quantity == 0 {
		return
	}
	price := types.TicksToPrice(frame.PriceTicks, config.OrderPriceScale)
	side := sideFromWire(frame.Side)

	c.fillM.Lock()
	handlers := make([]FillHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.fillM.Unlock()

	for _, h := range handlers {
		c.invokeHandler(h, symbol, side, quantity, price)
	}
}

// invokeHandler calls a single fill handler with its own recover, so a
// panic in one subscriber is logged and does not take down the read loop
// or stop the remaining handlers from seeing the fill.
func (c *GatewayClient) invokeHandler(h FillHandler, symbol string, side types.Side, quantity int64, price float64) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("fill handler panicked", "symbol", symbol, "side", side, "panic", r)
		}
	}()
	h(symbol, side, quantity, price)
}
