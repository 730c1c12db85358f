// Package exchangetest provides an in-memory exchange.Client for tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
)

// MockClient is a scriptable in-memory implementation of exchange.Client.
// Orders submitted through it are held as open until a test fills, cancels
// or evicts them. The zero value is not usable; use NewMockClient.
type MockClient struct {
	mu sync.Mutex

	nextID     int
	openOrders map[string]exchange.Order
	history    map[string]exchange.Order
	fills      []exchange.Fill
	positions  []exchange.Position

	ticker     exchange.Ticker
	instrument exchange.Instrument

	// Calls records every mutating method invocation in order, for
	// asserting on interaction sequences.
	Calls []string

	// Error hooks. When set, the corresponding method returns the error.
	SubmitErr    error
	CancelErr    error
	CancelAllErr error
	GetOrderErr  error
	HistoryErr   error
	FillsErr     error
	TickerErr    error
}

// NewMockClient creates a mock with sane BTC-like instrument constraints
// and a last price of 100.
func NewMockClient() *MockClient {
	return &MockClient{
		openOrders: make(map[string]exchange.Order),
		history:    make(map[string]exchange.Order),
		ticker:     exchange.Ticker{Symbol: "BTCUSDT", LastPrice: 100},
		instrument: exchange.Instrument{
			Symbol:      "BTCUSDT",
			TickSize:    0.01,
			QtyStep:     0.001,
			MinOrderQty: 0.001,
			MinNotional: 1,
		},
	}
}

// SetTicker overrides the price returned by GetTicker
func (m *MockClient) SetTicker(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticker = exchange.Ticker{Symbol: symbol, LastPrice: price}
}

// SetInstrument overrides the constraints returned by GetInstrument
func (m *MockClient) SetInstrument(inst exchange.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instrument = inst
}

// SetPositions overrides the result of GetPositions
func (m *MockClient) SetPositions(positions []exchange.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = positions
}

// FillOrder marks an open order as filled, moves it to history and records
// a fill. Returns the filled order.
func (m *MockClient) FillOrder(orderID string) (exchange.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.openOrders[orderID]
	if !ok {
		return exchange.Order{}, false
	}
	delete(m.openOrders, orderID)
	order.Status = exchange.StatusFilled
	order.CumExecQty = order.Quantity
	order.AvgPrice = order.Price
	m.history[orderID] = order
	m.fills = append(m.fills, exchange.Fill{
		OrderID:  orderID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Price:    order.Price,
		Quantity: order.Quantity,
	})
	return order, true
}

// EvictOrder removes an order from both the open set and history, so that
// status and history lookups report not-found. Used to exercise the
// presumed-fill escalation.
func (m *MockClient) EvictOrder(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.openOrders, orderID)
	delete(m.history, orderID)
}

// AddFill appends a record to the fill history without touching orders
func (m *MockClient) AddFill(fill exchange.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, fill)
}

// OpenOrderIDs returns the ids of all currently open orders
func (m *MockClient) OpenOrderIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.openOrders))
	for id := range m.openOrders {
		ids = append(ids, id)
	}
	return ids
}

// OpenOrder returns an open order by id
func (m *MockClient) OpenOrder(orderID string) (exchange.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.openOrders[orderID]
	return o, ok
}

func (m *MockClient) record(call string) {
	m.Calls = append(m.Calls, call)
}

// SubmitOrder implements exchange.Client
func (m *MockClient) SubmitOrder(ctx context.Context, params exchange.OrderParams) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SubmitOrder")
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	m.nextID++
	order := exchange.Order{
		OrderID:     fmt.Sprintf("mock-%d", m.nextID),
		OrderLinkID: params.OrderLinkID,
		Symbol:      params.Symbol,
		Side:        params.Side,
		OrderType:   params.OrderType,
		Price:       params.Price,
		Quantity:    params.Quantity,
		Status:      exchange.StatusNew,
	}
	m.openOrders[order.OrderID] = order
	return &order, nil
}

// CancelOrder implements exchange.Client
func (m *MockClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelOrder")
	if m.CancelErr != nil {
		return m.CancelErr
	}
	order, ok := m.openOrders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, exchange.ErrOrderNotFound)
	}
	delete(m.openOrders, orderID)
	order.Status = exchange.StatusCancelled
	m.history[orderID] = order
	return nil
}

// CancelAllOrders implements exchange.Client
func (m *MockClient) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CancelAllOrders")
	if m.CancelAllErr != nil {
		return m.CancelAllErr
	}
	for id, order := range m.openOrders {
		order.Status = exchange.StatusCancelled
		m.history[id] = order
		delete(m.openOrders, id)
	}
	return nil
}

// GetOrder implements exchange.Client
func (m *MockClient) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetOrderErr != nil {
		return nil, m.GetOrderErr
	}
	if order, ok := m.openOrders[orderID]; ok {
		return &order, nil
	}
	return nil, fmt.Errorf("order %s: %w", orderID, exchange.ErrOrderNotFound)
}

// GetOrderHistory implements exchange.Client
func (m *MockClient) GetOrderHistory(ctx context.Context, symbol, orderID string) ([]exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	if orderID != "" {
		if order, ok := m.history[orderID]; ok {
			return []exchange.Order{order}, nil
		}
		return nil, nil
	}
	orders := make([]exchange.Order, 0, len(m.history))
	for _, order := range m.history {
		orders = append(orders, order)
	}
	return orders, nil
}

// GetFillHistory implements exchange.Client
func (m *MockClient) GetFillHistory(ctx context.Context, symbol string) ([]exchange.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FillsErr != nil {
		return nil, m.FillsErr
	}
	fills := make([]exchange.Fill, len(m.fills))
	copy(fills, m.fills)
	return fills, nil
}

// GetTicker implements exchange.Client
func (m *MockClient) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TickerErr != nil {
		return nil, m.TickerErr
	}
	t := m.ticker
	return &t, nil
}

// GetInstrument implements exchange.Client
func (m *MockClient) GetInstrument(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instrument
	return &inst, nil
}

// GetPositions implements exchange.Client
func (m *MockClient) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	positions := make([]exchange.Position, len(m.positions))
	copy(positions, m.positions)
	return positions, nil
}

// MockStream is a hand-driven exchange.OrderStream for tests
type MockStream struct {
	mu        sync.Mutex
	connected bool
	callback  func(exchange.OrderUpdate)
}

// Connect implements exchange.OrderStream
func (s *MockStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// OnOrderUpdate implements exchange.OrderStream
func (s *MockStream) OnOrderUpdate(callback func(exchange.OrderUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = callback
}

// IsConnected implements exchange.OrderStream
func (s *MockStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close implements exchange.OrderStream
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// SetConnected flips the reported connection state
func (s *MockStream) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Push delivers an order update to the registered callback
func (s *MockStream) Push(update exchange.OrderUpdate) {
	s.mu.Lock()
	callback := s.callback
	s.mu.Unlock()
	if callback != nil {
		callback(update)
	}
}
