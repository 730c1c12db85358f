package bybit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
)

// SubmitOrder places a new order and returns the exchange's view of it.
// Limit orders default to GTC.
func (c *Client) SubmitOrder(ctx context.Context, params exchange.OrderParams) (*exchange.Order, error) {
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %v", params.Quantity)
	}
	if params.OrderType == exchange.OrderTypeLimit && params.Price <= 0 {
		return nil, fmt.Errorf("price is required for limit orders")
	}

	apiParams := map[string]interface{}{
		"category":  c.category,
		"symbol":    params.Symbol,
		"side":      string(params.Side),
		"orderType": string(params.OrderType),
		"qty":       formatFloat(params.Quantity),
	}
	if params.OrderType == exchange.OrderTypeLimit {
		apiParams["price"] = formatFloat(params.Price)
		apiParams["timeInForce"] = "GTC"
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}
	if params.ReduceOnly {
		apiParams["reduceOnly"] = true
	}

	var raw rawOrder
	err := c.withRetry(ctx, "place order", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		return unwrapResult(result, &raw)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	order := raw.toOrder()
	// The placement response only carries the ids; fill in what we sent
	// so the caller gets a complete picture immediately.
	order.Symbol = params.Symbol
	order.Side = params.Side
	order.OrderType = params.OrderType
	order.Price = params.Price
	order.Quantity = params.Quantity
	if order.Status == exchange.StatusUnknown {
		order.Status = exchange.StatusNew
	}
	return &order, nil
}

// CancelOrder cancels a single order by exchange order id
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	apiParams := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	err := c.withRetry(ctx, "cancel order", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).CancelOrder(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		var raw rawOrder
		return unwrapResult(result, &raw)
	})
	if err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return nil
}

// CancelAllOrders cancels every open order for a symbol
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	apiParams := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	err := c.withRetry(ctx, "cancel all orders", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).CancelAllOrders(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		var listResult struct {
			List []rawOrder `json:"list"`
		}
		return unwrapResult(result, &listResult)
	})
	if err != nil {
		return fmt.Errorf("failed to cancel all orders for %s: %w", symbol, err)
	}
	return nil
}

// GetOrder looks up a single order on the realtime endpoint. Returns
// exchange.ErrOrderNotFound when the exchange no longer reports the id
// there, which for recently filled or cancelled orders is expected.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	apiParams := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	var listResult struct {
		List []rawOrder `json:"list"`
	}
	err := c.withRetry(ctx, "get order", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).GetOpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		listResult.List = nil
		return unwrapResult(result, &listResult)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}

	for _, raw := range listResult.List {
		if raw.OrderID == orderID {
			order := raw.toOrder()
			return &order, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, exchange.ErrOrderNotFound)
}

// GetOrderHistory queries the order history endpoint. When orderID is
// non-empty only that order is requested, otherwise recent history for the
// symbol is returned.
func (c *Client) GetOrderHistory(ctx context.Context, symbol, orderID string) ([]exchange.Order, error) {
	apiParams := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"limit":    50,
	}
	if orderID != "" {
		apiParams["orderId"] = orderID
	}

	var listResult struct {
		List []rawOrder `json:"list"`
	}
	err := c.withRetry(ctx, "get order history", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).GetOrderHistory(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		listResult.List = nil
		return unwrapResult(result, &listResult)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}

	orders := make([]exchange.Order, 0, len(listResult.List))
	for _, raw := range listResult.List {
		orders = append(orders, raw.toOrder())
	}
	return orders, nil
}

// GetFillHistory returns recent executions for a symbol, newest first
func (c *Client) GetFillHistory(ctx context.Context, symbol string) ([]exchange.Fill, error) {
	apiParams := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"limit":    100,
	}

	var listResult struct {
		List []rawExecution `json:"list"`
	}
	err := c.withRetry(ctx, "get fill history", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).GetTradeHistory(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		listResult.List = nil
		return unwrapResult(result, &listResult)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get fill history: %w", err)
	}

	fills := make([]exchange.Fill, 0, len(listResult.List))
	for _, raw := range listResult.List {
		fills = append(fills, raw.toFill())
	}
	return fills, nil
}

// GetPositions returns the current positions for a symbol (linear category)
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	apiParams := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	var listResult struct {
		List []rawPosition `json:"list"`
	}
	err := c.withRetry(ctx, "get positions", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).GetPositionList(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		listResult.List = nil
		return unwrapResult(result, &listResult)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	positions := make([]exchange.Position, 0, len(listResult.List))
	for _, raw := range listResult.List {
		positions = append(positions, raw.toPosition())
	}
	return positions, nil
}

// formatFloat renders a float for the API without scientific notation
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
