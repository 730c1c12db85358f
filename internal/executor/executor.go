// Package executor turns planned orders into exchange submissions and owns
// the client-order-id scheme used to correlate them later.
package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/logger"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/planner"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/precision"
)

// Executor submits, cancels and closes orders for one symbol
type Executor struct {
	client     exchange.Client
	normalizer *precision.Normalizer
	symbol     string
	log        *logger.Logger
}

// NewExecutor creates an executor bound to one trading symbol
func NewExecutor(client exchange.Client, normalizer *precision.Normalizer, symbol string, log *logger.Logger) *Executor {
	return &Executor{
		client:     client,
		normalizer: normalizer,
		symbol:     symbol,
		log:        log,
	}
}

// linkID builds a client order id carrying the order's role, so fills can
// be attributed from the exchange's echo of the id alone.
func linkID(role string) string {
	return fmt.Sprintf("ml-%s-%s", role, uuid.NewString()[:18])
}

// SubmitLadder places every planned layer as a limit buy. Submission stops
// at the first failure: a partial ladder is usable, a ladder with a hole in
// the middle is not. Returns the orders that were accepted.
func (e *Executor) SubmitLadder(ctx context.Context, plan []planner.PlannedOrder) ([]exchange.Order, error) {
	submitted := make([]exchange.Order, 0, len(plan))
	for _, layer := range plan {
		order, err := e.client.SubmitOrder(ctx, exchange.OrderParams{
			Symbol:      e.symbol,
			Side:        exchange.OrderSideBuy,
			OrderType:   exchange.OrderTypeLimit,
			Price:       layer.Price,
			Quantity:    layer.Quantity,
			OrderLinkID: linkID(fmt.Sprintf("l%d", layer.LayerIndex)),
		})
		if err != nil {
			return submitted, fmt.Errorf("failed to submit layer %d: %w", layer.LayerIndex, err)
		}
		order.LayerIndex = layer.LayerIndex
		submitted = append(submitted, *order)
		e.log.Info("📉 Layer %d placed: %.6f @ %.4f (id %s)", layer.LayerIndex, layer.Quantity, layer.Price, order.OrderID)
	}
	return submitted, nil
}

// SubmitTakeProfit places the single sell that exits the whole position.
// Price and quantity are normalized here so callers can pass raw targets.
func (e *Executor) SubmitTakeProfit(ctx context.Context, price, quantity float64) (*exchange.Order, error) {
	normPrice, err := e.normalizer.NormalizePrice(ctx, e.symbol, price)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize take-profit price: %w", err)
	}
	normQty, err := e.normalizer.NormalizeQuantity(ctx, e.symbol, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize take-profit quantity: %w", err)
	}

	order, err := e.client.SubmitOrder(ctx, exchange.OrderParams{
		Symbol:      e.symbol,
		Side:        exchange.OrderSideSell,
		OrderType:   exchange.OrderTypeLimit,
		Price:       normPrice,
		Quantity:    normQty,
		OrderLinkID: linkID("tp"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit take-profit order: %w", err)
	}
	e.log.Info("🎯 Take-profit placed: %.6f @ %.4f (id %s)", normQty, normPrice, order.OrderID)
	return order, nil
}

// MarketClose sells the given quantity at market. Used by the emergency
// path, so quantity normalization failures fall back to the raw quantity
// rather than aborting the close.
func (e *Executor) MarketClose(ctx context.Context, quantity float64) (*exchange.Order, error) {
	qty := quantity
	if normQty, err := e.normalizer.NormalizeQuantity(ctx, e.symbol, quantity); err == nil {
		qty = normQty
	}

	order, err := e.client.SubmitOrder(ctx, exchange.OrderParams{
		Symbol:      e.symbol,
		Side:        exchange.OrderSideSell,
		OrderType:   exchange.OrderTypeMarket,
		Quantity:    qty,
		OrderLinkID: linkID("close"),
		ReduceOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to market-close %.6f %s: %w", qty, e.symbol, err)
	}
	e.log.Warning("🛑 Market close submitted: %.6f %s (id %s)", qty, e.symbol, order.OrderID)
	return order, nil
}

// Cancel cancels one order by id
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	if err := e.client.CancelOrder(ctx, e.symbol, orderID); err != nil {
		return fmt.Errorf("failed to cancel %s: %w", orderID, err)
	}
	return nil
}

// CancelAll cancels every open order for the symbol
func (e *Executor) CancelAll(ctx context.Context) error {
	if err := e.client.CancelAllOrders(ctx, e.symbol); err != nil {
		return fmt.Errorf("failed to cancel all orders for %s: %w", e.symbol, err)
	}
	return nil
}

// Symbol returns the symbol this executor trades
func (e *Executor) Symbol() string {
	return e.symbol
}
