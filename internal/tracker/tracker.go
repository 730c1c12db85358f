// Package tracker owns the authoritative order and position state for one
// trading symbol. Every fill, regardless of whether it arrived over the
// push stream or was discovered by polling, is applied through a single
// idempotent gateway so duplicate delivery can never double-count.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/executor"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/logger"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/monitoring"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/planner"
)

// Fill sources, used for logging and metrics
const (
	SourceStream   = "stream"
	SourcePoll     = "poll"
	SourcePresumed = "presumed"
)

// FillEvent is one (possibly partial) execution applied to the position.
// CumQty is the order's cumulative executed quantity after this event;
// idempotency is enforced against it, so replaying an event is a no-op.
type FillEvent struct {
	OrderID  string
	Symbol   string
	Side     exchange.OrderSide
	Price    float64
	Quantity float64 // executed quantity reported for this event
	CumQty   float64 // cumulative executed quantity after this event
	Terminal bool    // order reached a terminal status with this event
	Presumed bool
	Source   string
}

// Position is the tracker's view of the accumulated entry
type Position struct {
	Symbol            string
	TotalQuantity     float64
	AverageEntryPrice float64
	CycleID           int
}

// CycleResult describes one completed ladder-to-exit round trip
type CycleResult struct {
	CycleID    int
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Profit     float64
}

// FillTracker reconciles exchange state into the local position. All
// mutation goes through ApplyFill under one mutex; the push listener and
// the polling loop are both just producers.
type FillTracker struct {
	client exchange.Client
	exec   *executor.Executor
	log    *logger.Logger

	symbol        string
	takeProfitPct float64

	mu           sync.Mutex
	activeOrders map[string]exchange.Order
	filledOrders map[string]exchange.Order
	appliedQty   map[string]float64
	position     Position
	tpOrderID    string
	cycleProfit  float64

	onCycleComplete func(CycleResult)
}

// NewFillTracker creates a tracker for one symbol
func NewFillTracker(client exchange.Client, exec *executor.Executor, log *logger.Logger, symbol string, takeProfitPct float64) *FillTracker {
	return &FillTracker{
		client:        client,
		exec:          exec,
		log:           log,
		symbol:        symbol,
		takeProfitPct: takeProfitPct,
		activeOrders:  make(map[string]exchange.Order),
		filledOrders:  make(map[string]exchange.Order),
		appliedQty:    make(map[string]float64),
		position:      Position{Symbol: symbol},
	}
}

// OnCycleComplete registers the callback fired when the take-profit order
// fully fills. Invoked without the tracker mutex held.
func (t *FillTracker) OnCycleComplete(fn func(CycleResult)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCycleComplete = fn
}

// StartCycle begins a fresh cycle: previous-cycle bookkeeping is dropped
// and the cycle id recorded. Active orders must already be empty.
func (t *FillTracker) StartCycle(cycleID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filledOrders = make(map[string]exchange.Order)
	t.appliedQty = make(map[string]float64)
	t.cycleProfit = 0
	t.position = Position{Symbol: t.symbol, CycleID: cycleID}
}

// Track inserts an order into the active set
func (t *FillTracker) Track(order exchange.Order) error {
	if order.OrderID == "" {
		return fmt.Errorf("cannot track order without an id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if order.Status == "" {
		order.Status = exchange.StatusNew
	}
	t.activeOrders[order.OrderID] = order
	monitoring.UpdateOpenOrders(t.symbol, len(t.activeOrders))
	return nil
}

// OpenCount returns the number of orders currently tracked as active
func (t *FillTracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.activeOrders)
}

// GetPosition returns a copy of the current position
func (t *FillTracker) GetPosition() Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// TakeProfitOrderID returns the id of the live take-profit order, or ""
func (t *FillTracker) TakeProfitOrderID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tpOrderID
}

// HandleOrderUpdate is the push-channel entry point. Updates for orders
// the tracker does not own are ignored.
func (t *FillTracker) HandleOrderUpdate(ctx context.Context, update exchange.OrderUpdate) {
	o := update.Order

	t.mu.Lock()
	tracked, ok := t.activeOrders[o.OrderID]
	t.mu.Unlock()
	if !ok {
		return
	}

	event, drop := t.eventFromOrder(tracked, o, SourceStream)
	if drop {
		t.dropOrder(o.OrderID, o.Status)
		return
	}
	if event == nil {
		return
	}
	if err := t.ApplyFill(ctx, *event); err != nil {
		t.log.LogError("apply fill from stream", err)
		monitoring.RecordError("apply_fill")
	}
}

// Reconcile is the polling fallback. For each active order it escalates
// through three sources: the realtime status endpoint, the order history
// endpoint, and finally inference from the order's disappearance. The
// first fill discovered is applied and returned; callers drain multiple
// simultaneous fills by calling again.
func (t *FillTracker) Reconcile(ctx context.Context) (*FillEvent, error) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.activeOrders))
	for id := range t.activeOrders {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		t.mu.Lock()
		tracked, ok := t.activeOrders[id]
		t.mu.Unlock()
		if !ok {
			continue
		}

		event, err := t.reconcileOrder(ctx, tracked)
		if err != nil {
			t.log.LogError(fmt.Sprintf("reconcile order %s", id), err)
			monitoring.RecordError("reconcile")
			continue
		}
		if event == nil {
			continue
		}
		if err := t.ApplyFill(ctx, *event); err != nil {
			return nil, fmt.Errorf("failed to apply reconciled fill for %s: %w", id, err)
		}
		return event, nil
	}
	return nil, nil
}

// reconcileOrder resolves one order's true state through the escalation
// chain. A nil event with nil error means nothing changed.
func (t *FillTracker) reconcileOrder(ctx context.Context, tracked exchange.Order) (*FillEvent, error) {
	// 1. Realtime status lookup
	current, err := t.client.GetOrder(ctx, t.symbol, tracked.OrderID)
	if err == nil {
		event, drop := t.eventFromOrder(tracked, *current, SourcePoll)
		if drop {
			t.dropOrder(tracked.OrderID, current.Status)
			return nil, nil
		}
		return event, nil
	}
	if !errors.Is(err, exchange.ErrOrderNotFound) {
		return nil, err
	}

	// 2. History lookup: filled orders are evicted from the realtime
	// endpoint but stay queryable here.
	history, err := t.client.GetOrderHistory(ctx, t.symbol, tracked.OrderID)
	if err != nil {
		return nil, err
	}
	for _, h := range history {
		if h.OrderID != tracked.OrderID {
			continue
		}
		event, drop := t.eventFromOrder(tracked, h, SourcePoll)
		if drop {
			t.dropOrder(tracked.OrderID, h.Status)
			return nil, nil
		}
		return event, nil
	}

	// 3. The order has vanished from both endpoints. Only buys are
	// presumed filled; a missing sell stays tracked and keeps being
	// polled rather than guessing the position away.
	if tracked.Side != exchange.OrderSideBuy {
		t.log.Warning("Sell order %s missing from status and history, keeping it tracked", tracked.OrderID)
		return nil, nil
	}
	return t.presumeFill(ctx, tracked)
}

// presumeFill builds an inferred fill for a vanished buy. The fill history
// is consulted first: a matching execution record upgrades the event to
// real prices. Without corroboration the originally planned price and
// quantity are used, flagged loudly as an approximation.
func (t *FillTracker) presumeFill(ctx context.Context, tracked exchange.Order) (*FillEvent, error) {
	fills, err := t.client.GetFillHistory(ctx, t.symbol)
	if err != nil {
		return nil, fmt.Errorf("fill-history corroboration failed: %w", err)
	}

	price := tracked.Price
	qty := tracked.Quantity
	corroborated := false
	for _, f := range fills {
		if f.OrderID == tracked.OrderID {
			price = f.Price
			qty = f.Quantity
			corroborated = true
			break
		}
	}

	t.log.LogPresumedFill(tracked.OrderID, price, qty, corroborated)
	monitoring.RecordPresumedFill(t.symbol, corroborated)

	return &FillEvent{
		OrderID:  tracked.OrderID,
		Symbol:   t.symbol,
		Side:     tracked.Side,
		Price:    price,
		Quantity: qty,
		CumQty:   qty,
		Terminal: true,
		Presumed: true,
		Source:   SourcePresumed,
	}, nil
}

// eventFromOrder converts an exchange order snapshot into a fill event.
// Returns (nil, true) when the order should simply be dropped from the
// active set (cancelled or rejected without any execution).
func (t *FillTracker) eventFromOrder(tracked, current exchange.Order, source string) (*FillEvent, bool) {
	cum := current.CumExecQty
	if current.Status == exchange.StatusFilled && cum == 0 {
		// Some order snapshots omit cumExecQty; a filled order executed
		// its full quantity by definition.
		cum = tracked.Quantity
	}

	price := current.AvgPrice
	if price == 0 {
		price = tracked.Price
	}

	switch current.Status {
	case exchange.StatusNew:
		return nil, false
	case exchange.StatusPartiallyFilled, exchange.StatusFilled:
		if cum <= 0 {
			return nil, false
		}
		return &FillEvent{
			OrderID:  tracked.OrderID,
			Symbol:   t.symbol,
			Side:     tracked.Side,
			Price:    price,
			Quantity: cum,
			CumQty:   cum,
			Terminal: current.Status == exchange.StatusFilled,
			Source:   source,
		}, false
	case exchange.StatusCancelled, exchange.StatusRejected:
		if cum > 0 {
			// A partially executed cancel still moved the position
			return &FillEvent{
				OrderID:  tracked.OrderID,
				Symbol:   t.symbol,
				Side:     tracked.Side,
				Price:    price,
				Quantity: cum,
				CumQty:   cum,
				Terminal: true,
				Source:   source,
			}, false
		}
		return nil, true
	}
	return nil, false
}

// dropOrder removes a terminally cancelled or rejected order from the
// active set without touching the position.
func (t *FillTracker) dropOrder(orderID string, status exchange.OrderStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	order, ok := t.activeOrders[orderID]
	if !ok {
		return
	}
	delete(t.activeOrders, orderID)
	order.Status = status
	t.filledOrders[orderID] = order
	if orderID == t.tpOrderID {
		t.tpOrderID = ""
	}
	monitoring.UpdateOpenOrders(t.symbol, len(t.activeOrders))
}

// ApplyFill is the single authoritative mutation point for the position.
// It is idempotent against duplicate delivery: the event's cumulative
// quantity is compared with what has already been applied for that order
// id, and only the positive delta moves the position.
func (t *FillTracker) ApplyFill(ctx context.Context, event FillEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	applied := t.appliedQty[event.OrderID]
	if event.CumQty <= applied+1e-12 {
		monitoring.RecordDuplicateFill(t.symbol)
		return nil
	}
	delta := event.CumQty - applied
	t.appliedQty[event.OrderID] = event.CumQty

	monitoring.RecordFill(t.symbol, string(event.Side), event.Source)

	if event.Terminal {
		if order, ok := t.activeOrders[event.OrderID]; ok {
			delete(t.activeOrders, event.OrderID)
			if event.Presumed {
				order.Status = exchange.StatusPresumedFilled
			} else {
				order.Status = exchange.StatusFilled
			}
			order.CumExecQty = event.CumQty
			order.AvgPrice = event.Price
			t.filledOrders[event.OrderID] = order
		}
	} else if order, ok := t.activeOrders[event.OrderID]; ok {
		order.Status = exchange.StatusPartiallyFilled
		order.CumExecQty = event.CumQty
		t.activeOrders[event.OrderID] = order
	}
	monitoring.UpdateOpenOrders(t.symbol, len(t.activeOrders))

	if event.Side == exchange.OrderSideBuy {
		return t.applyBuyLocked(ctx, event, delta)
	}
	return t.applySellLocked(ctx, event, delta)
}

// applyBuyLocked folds a buy execution into the weighted average and
// replaces the take-profit order. Caller holds the mutex.
func (t *FillTracker) applyBuyLocked(ctx context.Context, event FillEvent, delta float64) error {
	p := &t.position
	newQty := p.TotalQuantity + delta
	p.AverageEntryPrice = (p.AverageEntryPrice*p.TotalQuantity + event.Price*delta) / newQty
	p.TotalQuantity = newQty
	monitoring.UpdatePosition(t.symbol, p.TotalQuantity)

	t.log.LogFill(event.Source, event.OrderID, string(event.Side), event.Price, delta, p.TotalQuantity, p.AverageEntryPrice)

	return t.replaceTakeProfitLocked(ctx)
}

// replaceTakeProfitLocked cancels any live take-profit order and submits a
// fresh one covering the whole position. The cancel is best-effort: a
// failure is logged but never blocks the replacement, since the new sell
// is what protects the position.
func (t *FillTracker) replaceTakeProfitLocked(ctx context.Context) error {
	if t.tpOrderID != "" {
		if err := t.exec.Cancel(ctx, t.tpOrderID); err != nil {
			t.log.Warning("Failed to cancel take-profit %s before replacing: %v", t.tpOrderID, err)
			monitoring.RecordError("tp_cancel")
		}
		delete(t.activeOrders, t.tpOrderID)
		t.tpOrderID = ""
	}

	target := planner.TakeProfitPrice(t.position.AverageEntryPrice, t.takeProfitPct)
	tpOrder, err := t.exec.SubmitTakeProfit(ctx, target, t.position.TotalQuantity)
	if err != nil {
		return fmt.Errorf("failed to place replacement take-profit: %w", err)
	}

	t.tpOrderID = tpOrder.OrderID
	t.activeOrders[tpOrder.OrderID] = *tpOrder
	monitoring.UpdateOpenOrders(t.symbol, len(t.activeOrders))
	return nil
}

// applySellLocked handles executions on the take-profit order. Profit is
// realized per delta; the cycle completes when the sell is terminal.
// Caller holds the mutex.
func (t *FillTracker) applySellLocked(ctx context.Context, event FillEvent, delta float64) error {
	if event.OrderID != t.tpOrderID {
		t.log.Warning("Sell fill for %s is not the take-profit order, ignoring for position state", event.OrderID)
		return nil
	}

	entryPrice := t.position.AverageEntryPrice
	t.cycleProfit += (event.Price - entryPrice) * delta
	t.position.TotalQuantity -= delta
	if t.position.TotalQuantity < 0 {
		t.position.TotalQuantity = 0
	}
	monitoring.UpdatePosition(t.symbol, t.position.TotalQuantity)

	if !event.Terminal {
		return nil
	}

	// Cycle complete: flatten local state and cancel the leftover ladder
	result := CycleResult{
		CycleID:    t.position.CycleID,
		EntryPrice: entryPrice,
		ExitPrice:  event.Price,
		Quantity:   event.CumQty,
		Profit:     t.cycleProfit,
	}

	t.tpOrderID = ""
	t.cancelAllLocked(ctx)
	t.position = Position{Symbol: t.symbol, CycleID: t.position.CycleID}
	t.cycleProfit = 0
	monitoring.UpdatePosition(t.symbol, 0)
	monitoring.RecordCycleComplete(t.symbol, result.Profit)
	t.log.LogCycleCompletion(result.CycleID, result.EntryPrice, result.ExitPrice, result.Profit)

	if t.onCycleComplete != nil {
		callback := t.onCycleComplete
		// release the lock for the callback; it may re-enter the tracker
		t.mu.Unlock()
		callback(result)
		t.mu.Lock()
	}
	return nil
}

// CancelAll best-effort cancels every tracked order and clears the active
// set regardless of individual outcomes. Exchange-side state may diverge
// afterwards; callers should schedule a reconcile pass right after.
func (t *FillTracker) CancelAll(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelAllLocked(ctx)
}

func (t *FillTracker) cancelAllLocked(ctx context.Context) {
	for id, order := range t.activeOrders {
		if err := t.exec.Cancel(ctx, id); err != nil {
			t.log.Warning("Failed to cancel order %s: %v", id, err)
			monitoring.RecordError("cancel")
		}
		order.Status = exchange.StatusCancelled
		t.filledOrders[id] = order
		delete(t.activeOrders, id)
	}
	t.tpOrderID = ""
	monitoring.UpdateOpenOrders(t.symbol, 0)
}

// Reset flattens all local state without touching the exchange. Used by
// the emergency path after orders are cancelled and the position closed;
// local state must never get stuck waiting for exchange confirmation.
func (t *FillTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeOrders = make(map[string]exchange.Order)
	t.tpOrderID = ""
	t.cycleProfit = 0
	t.position = Position{Symbol: t.symbol, CycleID: t.position.CycleID}
	monitoring.UpdateOpenOrders(t.symbol, 0)
	monitoring.UpdatePosition(t.symbol, 0)
}
