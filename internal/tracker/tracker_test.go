package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange/exchangetest"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/executor"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/logger"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/precision"
)

func newTestTracker(t *testing.T) (*FillTracker, *exchangetest.MockClient) {
	t.Helper()
	client := exchangetest.NewMockClient()
	log := logger.NewDiscard()
	exec := executor.NewExecutor(client, precision.NewNormalizer(client), "BTCUSDT", log)
	tr := NewFillTracker(client, exec, log, "BTCUSDT", 0.02)
	tr.StartCycle(1)
	return tr, client
}

func trackBuy(t *testing.T, tr *FillTracker, client *exchangetest.MockClient, price, qty float64) exchange.Order {
	t.Helper()
	order, err := client.SubmitOrder(context.Background(), exchange.OrderParams{
		Symbol:    "BTCUSDT",
		Side:      exchange.OrderSideBuy,
		OrderType: exchange.OrderTypeLimit,
		Price:     price,
		Quantity:  qty,
	})
	require.NoError(t, err)
	require.NoError(t, tr.Track(*order))
	return *order
}

func buyFill(orderID string, price, qty float64) FillEvent {
	return FillEvent{
		OrderID:  orderID,
		Symbol:   "BTCUSDT",
		Side:     exchange.OrderSideBuy,
		Price:    price,
		Quantity: qty,
		CumQty:   qty,
		Terminal: true,
		Source:   SourcePoll,
	}
}

func TestWeightedAverageAcrossFills(t *testing.T) {
	tr, client := newTestTracker(t)
	o1 := trackBuy(t, tr, client, 100, 1)
	o2 := trackBuy(t, tr, client, 90, 2)

	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o1.OrderID, 100, 1)))
	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o2.OrderID, 90, 2)))

	pos := tr.GetPosition()
	assert.InDelta(t, 93.3333, pos.AverageEntryPrice, 1e-3)
	assert.InDelta(t, 3.0, pos.TotalQuantity, 1e-9)

	// take-profit order re-priced off the new average
	tpID := tr.TakeProfitOrderID()
	require.NotEmpty(t, tpID)
	tp, ok := client.OpenOrder(tpID)
	require.True(t, ok)
	assert.Equal(t, exchange.OrderSideSell, tp.Side)
	assert.InDelta(t, 95.2, tp.Price, 0.01)
	assert.InDelta(t, 3.0, tp.Quantity, 1e-9)
}

func TestApplyFillIsIdempotent(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 100, 1)

	event := buyFill(o.OrderID, 100, 1)
	require.NoError(t, tr.ApplyFill(context.Background(), event))
	posOnce := tr.GetPosition()

	require.NoError(t, tr.ApplyFill(context.Background(), event))
	posTwice := tr.GetPosition()

	assert.Equal(t, posOnce, posTwice)
	assert.InDelta(t, 1.0, posTwice.TotalQuantity, 1e-9)
}

func TestDualDeliveryAppliesOnce(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 100, 1)

	// push path first
	filled := o
	filled.Status = exchange.StatusFilled
	filled.CumExecQty = 1
	filled.AvgPrice = 100
	tr.HandleOrderUpdate(context.Background(), exchange.OrderUpdate{Order: filled})

	// then the poll path observes the same fill
	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o.OrderID, 100, 1)))

	pos := tr.GetPosition()
	assert.InDelta(t, 1.0, pos.TotalQuantity, 1e-9)
}

func TestPartialFillsAccumulateIncrementally(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 100, 2)

	partial := FillEvent{
		OrderID: o.OrderID, Symbol: "BTCUSDT", Side: exchange.OrderSideBuy,
		Price: 100, Quantity: 0.5, CumQty: 0.5, Source: SourceStream,
	}
	require.NoError(t, tr.ApplyFill(context.Background(), partial))
	assert.InDelta(t, 0.5, tr.GetPosition().TotalQuantity, 1e-9)
	assert.Equal(t, 2, tr.OpenCount()) // buy still active plus the TP

	// terminal fill reports full cumulative quantity; only the remaining
	// 1.5 may move the position
	full := buyFill(o.OrderID, 100, 2)
	require.NoError(t, tr.ApplyFill(context.Background(), full))
	assert.InDelta(t, 2.0, tr.GetPosition().TotalQuantity, 1e-9)
}

func TestTakeProfitFillCompletesCycle(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 100, 1)
	stray := trackBuy(t, tr, client, 95, 1) // deeper layer that never fills

	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o.OrderID, 100, 1)))
	tpID := tr.TakeProfitOrderID()
	require.NotEmpty(t, tpID)

	var result CycleResult
	tr.OnCycleComplete(func(r CycleResult) { result = r })

	tpOrder, ok := client.OpenOrder(tpID)
	require.True(t, ok)
	tpFill := FillEvent{
		OrderID: tpID, Symbol: "BTCUSDT", Side: exchange.OrderSideSell,
		Price: tpOrder.Price, Quantity: tpOrder.Quantity, CumQty: tpOrder.Quantity,
		Terminal: true, Source: SourceStream,
	}
	require.NoError(t, tr.ApplyFill(context.Background(), tpFill))

	pos := tr.GetPosition()
	assert.Zero(t, pos.TotalQuantity)
	assert.Empty(t, tr.TakeProfitOrderID())
	assert.Zero(t, tr.OpenCount())

	assert.Equal(t, 1, result.CycleID)
	assert.InDelta(t, 100.0, result.EntryPrice, 1e-9)
	assert.InDelta(t, (tpOrder.Price-100)*tpOrder.Quantity, result.Profit, 1e-6)

	// the unfilled deeper layer was cancelled with the cycle
	_, stillOpen := client.OpenOrder(stray.OrderID)
	assert.False(t, stillOpen)
}

func TestReconcileDetectsFilledOrder(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 100, 1)

	client.FillOrder(o.OrderID)

	event, err := tr.Reconcile(context.Background())
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, o.OrderID, event.OrderID)
	assert.False(t, event.Presumed)
	assert.InDelta(t, 1.0, tr.GetPosition().TotalQuantity, 1e-9)
}

func TestReconcilePresumesVanishedBuy(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 99.5, 0.4)

	// gone from both the realtime endpoint and history, no fill record
	client.EvictOrder(o.OrderID)

	event, err := tr.Reconcile(context.Background())
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.Presumed)
	assert.Equal(t, SourcePresumed, event.Source)

	// position updated from the originally planned price and quantity
	pos := tr.GetPosition()
	assert.InDelta(t, 0.4, pos.TotalQuantity, 1e-9)
	assert.InDelta(t, 99.5, pos.AverageEntryPrice, 1e-9)
}

func TestReconcilePresumedFillUsesFillHistoryWhenAvailable(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 99.5, 0.4)

	client.EvictOrder(o.OrderID)
	client.AddFill(exchange.Fill{
		OrderID: o.OrderID, Symbol: "BTCUSDT", Side: exchange.OrderSideBuy,
		Price: 99.37, Quantity: 0.4,
	})

	event, err := tr.Reconcile(context.Background())
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.Presumed)
	assert.InDelta(t, 99.37, event.Price, 1e-9)
	assert.InDelta(t, 99.37, tr.GetPosition().AverageEntryPrice, 1e-9)
}

func TestReconcileKeepsVanishedSellTracked(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 100, 1)
	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o.OrderID, 100, 1)))

	tpID := tr.TakeProfitOrderID()
	client.EvictOrder(tpID)

	event, err := tr.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Equal(t, tpID, tr.TakeProfitOrderID())
	assert.InDelta(t, 1.0, tr.GetPosition().TotalQuantity, 1e-9)
}

func TestReconcileDropsCancelledOrder(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 100, 1)

	require.NoError(t, client.CancelOrder(context.Background(), "BTCUSDT", o.OrderID))

	event, err := tr.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Zero(t, tr.OpenCount())
	assert.Zero(t, tr.GetPosition().TotalQuantity)
}

func TestTakeProfitReplacedOnEachFill(t *testing.T) {
	tr, client := newTestTracker(t)
	o1 := trackBuy(t, tr, client, 100, 1)
	o2 := trackBuy(t, tr, client, 90, 1)

	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o1.OrderID, 100, 1)))
	firstTP := tr.TakeProfitOrderID()

	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o2.OrderID, 90, 1)))
	secondTP := tr.TakeProfitOrderID()

	assert.NotEqual(t, firstTP, secondTP)
	_, stillOpen := client.OpenOrder(firstTP)
	assert.False(t, stillOpen, "stale take-profit must be cancelled")

	tp, ok := client.OpenOrder(secondTP)
	require.True(t, ok)
	assert.InDelta(t, 2.0, tp.Quantity, 1e-9)
	assert.InDelta(t, 95.0*1.02, tp.Price, 0.01)
}

func TestTakeProfitCancelFailureDoesNotBlockReplacement(t *testing.T) {
	tr, client := newTestTracker(t)
	o1 := trackBuy(t, tr, client, 100, 1)
	o2 := trackBuy(t, tr, client, 90, 1)

	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o1.OrderID, 100, 1)))

	client.CancelErr = errors.New("exchange hiccup")
	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o2.OrderID, 90, 1)))
	client.CancelErr = nil

	assert.NotEmpty(t, tr.TakeProfitOrderID())
	tp, ok := client.OpenOrder(tr.TakeProfitOrderID())
	require.True(t, ok)
	assert.InDelta(t, 2.0, tp.Quantity, 1e-9)
}

func TestCancelAllClearsStateDespiteFailures(t *testing.T) {
	tr, client := newTestTracker(t)
	trackBuy(t, tr, client, 100, 1)
	trackBuy(t, tr, client, 95, 1)

	client.CancelErr = errors.New("timeout")
	tr.CancelAll(context.Background())

	assert.Zero(t, tr.OpenCount())
}

func TestResetFlattensLocalState(t *testing.T) {
	tr, client := newTestTracker(t)
	o := trackBuy(t, tr, client, 100, 5)
	require.NoError(t, tr.ApplyFill(context.Background(), buyFill(o.OrderID, 100, 5)))
	require.NotEmpty(t, tr.TakeProfitOrderID())

	tr.Reset()

	assert.Zero(t, tr.OpenCount())
	assert.Empty(t, tr.TakeProfitOrderID())
	assert.Zero(t, tr.GetPosition().TotalQuantity)
}

func TestTrackRequiresID(t *testing.T) {
	tr, _ := newTestTracker(t)
	assert.Error(t, tr.Track(exchange.Order{}))
}

func TestStreamUpdateForUnknownOrderIgnored(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.HandleOrderUpdate(context.Background(), exchange.OrderUpdate{Order: exchange.Order{
		OrderID: "not-ours", Status: exchange.StatusFilled, CumExecQty: 10, AvgPrice: 1,
	}})
	assert.Zero(t, tr.GetPosition().TotalQuantity)
}
