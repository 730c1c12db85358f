package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange/exchangetest"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/precision"
)

func newTestPlanner(t *testing.T, config Config) (*Planner, *exchangetest.MockClient) {
	t.Helper()
	client := exchangetest.NewMockClient()
	p, err := NewPlanner(config, precision.NewNormalizer(client))
	require.NoError(t, err)
	return p, client
}

func TestGenerateOrdersLadderShape(t *testing.T) {
	p, _ := newTestPlanner(t, Config{
		Symbol:        "BTCUSDT",
		TotalCapital:  100,
		MaxLayers:     3,
		Multiplier:    2,
		PriceStepDown: 0.01,
	})

	orders, err := p.GenerateOrders(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, orders, 3)

	// prices step down 1% per layer from the base price
	assert.InDelta(t, 99.0, orders[0].Price, 1e-9)
	assert.InDelta(t, 98.0, orders[1].Price, 1e-9)
	assert.InDelta(t, 97.0, orders[2].Price, 1e-9)

	// quantities follow the geometric allocation, floored to the qty step
	assert.InDelta(t, 0.577, orders[0].Quantity, 1e-9)
	assert.InDelta(t, 0.291, orders[1].Quantity, 1e-9)
	assert.InDelta(t, 0.147, orders[2].Quantity, 1e-9)

	for i, o := range orders {
		assert.Equal(t, i, o.LayerIndex)
		assert.LessOrEqual(t, o.Price*o.Quantity, o.Amount+1e-6,
			"layer %d must not spend more than its allocation", i)
	}
}

func TestGenerateOrdersRejectsBadPrice(t *testing.T) {
	p, _ := newTestPlanner(t, Config{
		Symbol:        "BTCUSDT",
		TotalCapital:  100,
		MaxLayers:     3,
		Multiplier:    2,
		PriceStepDown: 0.01,
	})

	_, err := p.GenerateOrders(context.Background(), 0)
	assert.Error(t, err)

	_, err = p.GenerateOrders(context.Background(), -5)
	assert.Error(t, err)
}

func TestGenerateOrdersQuantityBelowMinimum(t *testing.T) {
	p, client := newTestPlanner(t, Config{
		Symbol:        "BTCUSDT",
		TotalCapital:  100,
		MaxLayers:     3,
		Multiplier:    2,
		PriceStepDown: 0.01,
	})
	client.SetInstrument(exchange.Instrument{
		Symbol:      "BTCUSDT",
		TickSize:    0.01,
		QtyStep:     0.001,
		MinOrderQty: 10, // far above what 100 of capital buys at price 100
		MinNotional: 1,
	})

	_, err := p.GenerateOrders(context.Background(), 100)
	assert.Error(t, err)
}

func TestReLadderAfterTakeProfitUsesEntryGap(t *testing.T) {
	p, _ := newTestPlanner(t, Config{
		Symbol:          "BTCUSDT",
		TotalCapital:    100,
		MaxLayers:       2,
		Multiplier:      2,
		PriceStepDown:   0.01,
		EntryGapAfterTP: 0.005,
	})

	orders, err := p.ReLadderAfterTakeProfit(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	// first layer sits the entry gap below the exit, deeper layers
	// continue down by the normal step
	assert.InDelta(t, 99.5, orders[0].Price, 1e-9)
	assert.InDelta(t, 98.5, orders[1].Price, 1e-9)
}

func TestReLadderFallsBackToStepDown(t *testing.T) {
	p, _ := newTestPlanner(t, Config{
		Symbol:        "BTCUSDT",
		TotalCapital:  100,
		MaxLayers:     1,
		Multiplier:    2,
		PriceStepDown: 0.02,
	})

	orders, err := p.ReLadderAfterTakeProfit(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.InDelta(t, 98.0, orders[0].Price, 1e-9)
}
