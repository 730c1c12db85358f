package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/config"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange/exchangetest"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/executor"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/logger"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/planner"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/precision"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/stats"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/tracker"
)

func testConfig(t *testing.T) *config.BotConfig {
	t.Helper()
	return &config.BotConfig{
		Strategy: config.StrategyConfig{
			Symbol:        "BTCUSDT",
			TotalCapital:  100,
			MaxLayers:     3,
			Multiplier:    2,
			PriceStepDown: 0.01,
			TakeProfitPct: 0.02,
		},
		Exchange: config.ExchangeConfig{Name: "bybit", Category: "spot"},
		Risk: config.RiskConfig{
			MaxLossPct:     -0.15,
			KillSwitchFile: filepath.Join(t.TempDir(), "STOP"),
		},
		Runtime: config.RuntimeConfig{
			TickInterval:    config.Duration(10 * time.Millisecond),
			PollInterval:    config.Duration(time.Millisecond),
			PenaltyInterval: config.Duration(10 * time.Millisecond),
			StatsDir:        t.TempDir(),
		},
	}
}

func newTestRunner(t *testing.T) (*Runner, *exchangetest.MockClient, *exchangetest.MockStream) {
	t.Helper()
	cfg := testConfig(t)
	client := exchangetest.NewMockClient()
	stream := &exchangetest.MockStream{}
	log := logger.NewDiscard()

	norm := precision.NewNormalizer(client)
	plan, err := planner.NewPlanner(planner.Config{
		Symbol:        cfg.Strategy.Symbol,
		TotalCapital:  cfg.Strategy.TotalCapital,
		MaxLayers:     cfg.Strategy.MaxLayers,
		Multiplier:    cfg.Strategy.Multiplier,
		PriceStepDown: cfg.Strategy.PriceStepDown,
	}, norm)
	require.NoError(t, err)

	exec := executor.NewExecutor(client, norm, cfg.Strategy.Symbol, log)
	track := tracker.NewFillTracker(client, exec, log, cfg.Strategy.Symbol, cfg.Strategy.TakeProfitPct)
	store, err := stats.NewStore(cfg.Runtime.StatsDir, cfg.Strategy.Symbol)
	require.NoError(t, err)

	return NewRunner(cfg, client, stream, plan, exec, track, store, log, nil), client, stream
}

func TestTickPlantsLadderWhenFlat(t *testing.T) {
	r, client, _ := newTestRunner(t)

	require.NoError(t, r.tick(context.Background()))

	assert.Len(t, client.OpenOrderIDs(), 3)
	assert.Equal(t, 3, r.track.OpenCount())
	assert.Equal(t, StateNoPosition, r.State())
}

func TestTickDoesNotReplantWhileLadderLive(t *testing.T) {
	r, client, _ := newTestRunner(t)

	require.NoError(t, r.tick(context.Background()))
	first := client.OpenOrderIDs()

	require.NoError(t, r.tick(context.Background()))
	assert.ElementsMatch(t, first, client.OpenOrderIDs())
}

func TestFillMovesRunnerToAccumulating(t *testing.T) {
	r, client, stream := newTestRunner(t)
	stream.SetConnected(false)

	require.NoError(t, r.tick(context.Background()))

	// fill the highest layer on the exchange; the poll fallback finds it
	ids := client.OpenOrderIDs()
	require.NotEmpty(t, ids)
	var filled exchange.Order
	for _, id := range ids {
		if o, _ := client.OpenOrder(id); o.Side == exchange.OrderSideBuy {
			filled, _ = client.FillOrder(id)
			break
		}
	}
	require.NotEmpty(t, filled.OrderID)

	time.Sleep(2 * time.Millisecond) // let the poll interval elapse
	require.NoError(t, r.tick(context.Background()))

	assert.Equal(t, StateAccumulating, r.State())
	pos := r.track.GetPosition()
	assert.InDelta(t, filled.Quantity, pos.TotalQuantity, 1e-9)
	assert.NotEmpty(t, r.track.TakeProfitOrderID())
}

func TestCycleCompleteReplantsAnchoredLadder(t *testing.T) {
	r, client, _ := newTestRunner(t)
	require.NoError(t, r.tick(context.Background()))

	// fill one layer directly through the tracker's push entry point
	var buy exchange.Order
	for _, id := range client.OpenOrderIDs() {
		if o, _ := client.OpenOrder(id); o.Side == exchange.OrderSideBuy {
			buy, _ = client.FillOrder(id)
			break
		}
	}
	require.NotEmpty(t, buy.OrderID)
	r.track.HandleOrderUpdate(context.Background(), exchange.OrderUpdate{Order: buy})

	tpID := r.track.TakeProfitOrderID()
	require.NotEmpty(t, tpID)
	tp, _ := client.FillOrder(tpID)
	r.track.HandleOrderUpdate(context.Background(), exchange.OrderUpdate{Order: tp})

	// cycle recorded and a fresh ladder planted off the exit price
	assert.Equal(t, 1, r.store.TotalCycles())
	assert.Greater(t, r.store.TotalProfit(), 0.0)
	assert.Equal(t, 3, r.track.OpenCount())
	assert.Equal(t, StateNoPosition, r.State())
	assert.Equal(t, 2, r.track.GetPosition().CycleID)
}

func TestConcurrentPlantersPlaceOneLadder(t *testing.T) {
	r, client, _ := newTestRunner(t)

	// the cycle-complete callback replants on the fill-delivery goroutine
	// while the tick loop can decide to plant at the same moment; only one
	// ladder may reach the exchange
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.plantLadder(context.Background(), 100)
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Len(t, client.OpenOrderIDs(), 3)
	assert.Equal(t, 3, r.track.OpenCount())
}

func TestPlantLadderNoOpWhileLadderRests(t *testing.T) {
	r, client, _ := newTestRunner(t)

	require.NoError(t, r.plantLadder(context.Background(), 100))
	first := client.OpenOrderIDs()
	cycleID := r.track.GetPosition().CycleID

	require.NoError(t, r.plantLadder(context.Background(), 100))

	assert.ElementsMatch(t, first, client.OpenOrderIDs())
	assert.Equal(t, cycleID, r.track.GetPosition().CycleID)
}

func TestReplantFailureKeepsExitAnchor(t *testing.T) {
	r, client, _ := newTestRunner(t)

	r.mu.Lock()
	r.lastExitPrice = 98
	r.mu.Unlock()

	client.SubmitErr = errors.New("exchange unavailable")
	require.Error(t, r.plantLadder(context.Background(), 100))

	r.mu.Lock()
	anchor := r.lastExitPrice
	r.mu.Unlock()
	assert.Equal(t, 98.0, anchor, "failed replant must keep the exit anchor for the retry")

	client.SubmitErr = nil
	require.NoError(t, r.plantLadder(context.Background(), 100))

	// the highest layer sits one gap below the preserved exit anchor, not
	// below the market price
	var best float64
	for _, id := range client.OpenOrderIDs() {
		if o, _ := client.OpenOrder(id); o.Side == exchange.OrderSideBuy && o.Price > best {
			best = o.Price
		}
	}
	assert.InDelta(t, 98*0.99, best, 1e-6)
}

func TestKillSwitchTriggersEmergencyStop(t *testing.T) {
	r, client, _ := newTestRunner(t)
	require.NoError(t, r.tick(context.Background()))

	require.NoError(t, os.WriteFile(r.cfg.Risk.KillSwitchFile, []byte("stop"), 0644))
	require.NoError(t, r.tick(context.Background()))

	assert.Zero(t, r.track.OpenCount())
	assert.Empty(t, client.OpenOrderIDs())

	// the loop must be stopped
	select {
	case <-r.stopChan:
	default:
		t.Fatal("emergency stop must halt the runner")
	}
}

func TestDrawdownTriggersLiquidation(t *testing.T) {
	r, client, _ := newTestRunner(t)
	require.NoError(t, r.tick(context.Background()))

	// fill a layer so the bot holds a position around 99
	for _, id := range client.OpenOrderIDs() {
		if o, _ := client.OpenOrder(id); o.Side == exchange.OrderSideBuy {
			filled, _ := client.FillOrder(id)
			r.track.HandleOrderUpdate(context.Background(), exchange.OrderUpdate{Order: filled})
			break
		}
	}
	pos := r.track.GetPosition()
	require.Greater(t, pos.TotalQuantity, 0.0)

	// price collapses 20% below the entry
	client.SetTicker("BTCUSDT", pos.AverageEntryPrice*0.8)
	require.NoError(t, r.tick(context.Background()))

	assert.Zero(t, r.track.GetPosition().TotalQuantity)
	assert.Zero(t, r.track.OpenCount())

	// the emergency cycle is on record with a realized loss
	trades := r.store.Trades()
	require.NotEmpty(t, trades)
	last := trades[len(trades)-1]
	assert.True(t, last.Emergency)
	assert.Less(t, last.Profit, 0.0)
}

func TestRiskGuardCheck(t *testing.T) {
	dir := t.TempDir()
	guard := NewRiskGuard(config.RiskConfig{
		MaxLossPct:     -0.1,
		KillSwitchFile: filepath.Join(dir, "STOP"),
	})

	_, triggered := guard.Check(100, 0, 0)
	assert.False(t, triggered, "no position, no kill switch")

	_, triggered = guard.Check(95, 100, 1)
	assert.False(t, triggered, "5%% drawdown is inside the limit")

	reason, triggered := guard.Check(89, 100, 1)
	assert.True(t, triggered)
	assert.Contains(t, reason, "drawdown")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "STOP"), nil, 0644))
	reason, triggered = guard.Check(100, 0, 0)
	assert.True(t, triggered)
	assert.Contains(t, reason, "kill switch")
}

func TestRunStopsOnStop(t *testing.T) {
	r, _, _ := newTestRunner(t)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
