// Package runner drives the trading loop: planting ladders, reconciling
// fills, enforcing risk limits and rolling from one cycle into the next.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/config"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/executor"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/logger"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/monitoring"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/notifications"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/planner"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/stats"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/tracker"
)

// State is the runner's view of where the current cycle stands
type State string

const (
	StateNoPosition   State = "NoPosition"
	StateAccumulating State = "AccumulatingPosition"
	StateLiquidating  State = "Liquidating"
)

// statusEvery controls how many ticks pass between console status tables
const statusEvery = 12

// Runner owns one symbol's trading loop
type Runner struct {
	cfg    *config.BotConfig
	client exchange.Client
	stream exchange.OrderStream
	plan   *planner.Planner
	exec   *executor.Executor
	track  *tracker.FillTracker
	store  *stats.Store
	log    *logger.Logger
	health *monitoring.HealthChecker
	guard  *RiskGuard
	notify notifications.Notifier

	stopChan chan struct{}
	stopOnce sync.Once

	// serializes ladder planting between the tick loop and the
	// cycle-complete callback, which runs on the fill-delivery goroutine
	plantMu sync.Mutex

	mu            sync.Mutex
	state         State
	lastExitPrice float64 // anchor for the post-exit re-ladder, 0 when unset
	lastReconcile time.Time
	tickCount     int
}

// NewRunner wires the trading loop together. The stream may be nil, in
// which case fills are detected purely by polling.
func NewRunner(
	cfg *config.BotConfig,
	client exchange.Client,
	stream exchange.OrderStream,
	plan *planner.Planner,
	exec *executor.Executor,
	track *tracker.FillTracker,
	store *stats.Store,
	log *logger.Logger,
	health *monitoring.HealthChecker,
) *Runner {
	r := &Runner{
		cfg:      cfg,
		client:   client,
		stream:   stream,
		plan:     plan,
		exec:     exec,
		track:    track,
		store:    store,
		log:      log,
		health:   health,
		guard:    NewRiskGuard(cfg.Risk),
		notify:   notifications.NopNotifier{},
		stopChan: make(chan struct{}),
		state:    StateNoPosition,
	}
	track.OnCycleComplete(r.handleCycleComplete)
	return r
}

// SetNotifier replaces the alert sink. Must be called before Run.
func (r *Runner) SetNotifier(n notifications.Notifier) {
	if n != nil {
		r.notify = n
	}
}

// sendAlert delivers an alert without blocking the trading loop
func (r *Runner) sendAlert(level, message string) {
	go func() {
		if err := r.notify.SendAlert(level, message); err != nil {
			r.log.Warning("Failed to send alert: %v", err)
		}
	}()
}

// State returns the runner's current cycle state
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stop signals the loop to exit after the current tick
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// Run executes the loop until Stop is called, the context is cancelled or
// the risk guard fires. Tick-level errors never terminate the loop; they
// are logged and followed by a penalty sleep.
func (r *Runner) Run(ctx context.Context) error {
	if r.stream != nil {
		r.stream.OnOrderUpdate(func(update exchange.OrderUpdate) {
			r.track.HandleOrderUpdate(ctx, update)
		})
		if err := r.stream.Connect(ctx); err != nil {
			r.log.Warning("Order stream unavailable, relying on polling: %v", err)
			monitoring.RecordError("stream_connect")
		}
		defer r.stream.Close()
	}

	r.printStartup()

	ticker := time.NewTicker(r.cfg.Runtime.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopChan:
			r.log.Info("Runner stopped")
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.log.LogError("tick", err)
				if r.health != nil {
					r.health.RecordError(err)
				}
				monitoring.RecordError("tick")
				// penalty sleep keeps a flapping exchange from being
				// hammered at full tick rate
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-r.stopChan:
					return nil
				case <-time.After(r.cfg.Runtime.PenaltyInterval.Std()):
				}
			}
		}
	}
}

// tick runs one pass of the control loop
func (r *Runner) tick(ctx context.Context) error {
	symbol := r.plan.Symbol()

	t, err := r.client.GetTicker(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch ticker: %w", err)
	}
	price := t.LastPrice
	monitoring.UpdatePrice(symbol, price)
	if r.health != nil {
		r.health.RecordTick(price)
		r.health.SetStreamOnline(r.streamConnected())
	}

	// Risk takes priority over everything else on every tick
	pos := r.track.GetPosition()
	if reason, triggered := r.guard.Check(price, pos.AverageEntryPrice, pos.TotalQuantity); triggered {
		r.emergencyStop(ctx, reason, price)
		return nil
	}

	r.syncState()

	switch r.State() {
	case StateNoPosition:
		if r.track.OpenCount() == 0 {
			if err := r.plantLadder(ctx, price); err != nil {
				return err
			}
		} else {
			r.maybeReconcile(ctx)
		}
	case StateAccumulating:
		r.maybeReconcile(ctx)
	case StateLiquidating:
		// waiting for cycle-complete bookkeeping; nothing to drive
	}

	// fills applied during this tick may have changed the picture
	r.syncState()

	r.mu.Lock()
	r.tickCount++
	count := r.tickCount
	r.mu.Unlock()
	if count%statusEvery == 0 {
		r.printStatus(price)
	}
	return nil
}

// syncState derives the cycle state from tracker facts
func (r *Runner) syncState() {
	pos := r.track.GetPosition()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateLiquidating {
		return
	}
	if pos.TotalQuantity > 0 {
		r.state = StateAccumulating
	} else {
		r.state = StateNoPosition
	}
}

// plantLadder starts a fresh cycle: stray orders are cancelled
// defensively, the ladder planned and submitted, and every accepted order
// handed to the tracker. Only one planter runs at a time; a second caller
// arriving while a ladder already rests is a no-op.
func (r *Runner) plantLadder(ctx context.Context, price float64) error {
	r.plantMu.Lock()
	defer r.plantMu.Unlock()

	if r.track.OpenCount() > 0 {
		return nil
	}

	if err := r.exec.CancelAll(ctx); err != nil {
		r.log.Warning("Defensive cancel before planting failed: %v", err)
		monitoring.RecordError("cancel_all")
	}

	cycleID := r.store.NextCycleID()
	r.track.StartCycle(cycleID)

	r.mu.Lock()
	exitAnchor := r.lastExitPrice
	r.lastExitPrice = 0
	r.mu.Unlock()

	anchor := exitAnchor
	var (
		plan []planner.PlannedOrder
		err  error
	)
	if anchor > 0 {
		plan, err = r.plan.ReLadderAfterTakeProfit(ctx, anchor)
	} else {
		anchor = price
		plan, err = r.plan.GenerateOrders(ctx, price)
	}
	if err != nil {
		r.restoreExitAnchor(exitAnchor)
		return fmt.Errorf("failed to plan ladder for cycle %d: %w", cycleID, err)
	}

	orders, err := r.exec.SubmitLadder(ctx, plan)
	for _, order := range orders {
		if trackErr := r.track.Track(order); trackErr != nil {
			r.log.LogError("track submitted order", trackErr)
		}
	}
	if err != nil {
		if len(orders) == 0 {
			r.restoreExitAnchor(exitAnchor)
		}
		return fmt.Errorf("ladder for cycle %d only partially placed: %w", cycleID, err)
	}

	r.log.Info("🪜 Cycle %d: ladder planted with %d layers (anchor %.4f)", cycleID, len(orders), anchor)
	return nil
}

// restoreExitAnchor puts a post-exit anchor back so the retrying tick
// still anchors to the take-profit fill rather than the market price
func (r *Runner) restoreExitAnchor(anchor float64) {
	if anchor <= 0 {
		return
	}
	r.mu.Lock()
	if r.lastExitPrice == 0 {
		r.lastExitPrice = anchor
	}
	r.mu.Unlock()
}

// maybeReconcile polls for fills when the push channel is degraded, at
// the configured cadence. Fills are drained until a pass finds none.
func (r *Runner) maybeReconcile(ctx context.Context) {
	if r.track.OpenCount() == 0 {
		return
	}

	// while the stream is degraded polling is the only fill source and
	// runs at the poll interval; with the stream up it is just a safety
	// net and runs far less often
	interval := r.cfg.Runtime.PollInterval.Std()
	if r.streamConnected() {
		interval *= 4
	}

	r.mu.Lock()
	due := time.Since(r.lastReconcile) >= interval
	if due {
		r.lastReconcile = time.Now()
	}
	r.mu.Unlock()
	if !due {
		return
	}

	for i := 0; i < r.track.OpenCount()+1; i++ {
		event, err := r.track.Reconcile(ctx)
		if err != nil {
			r.log.LogError("reconcile", err)
			monitoring.RecordError("reconcile")
			return
		}
		if event == nil {
			return
		}
	}
}

// handleCycleComplete persists the finished cycle and immediately replants
// the next ladder anchored to the exit price, avoiding idle time between
// cycles. Invoked from ApplyFill's calling goroutine.
func (r *Runner) handleCycleComplete(result tracker.CycleResult) {
	record := stats.TradeRecord{
		CycleID:    result.CycleID,
		EntryPrice: result.EntryPrice,
		ExitPrice:  result.ExitPrice,
		Quantity:   result.Quantity,
		Profit:     result.Profit,
	}
	if err := r.store.RecordCycle(record); err != nil {
		r.log.LogError("persist cycle stats", err)
		monitoring.RecordError("stats_persist")
	}

	r.mu.Lock()
	r.state = StateNoPosition
	r.lastExitPrice = result.ExitPrice
	r.mu.Unlock()

	r.sendAlert(notifications.LevelSuccess, fmt.Sprintf(
		"Cycle %d completed on %s\nEntry: $%.4f → Exit: $%.4f\nProfit: $%.4f",
		result.CycleID, r.plan.Symbol(), result.EntryPrice, result.ExitPrice, result.Profit))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.plantLadder(ctx, result.ExitPrice); err != nil {
		// the next tick retries; plantLadder kept the anchor
		r.log.LogError("replant after cycle", err)
		monitoring.RecordError("replant")
	}
}

// emergencyStop liquidates everything and halts the loop. Local state is
// reset no matter what the exchange answers; the bot must never get stuck
// waiting for confirmation while in a risk breach.
func (r *Runner) emergencyStop(ctx context.Context, reason string, price float64) {
	pos := r.track.GetPosition()
	r.log.LogEmergencyStop(reason, pos.TotalQuantity, pos.AverageEntryPrice)
	monitoring.RecordEmergencyStop(r.plan.Symbol(), reason)
	r.sendAlert(notifications.LevelError, fmt.Sprintf(
		"EMERGENCY STOP on %s: %s\nLiquidating %.6f at market (avg entry $%.4f)",
		r.plan.Symbol(), reason, pos.TotalQuantity, pos.AverageEntryPrice))

	r.mu.Lock()
	r.state = StateLiquidating
	r.mu.Unlock()

	r.track.CancelAll(ctx)

	if pos.TotalQuantity > 0 {
		if _, err := r.exec.MarketClose(ctx, pos.TotalQuantity); err != nil {
			r.log.LogError("emergency market close", err)
			monitoring.RecordError("market_close")
		}
		record := stats.TradeRecord{
			CycleID:    pos.CycleID,
			EntryPrice: pos.AverageEntryPrice,
			ExitPrice:  price,
			Quantity:   pos.TotalQuantity,
			Profit:     (price - pos.AverageEntryPrice) * pos.TotalQuantity,
			Emergency:  true,
		}
		if err := r.store.RecordCycle(record); err != nil {
			r.log.LogError("persist emergency cycle", err)
		}
	}

	r.track.Reset()
	r.Stop()
}

func (r *Runner) streamConnected() bool {
	return r.stream != nil && r.stream.IsConnected()
}
