// Package precision normalizes prices and quantities to an instrument's
// tick size and quantity step before they reach the exchange.
package precision

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
)

// instrumentTTL controls how long cached instrument constraints stay fresh
const instrumentTTL = 1 * time.Hour

// Normalizer rounds raw planner output down to exchange-acceptable values
// and rejects orders below the instrument's minimums. Flooring (never
// rounding up) guarantees a normalized order can never exceed the funds the
// planner allocated for it.
type Normalizer struct {
	client exchange.Client

	mutex      sync.RWMutex
	cache      map[string]*exchange.Instrument
	lastUpdate map[string]time.Time
}

// NewNormalizer creates a normalizer backed by the given exchange client
func NewNormalizer(client exchange.Client) *Normalizer {
	return &Normalizer{
		client:     client,
		cache:      make(map[string]*exchange.Instrument),
		lastUpdate: make(map[string]time.Time),
	}
}

// Instrument returns the cached constraints for a symbol, refreshing from
// the exchange when the cache entry is stale or missing.
func (n *Normalizer) Instrument(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	n.mutex.RLock()
	inst, ok := n.cache[symbol]
	fresh := ok && time.Since(n.lastUpdate[symbol]) < instrumentTTL
	n.mutex.RUnlock()
	if fresh {
		return inst, nil
	}

	inst, err := n.client.GetInstrument(ctx, symbol)
	if err != nil {
		// A stale entry beats no entry when the exchange is unreachable
		if ok {
			return n.cache[symbol], nil
		}
		return nil, fmt.Errorf("failed to load instrument constraints for %s: %w", symbol, err)
	}
	if inst.TickSize <= 0 || inst.QtyStep <= 0 {
		return nil, fmt.Errorf("instrument %s reports invalid constraints (tick=%v step=%v)", symbol, inst.TickSize, inst.QtyStep)
	}

	n.mutex.Lock()
	n.cache[symbol] = inst
	n.lastUpdate[symbol] = time.Now()
	n.mutex.Unlock()

	return inst, nil
}

// NormalizePrice floors a price to the instrument's tick size
func (n *Normalizer) NormalizePrice(ctx context.Context, symbol string, price float64) (float64, error) {
	inst, err := n.Instrument(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return FloorToStep(price, inst.TickSize), nil
}

// NormalizeQuantity floors a quantity to the instrument's step and checks
// it against the minimum order quantity.
func (n *Normalizer) NormalizeQuantity(ctx context.Context, symbol string, qty float64) (float64, error) {
	inst, err := n.Instrument(ctx, symbol)
	if err != nil {
		return 0, err
	}

	normalized := FloorToStep(qty, inst.QtyStep)
	if normalized < inst.MinOrderQty {
		return 0, fmt.Errorf("quantity %v below minimum %v for %s", normalized, inst.MinOrderQty, symbol)
	}
	return normalized, nil
}

// ValidateNotional rejects orders whose value falls under the exchange
// minimum after normalization.
func (n *Normalizer) ValidateNotional(ctx context.Context, symbol string, price, qty float64) error {
	inst, err := n.Instrument(ctx, symbol)
	if err != nil {
		return err
	}
	if inst.MinNotional > 0 && price*qty < inst.MinNotional {
		return fmt.Errorf("order value %.4f below minimum notional %v for %s", price*qty, inst.MinNotional, symbol)
	}
	return nil
}

// FloorToStep rounds value down to the nearest multiple of step. A small
// epsilon absorbs float error so that values already on a step boundary
// are not knocked down a whole step.
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Floor(value/step + 1e-9)
	result := steps * step
	// Snap away residual binary-representation noise (e.g. 0.30000000000000004)
	decimals := stepDecimals(step)
	factor := math.Pow(10, float64(decimals))
	return math.Round(result*factor) / factor
}

// stepDecimals counts the decimal places needed to represent a step such
// as 0.001 exactly.
func stepDecimals(step float64) int {
	decimals := 0
	for step < 1 && decimals < 12 {
		step *= 10
		decimals++
	}
	return decimals
}
