// Package planner computes the layered entry ladder: how much capital each
// layer gets and at which price each limit buy is placed.
package planner

import (
	"context"
	"fmt"
	"math"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/precision"
)

// PlannedOrder is one rung of the ladder, ready for submission
type PlannedOrder struct {
	LayerIndex int
	Price      float64
	Quantity   float64
	Amount     float64 // capital allocated to this layer, in quote currency
}

// Config holds the ladder shape parameters
type Config struct {
	Symbol                string
	TotalCapital          float64
	MaxLayers             int
	Multiplier            float64 // geometric weight between consecutive layers
	PriceStepDown         float64 // fractional step between layers, e.g. 0.01 = 1%
	FirstLayerFixedAmount float64 // optional; 0 means pure geometric split
	EntryGapAfterTP       float64 // optional; first-layer gap when re-entering after a take-profit
}

// Validate rejects configurations that cannot produce a usable ladder
func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.TotalCapital <= 0 {
		return fmt.Errorf("total capital must be positive, got %v", c.TotalCapital)
	}
	if c.MaxLayers < 1 {
		return fmt.Errorf("max layers must be at least 1, got %d", c.MaxLayers)
	}
	if c.Multiplier <= 0 {
		return fmt.Errorf("multiplier must be positive, got %v", c.Multiplier)
	}
	if c.PriceStepDown <= 0 || c.PriceStepDown >= 1 {
		return fmt.Errorf("price step down must be in (0,1), got %v", c.PriceStepDown)
	}
	if c.FirstLayerFixedAmount < 0 || c.FirstLayerFixedAmount >= c.TotalCapital {
		return fmt.Errorf("first layer fixed amount must be in [0, total capital), got %v", c.FirstLayerFixedAmount)
	}
	return nil
}

// Planner turns a market price into an allocation plan for one cycle
type Planner struct {
	config     Config
	normalizer *precision.Normalizer
}

// NewPlanner creates a planner for the given ladder configuration
func NewPlanner(config Config, normalizer *precision.Normalizer) (*Planner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid planner config: %w", err)
	}
	return &Planner{config: config, normalizer: normalizer}, nil
}

// AllocateFunds splits totalCapital across maxLayers by geometric weight.
// When firstLayerFixed > 0 the first layer gets exactly that amount and the
// remainder is split geometrically over the rest. The returned amounts
// always sum to totalCapital.
func AllocateFunds(totalCapital float64, maxLayers int, multiplier, firstLayerFixed float64) []float64 {
	if maxLayers < 1 || totalCapital <= 0 || multiplier <= 0 {
		return nil
	}

	amounts := make([]float64, maxLayers)

	if firstLayerFixed > 0 && maxLayers > 1 {
		amounts[0] = firstLayerFixed
		remainder := totalCapital - firstLayerFixed
		weights := geometricWeights(maxLayers-1, multiplier)
		for i := 1; i < maxLayers; i++ {
			amounts[i] = remainder * weights[i-1]
		}
		return amounts
	}
	if firstLayerFixed > 0 && maxLayers == 1 {
		amounts[0] = totalCapital
		return amounts
	}

	weights := geometricWeights(maxLayers, multiplier)
	for i := range amounts {
		amounts[i] = totalCapital * weights[i]
	}
	return amounts
}

// geometricWeights returns n weights proportional to multiplier^(n-1-i),
// normalized to sum to 1. The largest weight goes to the first layer so
// early fills commit more capital near the entry price.
func geometricWeights(n int, multiplier float64) []float64 {
	weights := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		weights[i] = math.Pow(multiplier, float64(n-1-i))
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// GenerateOrders produces the full buy ladder below currentPrice. Layer i
// is priced at currentPrice * (1 - stepDown*(i+1)). Returns an error when
// the price is unusable or precision constraints cannot be satisfied; the
// caller should treat that as "retry later", not as an empty ladder wanted.
func (p *Planner) GenerateOrders(ctx context.Context, currentPrice float64) ([]PlannedOrder, error) {
	return p.generate(ctx, currentPrice, p.config.PriceStepDown)
}

// ReLadderAfterTakeProfit produces the next cycle's ladder anchored to the
// take-profit fill price. The first layer sits entryGapAfterTP below the
// exit price (falling back to the normal step when the gap is unset);
// deeper layers continue down by the normal step.
func (p *Planner) ReLadderAfterTakeProfit(ctx context.Context, tpFillPrice float64) ([]PlannedOrder, error) {
	gap := p.config.EntryGapAfterTP
	if gap <= 0 {
		gap = p.config.PriceStepDown
	}
	return p.generate(ctx, tpFillPrice, gap)
}

func (p *Planner) generate(ctx context.Context, basePrice, firstGap float64) ([]PlannedOrder, error) {
	if basePrice <= 0 {
		return nil, fmt.Errorf("base price must be positive, got %v", basePrice)
	}

	amounts := AllocateFunds(p.config.TotalCapital, p.config.MaxLayers, p.config.Multiplier, p.config.FirstLayerFixedAmount)

	orders := make([]PlannedOrder, 0, len(amounts))
	for i, amount := range amounts {
		discount := firstGap + p.config.PriceStepDown*float64(i)
		if discount >= 1 {
			return nil, fmt.Errorf("layer %d priced below zero (discount %.4f)", i, discount)
		}
		rawPrice := basePrice * (1 - discount)

		price, err := p.normalizer.NormalizePrice(ctx, p.config.Symbol, rawPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize layer %d price: %w", i, err)
		}
		qty, err := p.normalizer.NormalizeQuantity(ctx, p.config.Symbol, amount/price)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize layer %d quantity: %w", i, err)
		}
		if err := p.normalizer.ValidateNotional(ctx, p.config.Symbol, price, qty); err != nil {
			return nil, fmt.Errorf("layer %d fails notional check: %w", i, err)
		}

		orders = append(orders, PlannedOrder{
			LayerIndex: i,
			Price:      price,
			Quantity:   qty,
			Amount:     amount,
		})
	}
	return orders, nil
}

// TakeProfitPrice computes the sell target for a position average
func TakeProfitPrice(avgEntryPrice, takeProfitPct float64) float64 {
	return avgEntryPrice * (1 + takeProfitPct)
}

// Side returns the ladder side. Entry ladders are always buys.
func (p *Planner) Side() exchange.OrderSide {
	return exchange.OrderSideBuy
}

// Symbol returns the configured trading symbol
func (p *Planner) Symbol() string {
	return p.config.Symbol
}
