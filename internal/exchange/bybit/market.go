package bybit

import (
	"context"
	"fmt"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
)

// GetTicker returns the latest price snapshot for a symbol
func (c *Client) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	apiParams := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	var listResult struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	err := c.withRetry(ctx, "get ticker", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).GetMarketTickers(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		listResult.List = nil
		return unwrapResult(result, &listResult)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker for %s: %w", symbol, err)
	}

	if len(listResult.List) == 0 {
		return nil, fmt.Errorf("no ticker data for symbol %s", symbol)
	}

	t := listResult.List[0]
	price := parseFloat(t.LastPrice)
	if price <= 0 {
		return nil, fmt.Errorf("invalid last price %q for symbol %s", t.LastPrice, symbol)
	}
	return &exchange.Ticker{Symbol: t.Symbol, LastPrice: price}, nil
}

// GetInstrument fetches the precision and size constraints for a symbol
func (c *Client) GetInstrument(ctx context.Context, symbol string) (*exchange.Instrument, error) {
	apiParams := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	var listResult struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep        string `json:"qtyStep"`
				BasePrecision  string `json:"basePrecision"`
				MinOrderQty    string `json:"minOrderQty"`
				MinOrderAmt    string `json:"minOrderAmt"`
				MinNotionalVal string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	err := c.withRetry(ctx, "get instrument info", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).GetInstrumentInfo(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", exchange.ErrTransient, err)
		}
		listResult.List = nil
		return unwrapResult(result, &listResult)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument info for %s: %w", symbol, err)
	}

	if len(listResult.List) == 0 {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}

	inst := listResult.List[0]
	// Spot reports basePrecision/minOrderAmt, linear reports
	// qtyStep/minNotionalValue.
	qtyStep := parseFloat(inst.LotSizeFilter.QtyStep)
	if qtyStep == 0 {
		qtyStep = parseFloat(inst.LotSizeFilter.BasePrecision)
	}
	minNotional := parseFloat(inst.LotSizeFilter.MinNotionalVal)
	if minNotional == 0 {
		minNotional = parseFloat(inst.LotSizeFilter.MinOrderAmt)
	}

	return &exchange.Instrument{
		Symbol:      inst.Symbol,
		TickSize:    parseFloat(inst.PriceFilter.TickSize),
		QtyStep:     qtyStep,
		MinOrderQty: parseFloat(inst.LotSizeFilter.MinOrderQty),
		MinNotional: minNotional,
	}, nil
}
