package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
)

// rawOrder is the wire shape of an order in Bybit v5 responses. All numeric
// fields arrive as strings.
type rawOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

// rawExecution is one record from the /v5/execution/list endpoint.
type rawExecution struct {
	OrderID   string `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	ExecPrice string `json:"execPrice"`
	ExecQty   string `json:"execQty"`
	ExecTime  string `json:"execTime"`
}

// rawPosition is one record from the /v5/position/list endpoint.
type rawPosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
}

func (r rawOrder) toOrder() exchange.Order {
	return exchange.Order{
		OrderID:     r.OrderID,
		OrderLinkID: r.OrderLinkID,
		Symbol:      r.Symbol,
		Side:        exchange.OrderSide(r.Side),
		OrderType:   exchange.OrderType(r.OrderType),
		Price:       parseFloat(r.Price),
		Quantity:    parseFloat(r.Qty),
		CumExecQty:  parseFloat(r.CumExecQty),
		AvgPrice:    parseFloat(r.AvgPrice),
		Status:      mapOrderStatus(r.OrderStatus),
		CreatedTime: parseTimestamp(r.CreatedTime),
		UpdatedTime: parseTimestamp(r.UpdatedTime),
	}
}

func (r rawExecution) toFill() exchange.Fill {
	return exchange.Fill{
		OrderID:  r.OrderID,
		Symbol:   r.Symbol,
		Side:     exchange.OrderSide(r.Side),
		Price:    parseFloat(r.ExecPrice),
		Quantity: parseFloat(r.ExecQty),
		ExecTime: parseTimestamp(r.ExecTime),
	}
}

func (r rawPosition) toPosition() exchange.Position {
	return exchange.Position{
		Symbol:        r.Symbol,
		Side:          r.Side,
		Size:          parseFloat(r.Size),
		AvgPrice:      parseFloat(r.AvgPrice),
		UnrealisedPnl: parseFloat(r.UnrealisedPnl),
	}
}

// mapOrderStatus folds Bybit's order states into the local status set.
// PartiallyFilledCanceled counts as cancelled: the executed part is already
// accounted for through cumExecQty deltas.
func mapOrderStatus(s string) exchange.OrderStatus {
	switch s {
	case "New", "Untriggered", "Triggered":
		return exchange.StatusNew
	case "PartiallyFilled":
		return exchange.StatusPartiallyFilled
	case "Filled":
		return exchange.StatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return exchange.StatusCancelled
	case "Rejected":
		return exchange.StatusRejected
	}
	return exchange.StatusUnknown
}

// parseFloat converts Bybit string numerics to float64, treating empty
// strings and garbage as zero.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseTimestamp converts a millisecond epoch string to time.Time
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// unwrapResult validates a ServerResponse and unmarshals its Result field
// into out.
func unwrapResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("invalid response type %T", response)
	}
	if err := ParseAPIError(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return err
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}
