package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fill metrics. Source distinguishes the push channel from the
	// reconcile poll so duplicate-delivery rates are observable.
	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_bot_fills_total",
			Help: "Total number of fills applied to the position",
		},
		[]string{"symbol", "side", "source"},
	)

	duplicateFillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_bot_duplicate_fills_total",
			Help: "Fill notifications ignored because they were already applied",
		},
		[]string{"symbol"},
	)

	presumedFillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_bot_presumed_fills_total",
			Help: "Fills inferred from order disappearance rather than confirmed",
		},
		[]string{"symbol", "corroborated"},
	)

	// Cycle metrics
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_bot_cycles_total",
			Help: "Total number of completed trading cycles",
		},
		[]string{"symbol"},
	)

	realizedProfit = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_bot_realized_profit_total",
			Help: "Cumulative realized profit in quote currency",
		},
		[]string{"symbol"},
	)

	// Position and market metrics
	openOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ladder_bot_open_orders",
			Help: "Number of orders currently tracked as active",
		},
		[]string{"symbol"},
	)

	positionQuantity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ladder_bot_position_quantity",
			Help: "Current position size in base currency",
		},
		[]string{"symbol"},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ladder_bot_current_price",
			Help: "Last observed price of the trading symbol",
		},
		[]string{"symbol"},
	)

	// Connectivity and error metrics
	streamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ladder_bot_stream_reconnects_total",
			Help: "Total number of order stream reconnects",
		},
	)

	emergencyStopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_bot_emergency_stops_total",
			Help: "Total number of emergency liquidations",
		},
		[]string{"symbol", "reason"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_bot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(fillsTotal)
	prometheus.MustRegister(duplicateFillsTotal)
	prometheus.MustRegister(presumedFillsTotal)
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(realizedProfit)
	prometheus.MustRegister(openOrders)
	prometheus.MustRegister(positionQuantity)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(streamReconnectsTotal)
	prometheus.MustRegister(emergencyStopsTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus metrics endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordFill records one applied fill
func RecordFill(symbol, side, source string) {
	fillsTotal.WithLabelValues(symbol, side, source).Inc()
}

// RecordDuplicateFill records a fill notification that was a no-op
func RecordDuplicateFill(symbol string) {
	duplicateFillsTotal.WithLabelValues(symbol).Inc()
}

// RecordPresumedFill records an inferred fill
func RecordPresumedFill(symbol string, corroborated bool) {
	label := "no"
	if corroborated {
		label = "yes"
	}
	presumedFillsTotal.WithLabelValues(symbol, label).Inc()
}

// RecordCycleComplete records a completed cycle and its profit
func RecordCycleComplete(symbol string, profit float64) {
	cyclesTotal.WithLabelValues(symbol).Inc()
	realizedProfit.WithLabelValues(symbol).Add(profit)
}

// UpdateOpenOrders updates the tracked active-order gauge
func UpdateOpenOrders(symbol string, count int) {
	openOrders.WithLabelValues(symbol).Set(float64(count))
}

// UpdatePosition updates the position size gauge
func UpdatePosition(symbol string, quantity float64) {
	positionQuantity.WithLabelValues(symbol).Set(quantity)
}

// UpdatePrice updates the current price gauge
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordStreamReconnect records one order stream reconnect
func RecordStreamReconnect() {
	streamReconnectsTotal.Inc()
}

// RecordEmergencyStop records an emergency liquidation
func RecordEmergencyStop(symbol, reason string) {
	emergencyStopsTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
