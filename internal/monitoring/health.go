package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker reports liveness for the trading loop and stream
type HealthChecker struct {
	mu           sync.RWMutex
	lastTick     time.Time
	lastPrice    float64
	streamOnline bool
	lastError    string
}

// HealthStatus is the JSON body served on the health endpoint
type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	LastTick     time.Time `json:"last_tick"`
	LastPrice    float64   `json:"last_price"`
	StreamOnline bool      `json:"stream_online"`
	Uptime       string    `json:"uptime"`
	LastError    string    `json:"last_error,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// RecordTick marks the trading loop alive and notes the latest price
func (h *HealthChecker) RecordTick(price float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = time.Now()
	h.lastPrice = price
}

// SetStreamOnline updates the stream connectivity flag
func (h *HealthChecker) SetStreamOnline(online bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streamOnline = online
}

// RecordError notes the most recent error for the health body
func (h *HealthChecker) RecordError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = err.Error()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// The stream being down is survivable (polling covers it), but a loop
	// that stopped ticking is not.
	status := "healthy"
	code := http.StatusOK
	if !h.streamOnline {
		status = "degraded"
	}
	if h.lastTick.IsZero() || time.Since(h.lastTick) > 5*time.Minute {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	health := HealthStatus{
		Status:       status,
		Timestamp:    time.Now(),
		LastTick:     h.lastTick,
		LastPrice:    h.lastPrice,
		StreamOnline: h.streamOnline,
		Uptime:       time.Since(startTime).String(),
		LastError:    h.lastError,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
