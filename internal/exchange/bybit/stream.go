package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange"
)

const (
	pingInterval     = 20 * time.Second
	handshakeTimeout = 10 * time.Second
	authExpiryWindow = 10 * time.Second
	maxReconnects    = 10
	reconnectBase    = 1 * time.Second
	reconnectMax     = 60 * time.Second
)

// OrderStream subscribes to the private "order" topic on Bybit's v5
// websocket and delivers order updates to a callback. It owns its
// reconnect loop: after any disconnect it re-authenticates and
// re-subscribes with exponential backoff, up to maxReconnects attempts
// in a row.
type OrderStream struct {
	url       string
	apiKey    string
	apiSecret string

	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	callback  func(exchange.OrderUpdate)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// incremented on every successful reconnect, read by monitoring
	reconnects int64

	onReconnect func()
}

// NewOrderStream creates a stream for the given private websocket endpoint
func NewOrderStream(url, apiKey, apiSecret string) *OrderStream {
	return &OrderStream{
		url:         url,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		maxAttempts: maxReconnects,
		backoffBase: reconnectBase,
		backoffMax:  reconnectMax,
	}
}

// OnOrderUpdate registers the callback invoked for every order update.
// Must be called before Connect.
func (s *OrderStream) OnOrderUpdate(callback func(exchange.OrderUpdate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = callback
}

// OnReconnect registers a hook invoked after every successful reconnect
func (s *OrderStream) OnReconnect(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnect = hook
}

// Connect dials, authenticates, subscribes to the order topic and starts
// the read and keepalive loops.
func (s *OrderStream) Connect(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.dial(); err != nil {
		s.cancel()
		return err
	}

	// done only exists once run() owns the connection, so Close stays
	// safe when the initial dial failed
	s.done = make(chan struct{})
	go s.run()
	return nil
}

// IsConnected reports whether the websocket is currently established
func (s *OrderStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Reconnects returns how many times the stream has reconnected
func (s *OrderStream) Reconnects() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnects
}

// Close tears down the stream and stops the reconnect loop
func (s *OrderStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if s.done != nil {
		<-s.done
	}
	return nil
}

// dial establishes one authenticated, subscribed connection
func (s *OrderStream) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}

	if err := s.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	if err := s.subscribe(conn); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	return nil
}

// authenticate sends the HMAC auth request and waits for acknowledgement
func (s *OrderStream) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(authExpiryWindow).UnixMilli()
	payload := fmt.Sprintf("GET/realtime%d", expires)

	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	authMsg := map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{s.apiKey, expires, signature},
	}
	if err := conn.WriteJSON(authMsg); err != nil {
		return fmt.Errorf("failed to send auth request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var resp struct {
		Op      string `json:"op"`
		Success bool   `json:"success"`
		RetMsg  string `json:"ret_msg"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.Op != "auth" || !resp.Success {
		return fmt.Errorf("websocket auth rejected: %s: %w", resp.RetMsg, exchange.ErrAuth)
	}
	return nil
}

// subscribe requests the private order topic
func (s *OrderStream) subscribe(conn *websocket.Conn) error {
	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"order"},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return fmt.Errorf("failed to subscribe to order topic: %w", err)
	}
	return nil
}

// run owns the connection lifecycle: read until the connection drops, then
// reconnect with backoff and repeat until the context is cancelled.
func (s *OrderStream) run() {
	defer close(s.done)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	go s.keepalive(pingTicker)

	for {
		s.readLoop()

		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}

		if !s.reconnect() {
			log.Printf("❌ Order stream gave up after %d reconnect attempts", s.maxAttempts)
			return
		}
	}
}

// keepalive sends the Bybit-level ping on every tick
func (s *OrderStream) keepalive(ticker *time.Ticker) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			connected := s.connected
			s.mu.RUnlock()
			if !connected || conn == nil {
				continue
			}
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				log.Printf("⚠️ Order stream ping failed: %v", err)
			}
		}
	}
}

// readLoop consumes messages until the connection errors out
func (s *OrderStream) readLoop() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				log.Printf("⚠️ Order stream read error: %v", err)
			}
			conn.Close()
			return
		}
		s.handleMessage(message)
	}
}

// reconnect dials with exponential backoff. Returns false when the attempt
// budget is exhausted or the context is cancelled.
func (s *OrderStream) reconnect() bool {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		delay := s.backoffBase * (1 << uint(attempt))
		if delay > s.backoffMax {
			delay = s.backoffMax
		}

		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := s.dial(); err != nil {
			log.Printf("⚠️ Order stream reconnect attempt %d/%d failed: %v", attempt+1, s.maxAttempts, err)
			continue
		}

		s.mu.Lock()
		s.reconnects++
		hook := s.onReconnect
		s.mu.Unlock()

		log.Printf("✅ Order stream reconnected (attempt %d)", attempt+1)
		if hook != nil {
			hook()
		}
		return true
	}
	return false
}

// orderTopicMessage is the push frame for the private order topic
type orderTopicMessage struct {
	Topic string     `json:"topic"`
	Data  []rawOrder `json:"data"`
}

// handleMessage dispatches order topic frames to the registered callback
// and ignores operational frames (pong, subscribe acks).
func (s *OrderStream) handleMessage(message []byte) {
	var msg orderTopicMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("⚠️ Order stream: unparseable message: %v", err)
		return
	}
	if msg.Topic != "order" {
		return
	}

	s.mu.RLock()
	callback := s.callback
	s.mu.RUnlock()
	if callback == nil {
		return
	}

	for _, raw := range msg.Data {
		callback(exchange.OrderUpdate{Order: raw.toOrder()})
	}
}
