// Package config loads the bot configuration from a JSON file with
// credentials supplied through the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BotConfig represents the complete configuration for the trading bot
type BotConfig struct {
	Strategy StrategyConfig `json:"strategy"`
	Exchange ExchangeConfig `json:"exchange"`
	Risk     RiskConfig     `json:"risk"`
	Runtime  RuntimeConfig  `json:"runtime"`

	// Notifications is optional; omitting it disables alerting
	Notifications NotificationsConfig `json:"notifications,omitempty"`
}

// NotificationsConfig holds alerting settings. The Telegram token and chat
// id are read from the environment, never from the file.
type NotificationsConfig struct {
	Enabled        bool   `json:"enabled"`
	TelegramToken  string `json:"-"`
	TelegramChatID string `json:"-"`
}

// StrategyConfig holds the ladder shape and exit parameters
type StrategyConfig struct {
	Symbol                string  `json:"symbol"`                             // Trading symbol (e.g., BTCUSDT)
	TotalCapital          float64 `json:"total_capital"`                      // Capital committed to one ladder, in quote currency
	MaxLayers             int     `json:"max_layers"`                         // Number of ladder layers
	Multiplier            float64 `json:"multiplier"`                         // Geometric weight between consecutive layers
	PriceStepDown         float64 `json:"price_step_down"`                    // Fractional price step between layers
	FirstLayerFixedAmount float64 `json:"first_layer_fixed_amount,omitempty"` // Optional fixed amount for layer 0
	TakeProfitPct         float64 `json:"take_profit_pct"`                    // Profit target above average entry
	EntryGapAfterTP       float64 `json:"entry_gap_after_tp,omitempty"`       // First-layer gap when re-entering after an exit
}

// ExchangeConfig holds the exchange connection settings. Credentials come
// from the environment, never from the config file.
type ExchangeConfig struct {
	Name      string `json:"name"`               // currently only "bybit"
	Category  string `json:"category"`           // "spot" or "linear"
	Testnet   bool   `json:"testnet,omitempty"`
	Demo      bool   `json:"demo,omitempty"`
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
}

// RiskConfig holds the risk guard parameters
type RiskConfig struct {
	MaxLossPct     float64 `json:"max_loss_pct"`               // Drawdown (negative fraction) that triggers liquidation
	KillSwitchFile string  `json:"kill_switch_file,omitempty"` // External flag file checked every tick
}

// RuntimeConfig holds loop timing and operational settings
type RuntimeConfig struct {
	TickInterval     Duration `json:"tick_interval"`      // Sleep between Runner ticks
	PollInterval     Duration `json:"poll_interval"`      // Reconcile cadence while the stream is down
	PenaltyInterval  Duration `json:"penalty_interval"`   // Extra sleep after a tick-level error
	MetricsAddr      string   `json:"metrics_addr"`       // Listen address for /metrics and /health, "" disables
	StatsDir         string   `json:"stats_dir"`          // Directory for per-symbol stats files
}

// Duration wraps time.Duration with JSON string support ("30s", "1m")
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads, defaults and validates a config file. Bare names resolve
// under configs/ and get a .json extension, so "btc-ladder" works.
func Load(configFile string) (*BotConfig, error) {
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config BotConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	config.loadCredentials()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// setDefaults fills in values omitted from the file
func (c *BotConfig) setDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}
	if c.Exchange.Category == "" {
		c.Exchange.Category = "spot"
	}
	if c.Strategy.TakeProfitPct == 0 {
		c.Strategy.TakeProfitPct = 0.02
	}
	if c.Risk.MaxLossPct == 0 {
		c.Risk.MaxLossPct = -0.15
	}
	if c.Risk.KillSwitchFile == "" {
		c.Risk.KillSwitchFile = "STOP"
	}
	if c.Runtime.TickInterval == 0 {
		c.Runtime.TickInterval = Duration(5 * time.Second)
	}
	if c.Runtime.PollInterval == 0 {
		c.Runtime.PollInterval = Duration(15 * time.Second)
	}
	if c.Runtime.PenaltyInterval == 0 {
		c.Runtime.PenaltyInterval = Duration(30 * time.Second)
	}
	if c.Runtime.StatsDir == "" {
		c.Runtime.StatsDir = "data"
	}
}

// loadCredentials pulls API credentials from the environment
func (c *BotConfig) loadCredentials() {
	c.Exchange.APIKey = os.Getenv("BYBIT_API_KEY")
	c.Exchange.APISecret = os.Getenv("BYBIT_API_SECRET")
	if os.Getenv("BYBIT_DEMO") == "true" {
		c.Exchange.Demo = true
	}
	if os.Getenv("BYBIT_TESTNET") == "true" {
		c.Exchange.Testnet = true
	}
	c.Notifications.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	c.Notifications.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	if c.Notifications.TelegramToken == "" || c.Notifications.TelegramChatID == "" {
		c.Notifications.Enabled = false
	}
}

// validate rejects configurations the bot cannot run with
func (c *BotConfig) validate() error {
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.TotalCapital <= 0 {
		return fmt.Errorf("strategy.total_capital must be positive")
	}
	if c.Strategy.MaxLayers < 1 {
		return fmt.Errorf("strategy.max_layers must be at least 1")
	}
	if c.Strategy.Multiplier <= 0 {
		return fmt.Errorf("strategy.multiplier must be positive")
	}
	if c.Strategy.PriceStepDown <= 0 || c.Strategy.PriceStepDown >= 1 {
		return fmt.Errorf("strategy.price_step_down must be in (0,1)")
	}
	if c.Strategy.TakeProfitPct <= 0 {
		return fmt.Errorf("strategy.take_profit_pct must be positive")
	}
	if c.Exchange.Name != "bybit" {
		return fmt.Errorf("unsupported exchange %q", c.Exchange.Name)
	}
	if c.Exchange.Category != "spot" && c.Exchange.Category != "linear" {
		return fmt.Errorf("exchange.category must be \"spot\" or \"linear\", got %q", c.Exchange.Category)
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET must be set in the environment")
	}
	if c.Risk.MaxLossPct >= 0 {
		return fmt.Errorf("risk.max_loss_pct must be negative (a drawdown threshold)")
	}
	return nil
}
