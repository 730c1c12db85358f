package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// Client implements the exchange.Client interface against the Bybit v5
// unified trading API.
type Client struct {
	httpClient *bybit_api.Client
	apiKey     string
	apiSecret  string
	category   string
	testnet    bool
	demo       bool
	retry      RetryPolicy
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Category  string // "spot" or "linear"
	Testnet   bool
	Demo      bool // Demo trading environment (paper trading)
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	var baseURL string
	if config.Demo {
		baseURL = "https://api-demo.bybit.com"
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	category := config.Category
	if category == "" {
		category = "spot"
	}

	return &Client{
		httpClient: httpClient,
		apiKey:     config.APIKey,
		apiSecret:  config.APISecret,
		category:   category,
		testnet:    config.Testnet,
		demo:       config.Demo,
		retry:      DefaultRetryPolicy(),
	}
}

// StreamURL returns the private websocket endpoint matching the client's
// environment.
func (c *Client) StreamURL() string {
	if c.demo {
		return "wss://stream-demo.bybit.com/v5/private"
	}
	if c.testnet {
		return "wss://stream-testnet.bybit.com/v5/private"
	}
	return "wss://stream.bybit.com/v5/private"
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	if c.demo {
		return "demo"
	} else if c.testnet {
		return "testnet"
	}
	return "mainnet"
}

// IsDemo returns whether the client is configured for demo trading
func (c *Client) IsDemo() bool {
	return c.demo
}
