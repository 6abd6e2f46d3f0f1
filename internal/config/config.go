package config

import (
	"fmt"
	"os"
	"time"

	"github.com/s9927637/arbitrage-trader/internal/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DryRun bool `yaml:"dry_run"`

	Binance struct {
		ApiKey    string `yaml:"api_key"`
		ApiSecret string `yaml:"api_secret"`
		RestURL   string `yaml:"rest_url"`
		WsURL     string `yaml:"ws_url"`
	} `yaml:"binance"`

	// Pairs is the direction table: every symbol a path leg may touch,
	// with its base/quote orientation.
	Pairs []types.Pair `yaml:"pairs"`

	// Paths are the candidate cycles, in priority order.
	Paths [][]string `yaml:"paths"`

	Trade struct {
		FeeRatePerLeg      float64 `yaml:"fee_rate_per_leg"`
		SlippageTolerance  float64 `yaml:"slippage_tolerance"`
		MinProfitThreshold float64 `yaml:"min_profit_threshold"`
		MinTradeAmount     float64 `yaml:"min_trade_amount"`
		MaxTradeAmount     float64 `yaml:"max_trade_amount"`
		PrincipalFraction  float64 `yaml:"principal_fraction"`
		FeeAsset           string  `yaml:"fee_asset"`
		FeeAssetFloor      float64 `yaml:"fee_asset_floor"`
		FeeTopUpFraction   float64 `yaml:"fee_top_up_fraction"`
	} `yaml:"trade"`

	Risk struct {
		DailyVolumeCap   float64 `yaml:"daily_volume_cap"`
		MaxVolatility    float64 `yaml:"max_volatility"`
		ReferenceSymbol  string  `yaml:"reference_symbol"`
		VolatilityKlines int     `yaml:"volatility_klines"`
		KlineInterval    string  `yaml:"kline_interval"`
	} `yaml:"risk"`

	Limits struct {
		APIRateCapacity   int `yaml:"api_rate_capacity"`
		APIRateWindowMs   int `yaml:"api_rate_window_ms"`
		OrderRateCapacity int `yaml:"order_rate_capacity"`
		OrderRateWindowMs int `yaml:"order_rate_window_ms"`
	} `yaml:"limits"`

	Retry struct {
		MaxAttempts   int `yaml:"max_attempts"`
		BackoffBaseMs int `yaml:"backoff_base_ms"`
	} `yaml:"retry"`

	Timings struct {
		StalenessMs      int     `yaml:"staleness_ms"`
		EvalIntervalMs   int     `yaml:"eval_interval_ms"`
		OrderTimeoutMs   int     `yaml:"order_timeout_ms"`
		PriceMoveTrigger float64 `yaml:"price_move_trigger"`
	} `yaml:"timings"`

	Redis struct {
		Addr      string `yaml:"addr"`
		DB        int    `yaml:"db"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		Stream    string `yaml:"stream"`
		AttemptNS string `yaml:"attempt_ns"`
	} `yaml:"redis"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Dash struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"dash"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Binance.RestURL == "" {
		c.Binance.RestURL = "https://api.binance.com"
	}
	if c.Binance.WsURL == "" {
		c.Binance.WsURL = "wss://stream.binance.com:9443/stream"
	}
	if c.Trade.FeeRatePerLeg == 0 {
		c.Trade.FeeRatePerLeg = 0.00075
	}
	if c.Trade.SlippageTolerance == 0 {
		c.Trade.SlippageTolerance = 0.002
	}
	if c.Trade.PrincipalFraction == 0 {
		c.Trade.PrincipalFraction = 0.8
	}
	if c.Trade.FeeAsset == "" {
		c.Trade.FeeAsset = "BNB"
	}
	if c.Trade.FeeAssetFloor == 0 {
		c.Trade.FeeAssetFloor = 0.05
	}
	if c.Trade.FeeTopUpFraction == 0 {
		c.Trade.FeeTopUpFraction = 0.2
	}
	if c.Risk.ReferenceSymbol == "" {
		c.Risk.ReferenceSymbol = "BTCUSDT"
	}
	if c.Risk.VolatilityKlines == 0 {
		c.Risk.VolatilityKlines = 60
	}
	if c.Risk.KlineInterval == "" {
		c.Risk.KlineInterval = "1m"
	}
	if c.Limits.APIRateCapacity == 0 {
		c.Limits.APIRateCapacity = 1200
	}
	if c.Limits.APIRateWindowMs == 0 {
		c.Limits.APIRateWindowMs = 60_000
	}
	if c.Limits.OrderRateCapacity == 0 {
		c.Limits.OrderRateCapacity = 10
	}
	if c.Limits.OrderRateWindowMs == 0 {
		c.Limits.OrderRateWindowMs = 1000
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BackoffBaseMs == 0 {
		c.Retry.BackoffBaseMs = 200
	}
	if c.Timings.StalenessMs == 0 {
		c.Timings.StalenessMs = 5000
	}
	if c.Timings.EvalIntervalMs == 0 {
		c.Timings.EvalIntervalMs = 5000
	}
	if c.Timings.OrderTimeoutMs == 0 {
		c.Timings.OrderTimeoutMs = 10_000
	}
	if c.Timings.PriceMoveTrigger == 0 {
		c.Timings.PriceMoveTrigger = 0.001
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "trade:attempts"
	}
	if c.Redis.AttemptNS == "" {
		c.Redis.AttemptNS = "trade:attempt:"
	}
	return &c, nil
}

// Validate enforces the refuse-to-start contract: a config that cannot
// drive the engine is rejected instead of running degraded.
func (c *Config) Validate() error {
	if len(c.Paths) == 0 {
		return fmt.Errorf("config: no paths configured")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: no pairs configured")
	}
	for i, p := range c.PathList() {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config: paths[%d]: %w", i, err)
		}
	}
	for i, pm := range c.Pairs {
		if pm.Symbol == "" || pm.Base == "" || pm.Quote == "" {
			return fmt.Errorf("config: pairs[%d]: symbol/base/quote all required", i)
		}
	}
	if c.Trade.MinTradeAmount <= 0 {
		return fmt.Errorf("config: trade.min_trade_amount must be positive")
	}
	if c.Trade.MaxTradeAmount > 0 && c.Trade.MaxTradeAmount < c.Trade.MinTradeAmount {
		return fmt.Errorf("config: trade.max_trade_amount below min_trade_amount")
	}
	if c.Risk.DailyVolumeCap <= 0 {
		return fmt.Errorf("config: risk.daily_volume_cap must be positive")
	}
	if c.Risk.MaxVolatility <= 0 {
		return fmt.Errorf("config: risk.max_volatility must be positive")
	}
	if !c.DryRun && (c.Binance.ApiKey == "" || c.Binance.ApiSecret == "") {
		return fmt.Errorf("config: binance api credentials required outside dry-run")
	}
	return nil
}

func (c *Config) PathList() []types.Path {
	out := make([]types.Path, 0, len(c.Paths))
	for _, assets := range c.Paths {
		out = append(out, types.Path{Assets: assets})
	}
	return out
}

func (c *Config) Staleness() time.Duration {
	return time.Duration(c.Timings.StalenessMs) * time.Millisecond
}
func (c *Config) EvalInterval() time.Duration {
	return time.Duration(c.Timings.EvalIntervalMs) * time.Millisecond
}
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Timings.OrderTimeoutMs) * time.Millisecond
}
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Retry.BackoffBaseMs) * time.Millisecond
}
func (c *Config) APIRateWindow() time.Duration {
	return time.Duration(c.Limits.APIRateWindowMs) * time.Millisecond
}
func (c *Config) OrderRateWindow() time.Duration {
	return time.Duration(c.Limits.OrderRateWindowMs) * time.Millisecond
}
