package config

import "strings"

// Config is the main configuration carrier.
type Config struct {
	App       AppConfig       `toml:"app"`
	Accounts  AccountsConfig  `toml:"accounts"`
	Store     StoreConfig     `toml:"store"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Indicator IndicatorConfig `toml:"indicator"`
	Notify    NotifyConfig    `toml:"notify"`
	Brokers   BrokersConfig   `toml:"brokers"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// AccountsConfig points at the hot-reloaded accounts file.
type AccountsConfig struct {
	Path string `toml:"path"`
}

type StoreConfig struct {
	OrdersPath      string `toml:"orders_path"`
	DispatchLogPath string `toml:"dispatch_log_path"`
}

// DispatchConfig controls the retry envelope of the order dispatcher.
type DispatchConfig struct {
	MaxAttempts           int `toml:"max_attempts"`
	BaseDelayMS           int `toml:"base_delay_ms"`
	MaxDelayMS            int `toml:"max_delay_ms"`
	UpstreamBaseDelayMS   int `toml:"upstream_base_delay_ms"`
	BreakerThreshold      int `toml:"breaker_threshold"`
	BreakerCooloffSeconds int `toml:"breaker_cooloff_seconds"`
}

// IndicatorConfig controls the ATR service used by volatility sizing.
type IndicatorConfig struct {
	Period          int    `toml:"period"`
	Interval        string `toml:"interval"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// BrokersConfig holds one section per supported venue. Accounts pick a
// venue by name; a disabled venue fails account wiring at startup.
type BrokersConfig struct {
	Paper    PaperConfig    `toml:"paper"`
	KotakNeo KotakNeoConfig `toml:"kotak_neo"`
	Binance  BinanceConfig  `toml:"binance"`
}

type PaperConfig struct {
	Enabled      bool    `toml:"enabled"`
	StartingCash float64 `toml:"starting_cash"`
}

type KotakNeoConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	ConsumerKey    string `toml:"consumer_key"`
	ConsumerSecret string `toml:"consumer_secret"`
	MobileNumber   string `toml:"mobile_number"`
	Password       string `toml:"password"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type BinanceConfig struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// keySet tracks field paths explicitly set in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
