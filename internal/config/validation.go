package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Dispatch.validate(); err != nil {
		return err
	}
	if err := c.Indicator.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Brokers.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %s", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (d *DispatchConfig) validate() error {
	if d.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be >= 1")
	}
	if d.BaseDelayMS <= 0 {
		return fmt.Errorf("dispatch.base_delay_ms must be > 0")
	}
	if d.MaxDelayMS < d.BaseDelayMS {
		return fmt.Errorf("dispatch.max_delay_ms must be >= base_delay_ms")
	}
	if d.BreakerThreshold < 1 {
		return fmt.Errorf("dispatch.breaker_threshold must be >= 1")
	}
	return nil
}

func (i *IndicatorConfig) validate() error {
	if i.Period < 2 {
		return fmt.Errorf("indicator.period must be >= 2")
	}
	if !IsValidInterval(i.Interval) {
		return fmt.Errorf("indicator.interval %q is not a valid interval", i.Interval)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (b *BrokersConfig) validate() error {
	if b.KotakNeo.Enabled {
		k := b.KotakNeo
		if strings.TrimSpace(k.ConsumerKey) == "" || strings.TrimSpace(k.ConsumerSecret) == "" {
			return fmt.Errorf("brokers.kotak_neo requires consumer_key and consumer_secret")
		}
		if strings.TrimSpace(k.MobileNumber) == "" || strings.TrimSpace(k.Password) == "" {
			return fmt.Errorf("brokers.kotak_neo requires mobile_number and password")
		}
	}
	if b.Binance.Enabled {
		if strings.TrimSpace(b.Binance.APIKey) == "" || strings.TrimSpace(b.Binance.APISecret) == "" {
			return fmt.Errorf("brokers.binance requires api_key and api_secret")
		}
	}
	if !b.Paper.Enabled && !b.KotakNeo.Enabled && !b.Binance.Enabled {
		return fmt.Errorf("at least one broker must be enabled")
	}
	return nil
}

// IsValidInterval accepts strings like 5m, 1h, 1d: digits followed by m/h/d/w.
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
