package config

import (
	"strings"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9985"
	defaultAppLogPath  = "/data/logs/signalflow.log"

	defaultAccountsPath = "configs/accounts.yaml"

	defaultOrdersPath      = "/data/db/orders.db"
	defaultDispatchLogPath = "/data/db/dispatch.db"

	defaultDispatchMaxAttempts    = 4
	defaultDispatchBaseDelayMS    = 800
	defaultDispatchMaxDelayMS     = 8000
	defaultDispatchUpstreamMS     = 2000
	defaultDispatchBreakerFails   = 8
	defaultDispatchBreakerCooloff = 30

	defaultIndicatorPeriod   = 14
	defaultIndicatorInterval = "5m"
	defaultIndicatorCacheTTL = 60

	defaultKotakNeoBaseURL = "https://gw-napi.kotaksecurities.com"
	defaultBrokerTimeout   = 15
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Accounts.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Dispatch.applyDefaults(keys)
	c.Indicator.applyDefaults(keys)
	c.Brokers.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (a *AccountsConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("accounts.path", &a.Path, defaultAccountsPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.orders_path", &s.OrdersPath, defaultOrdersPath),
		stringFieldDefault("store.dispatch_log_path", &s.DispatchLogPath, defaultDispatchLogPath),
	)
}

func (d *DispatchConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("dispatch.max_attempts", &d.MaxAttempts, defaultDispatchMaxAttempts),
		intFieldDefault("dispatch.base_delay_ms", &d.BaseDelayMS, defaultDispatchBaseDelayMS),
		intFieldDefault("dispatch.max_delay_ms", &d.MaxDelayMS, defaultDispatchMaxDelayMS),
		intFieldDefault("dispatch.upstream_base_delay_ms", &d.UpstreamBaseDelayMS, defaultDispatchUpstreamMS),
		intFieldDefault("dispatch.breaker_threshold", &d.BreakerThreshold, defaultDispatchBreakerFails),
		intFieldDefault("dispatch.breaker_cooloff_seconds", &d.BreakerCooloffSeconds, defaultDispatchBreakerCooloff),
	)
}

func (i *IndicatorConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("indicator.period", &i.Period, defaultIndicatorPeriod),
		stringFieldDefault("indicator.interval", &i.Interval, defaultIndicatorInterval),
		intFieldDefault("indicator.cache_ttl_seconds", &i.CacheTTLSeconds, defaultIndicatorCacheTTL),
	)
}

func (b *BrokersConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("brokers.paper.enabled", &b.Paper.Enabled, true),
		fieldDefault{
			key:   "brokers.paper.starting_cash",
			need:  func() bool { return b.Paper.StartingCash <= 0 },
			apply: func() { b.Paper.StartingCash = 1_000_000 },
		},
		stringFieldDefault("brokers.kotak_neo.base_url", &b.KotakNeo.BaseURL, defaultKotakNeoBaseURL),
		intFieldDefault("brokers.kotak_neo.timeout_seconds", &b.KotakNeo.TimeoutSeconds, defaultBrokerTimeout),
		intFieldDefault("brokers.binance.timeout_seconds", &b.Binance.TimeoutSeconds, defaultBrokerTimeout),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
