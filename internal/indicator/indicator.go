// Package indicator derives volatility inputs for position sizing from
// candle history.
package indicator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"signalflow/internal/logger"
)

// Candle is one OHLC bar.
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Source supplies candle history for a symbol.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

const (
	defaultATRPeriod = 14
	defaultInterval  = "5m"
	defaultTTL       = time.Minute
)

// Config tunes the ATR computation.
type Config struct {
	Period      int    `toml:"period" yaml:"period"`
	Interval    string `toml:"interval" yaml:"interval"`
	CacheTTLSec int    `toml:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
}

type cached struct {
	value float64
	at    time.Time
}

// Service computes and caches per-symbol ATR so a burst of signals on
// one instrument costs a single history fetch.
type Service struct {
	source   Source
	period   int
	interval string
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cached
}

func NewService(source Source, cfg Config) *Service {
	period := cfg.Period
	if period <= 0 {
		period = defaultATRPeriod
	}
	interval := strings.TrimSpace(cfg.Interval)
	if interval == "" {
		interval = defaultInterval
	}
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		source:   source,
		period:   period,
		interval: interval,
		ttl:      ttl,
		cache:    make(map[string]cached),
	}
}

// ATR returns the latest average true range for the symbol. A zero ATR
// is never returned as success; sizing treats it as a hard error anyway.
func (s *Service) ATR(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return 0, fmt.Errorf("indicator: symbol is required")
	}

	s.mu.Lock()
	if hit, ok := s.cache[symbol]; ok && time.Since(hit.at) < s.ttl {
		s.mu.Unlock()
		return hit.value, nil
	}
	s.mu.Unlock()

	// The first ATR values warm up over the period; fetch extra bars so
	// the latest value is stable.
	candles, err := s.source.FetchHistory(ctx, symbol, s.interval, s.period*3)
	if err != nil {
		return 0, fmt.Errorf("indicator: fetching history for %s: %w", symbol, err)
	}
	if len(candles) <= s.period {
		return 0, fmt.Errorf("indicator: %s has %d bars, need more than %d", symbol, len(candles), s.period)
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	series := talib.Atr(highs, lows, closes, s.period)
	value := lastNonZero(series)
	if value <= 0 {
		return 0, fmt.Errorf("indicator: atr for %s is zero over %d bars", symbol, len(candles))
	}

	s.mu.Lock()
	s.cache[symbol] = cached{value: value, at: time.Now()}
	s.mu.Unlock()
	logger.Debugf("indicator: atr(%d) for %s = %.4f", s.period, symbol, value)
	return value, nil
}

func lastNonZero(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != 0 {
			return series[i]
		}
	}
	return 0
}
