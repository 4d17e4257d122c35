package sizing

import (
	"errors"
	"fmt"
	"strings"
)

// Method identifies one strategy of the closed variant set. Adding a new
// method means adding a constant here, a case in New, and an
// implementation in methods.go.
type Method string

const (
	MethodFixedFractional   Method = "fixed_fractional"
	MethodFixedLot          Method = "fixed_lot"
	MethodVolatilityBased   Method = "volatility_based"
	MethodKellyCriterion    Method = "kelly_criterion"
	MethodRupeeBased        Method = "rupee_based"
	MethodPercentVolatility Method = "percent_volatility"
	MethodEqualWeighting    Method = "equal_weighting"
	MethodMartingale        Method = "martingale"
)

// ErrConfig marks bad or missing sizing configuration. Configuration
// errors are fatal for the account and surfaced immediately; they are
// never silently defaulted.
var ErrConfig = errors.New("sizing: invalid config")

// Config selects exactly one sizing method and carries its parameters.
// Unused fields for the selected method are ignored.
type Config struct {
	Method Method `toml:"method" yaml:"method"`

	RiskPct          float64 `toml:"risk_pct" yaml:"risk_pct"`
	LotSize          int64   `toml:"lot_size" yaml:"lot_size"`
	ATRMultiplier    float64 `toml:"atr_multiplier" yaml:"atr_multiplier"`
	OddsRatio        float64 `toml:"odds_ratio" yaml:"odds_ratio"`
	WinProbability   float64 `toml:"win_probability" yaml:"win_probability"`
	FixedAmount      float64 `toml:"fixed_amount" yaml:"fixed_amount"`
	MaxOpenPositions int     `toml:"max_open_positions" yaml:"max_open_positions"`
	BaseRiskAmount   float64 `toml:"base_risk_amount" yaml:"base_risk_amount"`
	LossMultiplier   float64 `toml:"loss_multiplier" yaml:"loss_multiplier"`
}

// New builds the strategy selected by cfg, validating the parameters the
// method requires.
func New(cfg Config) (Strategy, error) {
	method := Method(strings.ToLower(strings.TrimSpace(string(cfg.Method))))
	switch method {
	case MethodFixedFractional:
		if cfg.RiskPct <= 0 || cfg.RiskPct >= 1 {
			return nil, fmt.Errorf("%w: fixed_fractional risk_pct must be in (0,1), got %v", ErrConfig, cfg.RiskPct)
		}
		return fixedFractional{riskPct: cfg.RiskPct}, nil
	case MethodFixedLot:
		if cfg.LotSize <= 0 {
			return nil, fmt.Errorf("%w: fixed_lot lot_size must be positive, got %d", ErrConfig, cfg.LotSize)
		}
		return fixedLot{lotSize: cfg.LotSize}, nil
	case MethodVolatilityBased:
		if cfg.ATRMultiplier <= 0 {
			return nil, fmt.Errorf("%w: volatility_based atr_multiplier must be positive, got %v", ErrConfig, cfg.ATRMultiplier)
		}
		return volatilityBased{atrMultiplier: cfg.ATRMultiplier}, nil
	case MethodKellyCriterion:
		if cfg.WinProbability < 0 || cfg.WinProbability > 1 {
			return nil, fmt.Errorf("%w: kelly win_probability must be in [0,1], got %v", ErrConfig, cfg.WinProbability)
		}
		if cfg.OddsRatio <= 0 {
			return nil, fmt.Errorf("%w: kelly odds_ratio must be positive, got %v", ErrConfig, cfg.OddsRatio)
		}
		return kellyCriterion{oddsRatio: cfg.OddsRatio, winProbability: cfg.WinProbability}, nil
	case MethodRupeeBased:
		if cfg.FixedAmount <= 0 {
			return nil, fmt.Errorf("%w: rupee_based fixed_amount must be positive, got %v", ErrConfig, cfg.FixedAmount)
		}
		return rupeeBased{fixedAmount: cfg.FixedAmount}, nil
	case MethodPercentVolatility:
		if cfg.RiskPct <= 0 || cfg.RiskPct >= 1 {
			return nil, fmt.Errorf("%w: percent_volatility risk_pct must be in (0,1), got %v", ErrConfig, cfg.RiskPct)
		}
		return percentVolatility{riskPct: cfg.RiskPct}, nil
	case MethodEqualWeighting:
		if cfg.MaxOpenPositions <= 0 {
			return nil, fmt.Errorf("%w: equal_weighting max_open_positions must be positive, got %d", ErrConfig, cfg.MaxOpenPositions)
		}
		return equalWeighting{maxOpenPositions: cfg.MaxOpenPositions}, nil
	case MethodMartingale:
		if cfg.BaseRiskAmount <= 0 {
			return nil, fmt.Errorf("%w: martingale base_risk_amount must be positive, got %v", ErrConfig, cfg.BaseRiskAmount)
		}
		if cfg.LossMultiplier <= 0 {
			return nil, fmt.Errorf("%w: martingale loss_multiplier must be positive, got %v", ErrConfig, cfg.LossMultiplier)
		}
		return martingale{baseRiskAmount: cfg.BaseRiskAmount, lossMultiplier: cfg.LossMultiplier}, nil
	case "":
		return nil, fmt.Errorf("%w: method is required", ErrConfig)
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrConfig, cfg.Method)
	}
}
