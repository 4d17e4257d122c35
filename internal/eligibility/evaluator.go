// Package eligibility decides whether a signal should produce an order
// for a given account. Evaluation is a pure predicate over static account
// rules and a caller-supplied state snapshot.
package eligibility

import (
	"errors"
	"fmt"
	"strings"

	"signalflow/internal/types"
)

// ErrNoRules means the account has no eligibility configuration. That is
// a hard error: the evaluator never guesses a default verdict.
var ErrNoRules = errors.New("eligibility: missing rules")

// ErrUnevaluable means the rules demand an input the signal or snapshot
// does not carry (for example a risk-reward floor on a stop-less signal).
var ErrUnevaluable = errors.New("eligibility: cannot evaluate")

// Rules is one account's static eligibility configuration.
type Rules struct {
	Active           bool     `toml:"active" yaml:"active"`
	MaxOpenPositions int      `toml:"max_open_positions" yaml:"max_open_positions"`
	MinCapital       float64  `toml:"min_capital" yaml:"min_capital"`
	MinRiskReward    float64  `toml:"min_risk_reward" yaml:"min_risk_reward"`
	Whitelist        []string `toml:"whitelist" yaml:"whitelist"`
	Blacklist        []string `toml:"blacklist" yaml:"blacklist"`
}

// Verdict explains a negative eligibility decision.
type Verdict struct {
	Eligible bool
	Reason   string
}

func ineligible(format string, v ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, v...)}
}

// Evaluate applies the account's rules to one signal. It has no side
// effects; a nil rules set or an unevaluable rule is an error, never a
// default verdict.
func Evaluate(sig types.Signal, acct types.AccountState, rules *Rules) (Verdict, error) {
	if rules == nil {
		return Verdict{}, fmt.Errorf("%w: account %s", ErrNoRules, acct.AccountID)
	}
	if !rules.Active {
		return ineligible("account inactive"), nil
	}
	if rules.MaxOpenPositions > 0 && acct.OpenPositions >= rules.MaxOpenPositions {
		return ineligible("open positions %d at limit %d", acct.OpenPositions, rules.MaxOpenPositions), nil
	}
	if rules.MinCapital > 0 && acct.Capital < rules.MinCapital {
		return ineligible("capital %.2f below floor %.2f", acct.Capital, rules.MinCapital), nil
	}
	if listed(rules.Blacklist, sig.Symbol) {
		return ineligible("symbol %s blacklisted", sig.Symbol), nil
	}
	if len(rules.Whitelist) > 0 && !listed(rules.Whitelist, sig.Symbol) {
		return ineligible("symbol %s not whitelisted", sig.Symbol), nil
	}
	if rules.MinRiskReward > 0 {
		rr, err := riskReward(sig)
		if err != nil {
			return Verdict{}, err
		}
		if rr < rules.MinRiskReward {
			return ineligible("risk-reward %.2f below floor %.2f", rr, rules.MinRiskReward), nil
		}
	}
	return Verdict{Eligible: true}, nil
}

// riskReward is reward distance over risk distance in the signal's
// direction. Needs both a stop and a target.
func riskReward(sig types.Signal) (float64, error) {
	if sig.StopPrice <= 0 || sig.TargetPrice <= 0 {
		return 0, fmt.Errorf("%w: risk-reward floor needs stop and target on signal %s", ErrUnevaluable, sig.ID)
	}
	var reward, risk float64
	if sig.Side == types.SideBuy {
		reward = sig.TargetPrice - sig.EntryPrice
		risk = sig.EntryPrice - sig.StopPrice
	} else {
		reward = sig.EntryPrice - sig.TargetPrice
		risk = sig.StopPrice - sig.EntryPrice
	}
	if risk <= 0 {
		return 0, fmt.Errorf("%w: stop on the wrong side of entry for signal %s", ErrUnevaluable, sig.ID)
	}
	return reward / risk, nil
}

func listed(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if strings.EqualFold(strings.TrimSpace(s), symbol) {
			return true
		}
	}
	return false
}
