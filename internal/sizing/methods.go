package sizing

import (
	"fmt"

	"signalflow/internal/types"
)

type fixedFractional struct {
	riskPct float64
}

func (s fixedFractional) Name() Method { return MethodFixedFractional }

func (s fixedFractional) Size(sig types.Signal, acct types.AccountState) (Result, error) {
	if acct.Capital <= 0 {
		return Result{}, fmt.Errorf("%w: fixed_fractional needs capital", ErrMissingInput)
	}
	rpu, err := riskPerUnit(sig)
	if err != nil {
		return Result{}, err
	}
	riskAmount := acct.Capital * s.riskPct
	return quantify(riskAmount/rpu, sig, riskAmount), nil
}

type fixedLot struct {
	lotSize int64
}

func (s fixedLot) Name() Method { return MethodFixedLot }

// Size returns the configured constant regardless of signal or account data.
func (s fixedLot) Size(sig types.Signal, _ types.AccountState) (Result, error) {
	if s.lotSize <= 0 {
		return Result{Reason: "configured lot size is not positive"}, nil
	}
	return Result{Quantity: s.lotSize}, nil
}

type volatilityBased struct {
	atrMultiplier float64
}

func (s volatilityBased) Name() Method { return MethodVolatilityBased }

// Size divides the caller-supplied risk amount by an ATR multiple. The
// strategy does not define its own risk percentage, so a missing risk
// amount in the account snapshot is a configuration error.
func (s volatilityBased) Size(sig types.Signal, acct types.AccountState) (Result, error) {
	if acct.RiskAmount <= 0 {
		return Result{}, fmt.Errorf("%w: volatility_based needs a caller risk amount", ErrMissingInput)
	}
	adjusted := acct.ATR * s.atrMultiplier
	if adjusted == 0 {
		return Result{}, ErrZeroVolatility
	}
	return quantify(acct.RiskAmount/adjusted, sig, acct.RiskAmount), nil
}

type kellyCriterion struct {
	oddsRatio      float64
	winProbability float64
}

func (s kellyCriterion) Name() Method { return MethodKellyCriterion }

func (s kellyCriterion) Size(sig types.Signal, acct types.AccountState) (Result, error) {
	if s.winProbability < 0 || s.winProbability > 1 || s.oddsRatio <= 0 {
		return Result{}, fmt.Errorf("%w: b=%v p=%v", ErrInvalidProbability, s.oddsRatio, s.winProbability)
	}
	if acct.Capital <= 0 {
		return Result{}, fmt.Errorf("%w: kelly_criterion needs capital", ErrMissingInput)
	}
	rpu, err := riskPerUnit(sig)
	if err != nil {
		return Result{}, err
	}
	b, p := s.oddsRatio, s.winProbability
	f := (b*p - (1 - p)) / b
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	riskAmount := acct.Capital * f
	return quantify(riskAmount/rpu, sig, riskAmount), nil
}

type rupeeBased struct {
	fixedAmount float64
}

func (s rupeeBased) Name() Method { return MethodRupeeBased }

func (s rupeeBased) Size(sig types.Signal, _ types.AccountState) (Result, error) {
	rpu, err := riskPerUnit(sig)
	if err != nil {
		return Result{}, err
	}
	return quantify(s.fixedAmount/rpu, sig, s.fixedAmount), nil
}

type percentVolatility struct {
	riskPct float64
}

func (s percentVolatility) Name() Method { return MethodPercentVolatility }

func (s percentVolatility) Size(sig types.Signal, acct types.AccountState) (Result, error) {
	if acct.Capital <= 0 {
		return Result{}, fmt.Errorf("%w: percent_volatility needs capital", ErrMissingInput)
	}
	if acct.ATR == 0 {
		return Result{}, ErrZeroVolatility
	}
	riskAmount := acct.Capital * s.riskPct
	return quantify(riskAmount/acct.ATR, sig, riskAmount), nil
}

type equalWeighting struct {
	maxOpenPositions int
}

func (s equalWeighting) Name() Method { return MethodEqualWeighting }

func (s equalWeighting) Size(sig types.Signal, acct types.AccountState) (Result, error) {
	if s.maxOpenPositions == 0 {
		return Result{}, fmt.Errorf("%w: equal_weighting needs max open positions", ErrMissingInput)
	}
	if acct.Capital <= 0 {
		return Result{}, fmt.Errorf("%w: equal_weighting needs capital", ErrMissingInput)
	}
	rpu, err := riskPerUnit(sig)
	if err != nil {
		return Result{}, err
	}
	allocation := acct.Capital / float64(s.maxOpenPositions)
	return quantify(allocation/rpu, sig, allocation), nil
}

type martingale struct {
	baseRiskAmount float64
	lossMultiplier float64
}

func (s martingale) Name() Method { return MethodMartingale }

// Size scales the base risk amount by the loss multiplier after a losing
// trade. An unknown last outcome is treated as not-a-loss.
func (s martingale) Size(sig types.Signal, acct types.AccountState) (Result, error) {
	rpu, err := riskPerUnit(sig)
	if err != nil {
		return Result{}, err
	}
	riskAmount := s.baseRiskAmount
	if acct.LastOutcome == types.OutcomeLoss {
		riskAmount *= s.lossMultiplier
	}
	return quantify(riskAmount/rpu, sig, riskAmount), nil
}
