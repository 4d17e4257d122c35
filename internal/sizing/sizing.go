// Package sizing converts trade signals into order quantities using a
// closed set of position-sizing strategies selected by configuration.
package sizing

import (
	"errors"
	"math"

	"signalflow/internal/types"
)

// Sizing failures mark a single signal as non-actionable for one account;
// they never abort processing for other accounts.
var (
	// ErrInvalidRisk means the per-unit risk divisor is degenerate,
	// typically because entry and stop coincide or the stop is absent.
	ErrInvalidRisk = errors.New("sizing: risk per unit is zero")

	// ErrInvalidProbability means Kelly parameters fall outside their
	// valid domain (p outside [0,1] or odds ratio <= 0).
	ErrInvalidProbability = errors.New("sizing: invalid kelly parameters")

	// ErrZeroVolatility means the volatility divisor (ATR or its
	// multiple) is zero.
	ErrZeroVolatility = errors.New("sizing: volatility divisor is zero")

	// ErrMissingInput means the account snapshot lacks a value the
	// chosen strategy requires. This is a configuration problem, not a
	// property of the signal.
	ErrMissingInput = errors.New("sizing: required account input missing")
)

// Result is the outcome of sizing one signal for one account.
// A non-positive computed quantity is clamped to zero and explained in
// Reason; callers treat Quantity == 0 as "signal not actionable".
type Result struct {
	Quantity   int64
	RiskAmount float64
	Reason     string
}

// Actionable reports whether the result should produce an order.
func (r Result) Actionable() bool { return r.Quantity > 0 }

// Strategy sizes signals. Implementations are pure: they read the signal
// and the account snapshot, never the live ledger or any I/O.
type Strategy interface {
	Name() Method
	Size(sig types.Signal, acct types.AccountState) (Result, error)
}

// quantify floors a raw share count to the signal's lot granularity and
// clamps non-positive sizes to zero.
func quantify(raw float64, sig types.Signal, riskAmount float64) Result {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Result{Reason: "quantity is not finite"}
	}
	qty := int64(math.Floor(raw))
	if lot := sig.Lot(); lot > 1 {
		qty -= qty % lot
	}
	if qty <= 0 {
		return Result{Reason: "computed quantity is not positive"}
	}
	return Result{Quantity: qty, RiskAmount: riskAmount}
}

func riskPerUnit(sig types.Signal) (float64, error) {
	rpu := sig.RiskPerUnit()
	if rpu == 0 {
		return 0, ErrInvalidRisk
	}
	return rpu, nil
}
