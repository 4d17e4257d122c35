package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side is the transaction direction of a signal or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a raw direction string.
func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "B":
		return SideBuy, nil
	case "SELL", "S":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown transaction side %q", raw)
	}
}

// Opposite returns the reversing direction, used for exit orders.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeOutcome records how an account's most recent trade closed.
type TradeOutcome int

const (
	OutcomeUnknown TradeOutcome = iota
	OutcomeWin
	OutcomeLoss
)

func (o TradeOutcome) String() string {
	switch o {
	case OutcomeWin:
		return "WIN"
	case OutcomeLoss:
		return "LOSS"
	default:
		return "UNKNOWN"
	}
}

// Signal is an incoming trade signal. Immutable once constructed; the ID
// doubles as the idempotency key for dispatch.
type Signal struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Side        Side      `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	StopPrice   float64   `json:"stop_price,omitempty"`
	TargetPrice float64   `json:"target_price,omitempty"`
	LotSize     int64     `json:"lot_size,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// RiskPerUnit is the per-share distance between entry and stop.
// Zero when the signal carries no stop.
func (s Signal) RiskPerUnit() float64 {
	if s.StopPrice <= 0 {
		return 0
	}
	return math.Abs(s.EntryPrice - s.StopPrice)
}

// Lot returns the instrument lot size, defaulting to single shares.
func (s Signal) Lot() int64 {
	if s.LotSize > 1 {
		return s.LotSize
	}
	return 1
}

// Validate rejects signals that cannot be priced or correlated.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("signal id is required")
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("signal %s: symbol is required", s.ID)
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("signal %s: invalid side %q", s.ID, s.Side)
	}
	if s.EntryPrice <= 0 {
		return fmt.Errorf("signal %s: entry price must be positive", s.ID)
	}
	if s.StopPrice < 0 || s.TargetPrice < 0 || s.LotSize < 0 {
		return fmt.Errorf("signal %s: negative price or lot size", s.ID)
	}
	return nil
}

// AccountState is a caller-supplied snapshot of the inputs position sizing
// may need. Absent inputs for the chosen strategy are surfaced as errors by
// the sizer rather than substituted with zero.
type AccountState struct {
	AccountID     string
	Capital       float64
	RiskAmount    float64
	ATR           float64
	OpenPositions int
	LastOutcome   TradeOutcome
}
