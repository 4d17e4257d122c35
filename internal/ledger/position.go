// Package ledger tracks per-account, per-instrument position aggregates
// and derives average prices and profit/loss from them.
package ledger

import (
	"github.com/shopspring/decimal"

	"signalflow/internal/types"
)

// Key addresses one position aggregate.
type Key struct {
	AccountID string
	Symbol    string
}

// Position aggregates carried-forward (previous sessions) and same-day
// fill quantities and notionals for one account and instrument. Total
// quantities are always derived, never stored, so they cannot drift from
// their components.
type Position struct {
	AccountID string
	Symbol    string
	Exchange  string

	CfBuyQty  int64
	FlBuyQty  int64
	CfSellQty int64
	FlSellQty int64

	CfBuyAmt  decimal.Decimal
	FlBuyAmt  decimal.Decimal
	CfSellAmt decimal.Decimal
	FlSellAmt decimal.Decimal

	// Contract multiplier and the generic/price conversion ratios the
	// venue applies when turning quantity*price into notional value.
	Multiplier int64
	GenNum     int64
	GenDen     int64
	PrcNum     int64
	PrcDen     int64

	// Decimal digits for average-price rounding.
	Precision int32

	LastPrice decimal.Decimal
}

// normalize fills venue conversion defaults so derived math never divides
// by zero on a freshly created aggregate.
func (p *Position) normalize() {
	if p.Multiplier <= 0 {
		p.Multiplier = 1
	}
	if p.GenNum <= 0 {
		p.GenNum = 1
	}
	if p.GenDen <= 0 {
		p.GenDen = 1
	}
	if p.PrcNum <= 0 {
		p.PrcNum = 1
	}
	if p.PrcDen <= 0 {
		p.PrcDen = 1
	}
	if p.Precision <= 0 {
		p.Precision = 2
	}
}

func (p Position) TotalBuyQty() int64  { return p.CfBuyQty + p.FlBuyQty }
func (p Position) TotalSellQty() int64 { return p.CfSellQty + p.FlSellQty }

// NetQty is negative for a net short position.
func (p Position) NetQty() int64 { return p.TotalBuyQty() - p.TotalSellQty() }

func (p Position) TotalBuyAmt() decimal.Decimal  { return p.CfBuyAmt.Add(p.FlBuyAmt) }
func (p Position) TotalSellAmt() decimal.Decimal { return p.CfSellAmt.Add(p.FlSellAmt) }

// conversion is multiplier * (genNum/genDen) * (prcNum/prcDen).
func (p Position) conversion() decimal.Decimal {
	return decimal.NewFromInt(p.Multiplier).
		Mul(decimal.NewFromInt(p.GenNum)).Div(decimal.NewFromInt(p.GenDen)).
		Mul(decimal.NewFromInt(p.PrcNum)).Div(decimal.NewFromInt(p.PrcDen))
}

// SideAveragePrice is amount / (quantity * conversion) for one side,
// rounded half-up to the configured precision. The boolean is false when
// that side has no quantity, in which case the average is undefined.
func (p Position) SideAveragePrice(side types.Side) (decimal.Decimal, bool) {
	var qty int64
	var amt decimal.Decimal
	if side == types.SideBuy {
		qty, amt = p.TotalBuyQty(), p.TotalBuyAmt()
	} else {
		qty, amt = p.TotalSellQty(), p.TotalSellAmt()
	}
	if qty <= 0 {
		return decimal.Zero, false
	}
	divisor := decimal.NewFromInt(qty).Mul(p.conversion())
	return amt.DivRound(divisor, p.Precision), true
}

// AveragePrice reports the dominant side's average: the buy average when
// net long, the sell average when net short, and exactly zero when both
// sides balance. The zero on a flat position is a documented special
// case, not an error.
func (p Position) AveragePrice() decimal.Decimal {
	buyQty, sellQty := p.TotalBuyQty(), p.TotalSellQty()
	switch {
	case buyQty > sellQty:
		avg, _ := p.SideAveragePrice(types.SideBuy)
		return avg
	case buyQty < sellQty:
		avg, _ := p.SideAveragePrice(types.SideSell)
		return avg
	default:
		return decimal.Zero
	}
}

// PnL is realized plus mark-to-market profit at the given last traded
// price: (sellAmt - buyAmt) + netQty * ltp * conversion.
func (p Position) PnL(ltp decimal.Decimal) decimal.Decimal {
	realized := p.TotalSellAmt().Sub(p.TotalBuyAmt())
	open := decimal.NewFromInt(p.NetQty()).Mul(ltp).Mul(p.conversion())
	return realized.Add(open)
}

// Flat reports whether the aggregate carries no net exposure.
func (p Position) Flat() bool { return p.NetQty() == 0 }

// ClosedLot is the slice of a fill that offset existing exposure,
// with the profit realized on that slice.
type ClosedLot struct {
	Quantity int64
	EntryAvg decimal.Decimal
	ExitAvg  decimal.Decimal
	Realized decimal.Decimal
}

// CloseAgainst reports how much of a fill reduces this aggregate's net
// exposure. The entry side of the round trip is the dominant side before
// the fill, so only a fill on its opposite closes anything; extending
// fills and flat books return false.
func (p Position) CloseAgainst(side types.Side, fillQty int64, fillPrice decimal.Decimal) (ClosedLot, bool) {
	p.normalize()
	net := p.NetQty()
	if fillQty <= 0 || net == 0 {
		return ClosedLot{}, false
	}
	entrySide := types.SideBuy
	if net < 0 {
		entrySide = types.SideSell
	}
	if side != entrySide.Opposite() {
		return ClosedLot{}, false
	}
	open := net
	if open < 0 {
		open = -open
	}
	qty := fillQty
	if qty > open {
		qty = open
	}
	entry := p.AveragePrice()
	diff := fillPrice.Sub(entry)
	if entrySide == types.SideSell {
		diff = entry.Sub(fillPrice)
	}
	return ClosedLot{
		Quantity: qty,
		EntryAvg: entry,
		ExitAvg:  fillPrice,
		Realized: diff.Mul(decimal.NewFromInt(qty)).Mul(p.conversion()),
	}, true
}
