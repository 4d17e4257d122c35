// Package paper is an in-memory venue for dry runs. Orders fill
// instantly at their request price and positions accumulate in the same
// aggregate shape real venues report.
package paper

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalflow/internal/broker"
	"signalflow/internal/ledger"
	"signalflow/internal/logger"
	"signalflow/internal/session"
	"signalflow/internal/types"
)

// Broker simulates a venue. Safe for concurrent use.
type Broker struct {
	cash float64

	mu        sync.Mutex
	orders    map[string]broker.OrderStatus
	positions map[ledger.Key]*ledger.Position
}

// New creates a paper venue with the given cash balance backing margin
// checks.
func New(cash float64) *Broker {
	return &Broker{
		cash:      cash,
		orders:    make(map[string]broker.OrderStatus),
		positions: make(map[ledger.Key]*ledger.Position),
	}
}

func (b *Broker) Name() string { return "paper" }

// Auth issues tokens without any wire call, so the session cache can be
// exercised against the paper venue too.
type Auth struct{}

func (Auth) Login(_ context.Context, accountID string) (session.Token, error) {
	return session.Token{AccountID: accountID, Value: "paper-" + uuid.NewString()}, nil
}

// PlaceOrder fills the order immediately at its request price. Market
// orders need a reference price on the request; the paper venue has no
// quote feed of its own.
func (b *Broker) PlaceOrder(_ context.Context, _ session.Token, req broker.PlaceOrderRequest) (broker.OrderAck, error) {
	if err := req.Validate(); err != nil {
		return broker.OrderAck{}, &broker.APIError{StatusCode: 400, Message: err.Error()}
	}
	if req.Price <= 0 {
		return broker.OrderAck{}, &broker.APIError{StatusCode: 400, Message: "paper venue needs a reference price"}
	}

	orderID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	ack := broker.OrderAck{
		OrderID:   orderID,
		State:     broker.StateFilled,
		FilledQty: req.Quantity,
		AvgPrice:  req.Price,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[orderID] = broker.OrderStatus{
		OrderID:   orderID,
		State:     broker.StateFilled,
		FilledQty: req.Quantity,
		AvgPrice:  req.Price,
	}
	b.applyFill(req)
	logger.Debugf("paper: filled %s %s x%d @ %.2f order=%s", req.Side, req.Symbol, req.Quantity, req.Price, orderID)
	return ack, nil
}

func (b *Broker) applyFill(req broker.PlaceOrderRequest) {
	key := ledger.Key{AccountID: req.AccountID, Symbol: req.Symbol}
	pos, ok := b.positions[key]
	if !ok {
		pos = &ledger.Position{AccountID: req.AccountID, Symbol: req.Symbol, Exchange: req.ExchangeSegment}
		b.positions[key] = pos
	}
	amount := decimal.NewFromFloat(req.Price).Mul(decimal.NewFromInt(req.Quantity))
	if req.Side == types.SideSell {
		pos.FlSellQty += req.Quantity
		pos.FlSellAmt = pos.FlSellAmt.Add(amount)
	} else {
		pos.FlBuyQty += req.Quantity
		pos.FlBuyAmt = pos.FlBuyAmt.Add(amount)
	}
	pos.LastPrice = decimal.NewFromFloat(req.Price)
}

// ModifyOrder is accepted only for open orders; paper fills everything
// instantly, so in practice this always reports the terminal state.
func (b *Broker) ModifyOrder(_ context.Context, _ session.Token, req broker.ModifyOrderRequest) (broker.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.orders[req.OrderID]
	if !ok {
		return broker.OrderAck{}, &broker.APIError{StatusCode: 404, Message: "unknown order " + req.OrderID}
	}
	if !status.State.Open() {
		return broker.OrderAck{}, &broker.APIError{StatusCode: 400, Message: "order " + req.OrderID + " is " + string(status.State)}
	}
	return broker.OrderAck{OrderID: req.OrderID, State: broker.StateModified}, nil
}

func (b *Broker) CancelOrder(_ context.Context, _ session.Token, _ string, orderID string) (broker.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.orders[orderID]
	if !ok {
		return broker.OrderAck{}, &broker.APIError{StatusCode: 404, Message: "unknown order " + orderID}
	}
	if !status.State.Open() {
		return broker.OrderAck{}, &broker.APIError{StatusCode: 400, Message: "order " + orderID + " is " + string(status.State)}
	}
	status.State = broker.StateCancelled
	b.orders[orderID] = status
	return broker.OrderAck{OrderID: orderID, State: broker.StateCancelled}, nil
}

func (b *Broker) OrderStatus(_ context.Context, _ session.Token, _ string, orderID string) (broker.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.orders[orderID]
	if !ok {
		return broker.OrderStatus{}, &broker.APIError{StatusCode: 404, Message: "unknown order " + orderID}
	}
	return status, nil
}

// MarginRequired approximates margin as the order notional.
func (b *Broker) MarginRequired(_ context.Context, _ session.Token, req broker.PlaceOrderRequest) (broker.MarginResult, error) {
	required := req.Price * float64(req.Quantity)
	return broker.MarginResult{
		Required:      required,
		Available:     b.cash,
		AvailableCash: b.cash,
		Valid:         required > 0 && required <= b.cash,
	}, nil
}

func (b *Broker) Positions(_ context.Context, _ session.Token, accountID string) ([]ledger.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ledger.Position, 0, len(b.positions))
	for key, pos := range b.positions {
		if accountID != "" && key.AccountID != accountID {
			continue
		}
		out = append(out, *pos)
	}
	return out, nil
}
