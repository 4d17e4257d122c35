// Package broker defines the transport contract order dispatch talks to.
// Adapters translate these semantic types to each venue's wire schema.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalflow/internal/ledger"
	"signalflow/internal/session"
	"signalflow/internal/types"
)

type OrderType string

const (
	OrderTypeLimit          OrderType = "LIMIT"
	OrderTypeMarket         OrderType = "MARKET"
	OrderTypeStopLossLimit  OrderType = "STOP_LOSS_LIMIT"
	OrderTypeStopLossMarket OrderType = "STOP_LOSS_MARKET"
)

type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
	ValidityGTC Validity = "GTC"
	ValidityEOS Validity = "EOS"
)

type Product string

const (
	ProductNormal       Product = "NRML"
	ProductCashAndCarry Product = "CNC"
	ProductIntraday     Product = "MIS"
	ProductCover        Product = "CO"
)

// OrderState is the broker-side lifecycle of one order.
type OrderState string

const (
	StatePending         OrderState = "PENDING"
	StateSubmitted       OrderState = "SUBMITTED"
	StateAcknowledged    OrderState = "ACKNOWLEDGED"
	StateRejected        OrderState = "REJECTED"
	StateFilled          OrderState = "FILLED"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateCancelled       OrderState = "CANCELLED"
	StateModified        OrderState = "MODIFIED"
)

// Terminal reports whether no further transitions can happen.
func (s OrderState) Terminal() bool {
	return s == StateRejected || s == StateFilled || s == StateCancelled
}

// Open reports whether the order can still be modified or cancelled.
func (s OrderState) Open() bool {
	return s == StateAcknowledged || s == StatePartiallyFilled || s == StateModified || s == StateSubmitted
}

// PlaceOrderRequest carries the semantic order fields; adapters own the
// wire encoding.
type PlaceOrderRequest struct {
	AccountID        string
	SignalID         string
	Symbol           string
	ExchangeSegment  string
	Side             types.Side
	Quantity         int64
	Price            float64
	TriggerPrice     float64
	OrderType        OrderType
	Validity         Validity
	Product          Product
	AfterMarket      bool
	DisclosedQty     int64
	MarketProtection float64
	Tag              string
}

// Validate checks the fields every venue requires.
func (r PlaceOrderRequest) Validate() error {
	if r.AccountID == "" || r.Symbol == "" {
		return fmt.Errorf("order needs account and symbol")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %d", r.Quantity)
	}
	if (r.OrderType == OrderTypeStopLossLimit || r.OrderTypeStopLossMarketLike()) && r.TriggerPrice <= 0 {
		return fmt.Errorf("stop-loss orders need a trigger price")
	}
	return nil
}

func (r PlaceOrderRequest) OrderTypeStopLossMarketLike() bool {
	return r.OrderType == OrderTypeStopLossMarket || r.Product == ProductCover
}

// ModifyOrderRequest updates an acknowledged order. Zero-valued fields are
// left unchanged by adapters that support partial modification.
type ModifyOrderRequest struct {
	AccountID    string
	OrderID      string
	Quantity     int64
	Price        float64
	TriggerPrice float64
	OrderType    OrderType
	Validity     Validity
}

// OrderAck is the broker's acknowledgement of a place/modify/cancel call.
// FilledQty and AvgPrice are populated by venues that confirm fills inline
// (paper trading, market orders on some venues).
type OrderAck struct {
	OrderID   string
	State     OrderState
	FilledQty int64
	AvgPrice  float64
}

// OrderStatus is a point-in-time view used by the verify-then-act paths.
type OrderStatus struct {
	OrderID    string
	State      OrderState
	FilledQty  int64
	PendingQty int64
	AvgPrice   float64
}

// MarginResult answers a side-effect-free margin check for an order shape.
type MarginResult struct {
	Required      float64
	Available     float64
	AvailableCash float64
	Valid         bool
}

// Transport is one venue's order API. Implementations are safe for
// concurrent use; every call is a single wire round-trip with no retries,
// retry policy belongs to the dispatcher.
type Transport interface {
	Name() string
	PlaceOrder(ctx context.Context, token session.Token, req PlaceOrderRequest) (OrderAck, error)
	ModifyOrder(ctx context.Context, token session.Token, req ModifyOrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, token session.Token, accountID, orderID string) (OrderAck, error)
	OrderStatus(ctx context.Context, token session.Token, accountID, orderID string) (OrderStatus, error)
	MarginRequired(ctx context.Context, token session.Token, req PlaceOrderRequest) (MarginResult, error)
	Positions(ctx context.Context, token session.Token, accountID string) ([]ledger.Position, error)
}

// APIError is a non-2xx venue response. StatusCode drives the
// dispatcher's retry classification; RetryAfter carries the venue's
// rate-limit hint when one was provided.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker: status=%d: %s", e.StatusCode, e.Message)
}

// AsAPIError unwraps an APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
