// Package binance adapts the Binance USD-M futures API to the venue
// transport contract. Binance authenticates with static API keys, so
// sessions never expire and cancel/status calls need the instrument
// symbol, which this adapter folds into its order identifiers.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"signalflow/internal/broker"
	"signalflow/internal/ledger"
	"signalflow/internal/session"
	"signalflow/internal/types"
)

// Config holds the venue connection settings.
type Config struct {
	APIKey         string `toml:"api_key" yaml:"api_key"`
	APISecret      string `toml:"api_secret" yaml:"api_secret"`
	BaseURL        string `toml:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// Client implements broker.Transport over the go-binance SDK.
type Client struct {
	client *futures.Client
}

// New constructs a Binance futures transport from configuration.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("binance: api_key and api_secret are required")
	}
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{client: client}, nil
}

func (c *Client) Name() string { return "binance" }

// Auth satisfies session.Authenticator for key-based venues. The issued
// token never expires; the API key itself is the credential.
type Auth struct{}

func (Auth) Login(_ context.Context, accountID string) (session.Token, error) {
	now := time.Now()
	return session.Token{
		AccountID: accountID,
		Value:     "api-key",
		IssuedAt:  now,
		ExpiresAt: now.AddDate(1, 0, 0),
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, _ session.Token, req broker.PlaceOrderRequest) (broker.OrderAck, error) {
	svc := c.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side)).
		Type(orderType(req.OrderType)).
		Quantity(strconv.FormatInt(req.Quantity, 10))

	switch req.OrderType {
	case broker.OrderTypeLimit:
		svc = svc.Price(formatPrice(req.Price)).TimeInForce(timeInForce(req.Validity))
	case broker.OrderTypeStopLossLimit:
		svc = svc.Price(formatPrice(req.Price)).
			StopPrice(formatPrice(req.TriggerPrice)).
			TimeInForce(timeInForce(req.Validity))
	case broker.OrderTypeStopLossMarket:
		svc = svc.StopPrice(formatPrice(req.TriggerPrice))
	}
	if req.Tag != "" {
		svc = svc.NewClientOrderID(req.Tag)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return broker.OrderAck{}, wrapErr(err)
	}
	return broker.OrderAck{
		OrderID:   venueID(req.Symbol, resp.OrderID),
		State:     orderState(resp.Status),
		FilledQty: parseQty(resp.ExecutedQuantity),
		AvgPrice:  parseFloat(resp.AvgPrice),
	}, nil
}

// ModifyOrder is not supported on this venue; callers cancel and
// replace instead.
func (c *Client) ModifyOrder(_ context.Context, _ session.Token, req broker.ModifyOrderRequest) (broker.OrderAck, error) {
	return broker.OrderAck{}, &broker.APIError{
		StatusCode: 400,
		Message:    "binance orders cannot be modified in place, cancel and replace " + req.OrderID,
	}
}

func (c *Client) CancelOrder(ctx context.Context, _ session.Token, _ string, orderID string) (broker.OrderAck, error) {
	symbol, id, err := splitVenueID(orderID)
	if err != nil {
		return broker.OrderAck{}, err
	}
	resp, err := c.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return broker.OrderAck{}, wrapErr(err)
	}
	return broker.OrderAck{OrderID: orderID, State: orderState(resp.Status)}, nil
}

func (c *Client) OrderStatus(ctx context.Context, _ session.Token, _ string, orderID string) (broker.OrderStatus, error) {
	symbol, id, err := splitVenueID(orderID)
	if err != nil {
		return broker.OrderStatus{}, err
	}
	order, err := c.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return broker.OrderStatus{}, wrapErr(err)
	}
	filled := parseQty(order.ExecutedQuantity)
	return broker.OrderStatus{
		OrderID:    orderID,
		State:      orderState(order.Status),
		FilledQty:  filled,
		PendingQty: parseQty(order.OrigQuantity) - filled,
		AvgPrice:   parseFloat(order.AvgPrice),
	}, nil
}

// MarginRequired approximates the requirement as the order notional
// against the account's available balance.
func (c *Client) MarginRequired(ctx context.Context, _ session.Token, req broker.PlaceOrderRequest) (broker.MarginResult, error) {
	account, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return broker.MarginResult{}, wrapErr(err)
	}
	available := parseFloat(account.AvailableBalance)
	required := req.Price * float64(req.Quantity)
	return broker.MarginResult{
		Required:      required,
		Available:     available,
		AvailableCash: available,
		Valid:         required > 0 && required <= available,
	}, nil
}

// Positions maps the venue's net position rows into ledger aggregates.
// Binance reports a signed net amount per symbol, so the net lands on
// the same-day buy or sell side whole.
func (c *Client) Positions(ctx context.Context, _ session.Token, accountID string) ([]ledger.Position, error) {
	risks, err := c.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]ledger.Position, 0, len(risks))
	for _, risk := range risks {
		if risk == nil {
			continue
		}
		amt, err := decimal.NewFromString(strings.TrimSpace(risk.PositionAmt))
		if err != nil || amt.IsZero() {
			continue
		}
		qty := amt.Abs().IntPart()
		if qty == 0 {
			continue
		}
		notional := decimal.NewFromInt(qty).Mul(money(risk.EntryPrice))
		pos := ledger.Position{
			AccountID: accountID,
			Symbol:    risk.Symbol,
			Exchange:  "binance_futures",
			LastPrice: money(risk.MarkPrice),
		}
		if amt.IsNegative() {
			pos.FlSellQty = qty
			pos.FlSellAmt = notional
		} else {
			pos.FlBuyQty = qty
			pos.FlBuyAmt = notional
		}
		out = append(out, pos)
	}
	return out, nil
}

func venueID(symbol string, orderID int64) string {
	return symbol + ":" + strconv.FormatInt(orderID, 10)
}

func splitVenueID(orderID string) (string, int64, error) {
	symbol, raw, ok := strings.Cut(orderID, ":")
	if !ok {
		return "", 0, fmt.Errorf("binance: order id %q lacks its symbol prefix", orderID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("binance: order id %q: %w", orderID, err)
	}
	return symbol, id, nil
}

// wrapErr maps the SDK's error codes onto HTTP-style statuses so the
// dispatcher's classification applies uniformly across venues.
func wrapErr(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	status := 400
	switch apiErr.Code {
	case -1003: // WAF rate limit
		status = 429
	case -1022, -2014, -2015: // signature / key problems
		status = 401
	case -1000, -1001, -1007: // internal error, disconnected, timeout
		status = 500
	}
	return &broker.APIError{
		StatusCode: status,
		Code:       strconv.FormatInt(apiErr.Code, 10),
		Message:    apiErr.Message,
	}
}

func sideType(side types.Side) futures.SideType {
	if side == types.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func orderType(t broker.OrderType) futures.OrderType {
	switch t {
	case broker.OrderTypeMarket:
		return futures.OrderTypeMarket
	case broker.OrderTypeStopLossLimit:
		return futures.OrderTypeStop
	case broker.OrderTypeStopLossMarket:
		return futures.OrderTypeStopMarket
	default:
		return futures.OrderTypeLimit
	}
}

func timeInForce(v broker.Validity) futures.TimeInForceType {
	switch v {
	case broker.ValidityIOC:
		return futures.TimeInForceTypeIOC
	case broker.ValidityGTC:
		return futures.TimeInForceTypeGTC
	default:
		return futures.TimeInForceTypeGTC
	}
}

func orderState(status futures.OrderStatusType) broker.OrderState {
	switch status {
	case futures.OrderStatusTypeNew:
		return broker.StateAcknowledged
	case futures.OrderStatusTypePartiallyFilled:
		return broker.StatePartiallyFilled
	case futures.OrderStatusTypeFilled:
		return broker.StateFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return broker.StateCancelled
	case futures.OrderStatusTypeRejected:
		return broker.StateRejected
	default:
		return broker.StatePending
	}
}

// formatPrice keeps the full decimal form; tick sizes vary per symbol,
// so a fixed scale would reject valid prices.
func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func parseQty(v string) int64 {
	return int64(parseFloat(v))
}

func money(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}
