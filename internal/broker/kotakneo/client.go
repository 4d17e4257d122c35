// Package kotakneo implements the venue transport for the Kotak Neo
// trade API. Responses arrive as a JSON envelope whose stCode carries
// the real outcome, so every call checks stCode before touching data.
package kotakneo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"signalflow/internal/broker"
	"signalflow/internal/ledger"
	"signalflow/internal/session"
	"signalflow/internal/types"
)

// Config holds the venue connection settings.
type Config struct {
	BaseURL        string `toml:"base_url" yaml:"base_url"`
	ConsumerKey    string `toml:"consumer_key" yaml:"consumer_key"`
	ConsumerSecret string `toml:"consumer_secret" yaml:"consumer_secret"`
	MobileNumber   string `toml:"mobile_number" yaml:"mobile_number"`
	Password       string `toml:"password" yaml:"password"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// Client talks to the Kotak Neo REST API. It implements broker.Transport;
// retry policy lives in the dispatcher, every method here is a single
// round-trip.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	consumer   string
}

// NewClient constructs a Kotak Neo client from configuration.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("kotakneo: base_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("kotakneo: parsing base_url: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		consumer:   strings.TrimSpace(cfg.ConsumerKey),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Name() string { return "kotakneo" }

// orderPayload mirrors the venue's order schema. Quantities and prices
// travel as strings on this API.
type orderPayload struct {
	ExchangeSegment  string `json:"exchange_segment"`
	TradingSymbol    string `json:"trading_symbol"`
	TransactionType  string `json:"transaction_type"`
	OrderType        string `json:"order_type"`
	Product          string `json:"product"`
	Quantity         string `json:"quantity"`
	Price            string `json:"price"`
	TriggerPrice     string `json:"trigger_price,omitempty"`
	Validity         string `json:"validity"`
	DisclosedQty     string `json:"disclosed_quantity,omitempty"`
	MarketProtection string `json:"market_protection,omitempty"`
	AMO              string `json:"amo,omitempty"`
	Tag              string `json:"tag,omitempty"`
	OrderID          string `json:"order_id,omitempty"`
}

// PlaceOrder submits a new order and returns the venue order number.
func (c *Client) PlaceOrder(ctx context.Context, token session.Token, req broker.PlaceOrderRequest) (broker.OrderAck, error) {
	payload := orderPayload{
		ExchangeSegment: exchangeSegment(req.ExchangeSegment),
		TradingSymbol:   req.Symbol,
		TransactionType: transactionType(req.Side),
		OrderType:       orderType(req.OrderType),
		Product:         product(req.Product),
		Quantity:        strconv.FormatInt(req.Quantity, 10),
		Price:           formatPrice(req.Price),
		Validity:        validity(req.Validity),
		Tag:             req.Tag,
	}
	if req.TriggerPrice > 0 {
		payload.TriggerPrice = formatPrice(req.TriggerPrice)
	}
	if req.DisclosedQty > 0 {
		payload.DisclosedQty = strconv.FormatInt(req.DisclosedQty, 10)
	}
	if req.MarketProtection > 0 {
		payload.MarketProtection = formatPrice(req.MarketProtection)
	}
	if req.AfterMarket {
		payload.AMO = "YES"
	}

	body, err := c.do(ctx, token, http.MethodPost, "/orders/place", payload)
	if err != nil {
		return broker.OrderAck{}, err
	}
	orderID := gjson.GetBytes(body, "nOrdNo").String()
	if orderID == "" {
		orderID = gjson.GetBytes(body, "data.nOrdNo").String()
	}
	if orderID == "" {
		return broker.OrderAck{}, fmt.Errorf("kotakneo: place response carried no order number")
	}
	return broker.OrderAck{OrderID: orderID, State: broker.StateSubmitted}, nil
}

// ModifyOrder amends an open order. Unset numeric fields stay at their
// current venue-side values.
func (c *Client) ModifyOrder(ctx context.Context, token session.Token, req broker.ModifyOrderRequest) (broker.OrderAck, error) {
	payload := orderPayload{
		OrderID:  req.OrderID,
		Validity: validity(req.Validity),
	}
	if req.Quantity > 0 {
		payload.Quantity = strconv.FormatInt(req.Quantity, 10)
	}
	if req.Price > 0 {
		payload.Price = formatPrice(req.Price)
	}
	if req.TriggerPrice > 0 {
		payload.TriggerPrice = formatPrice(req.TriggerPrice)
	}
	if req.OrderType != "" {
		payload.OrderType = orderType(req.OrderType)
	}

	body, err := c.do(ctx, token, http.MethodPost, "/orders/modify", payload)
	if err != nil {
		return broker.OrderAck{}, err
	}
	orderID := gjson.GetBytes(body, "nOrdNo").String()
	if orderID == "" {
		orderID = req.OrderID
	}
	return broker.OrderAck{OrderID: orderID, State: broker.StateModified}, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, token session.Token, _ string, orderID string) (broker.OrderAck, error) {
	payload := map[string]string{"order_id": orderID}
	if _, err := c.do(ctx, token, http.MethodPost, "/orders/cancel", payload); err != nil {
		return broker.OrderAck{}, err
	}
	return broker.OrderAck{OrderID: orderID, State: broker.StateCancelled}, nil
}

// OrderStatus returns the latest order-history row for an order.
func (c *Client) OrderStatus(ctx context.Context, token session.Token, _ string, orderID string) (broker.OrderStatus, error) {
	path := "/orders/history?order_id=" + url.QueryEscape(orderID)
	body, err := c.do(ctx, token, http.MethodGet, path, nil)
	if err != nil {
		return broker.OrderStatus{}, err
	}
	rows := gjson.GetBytes(body, "data")
	if !rows.IsArray() || len(rows.Array()) == 0 {
		return broker.OrderStatus{}, fmt.Errorf("kotakneo: no history for order %s", orderID)
	}
	// History arrives newest first.
	row := rows.Array()[0]
	status := broker.OrderStatus{
		OrderID:   orderID,
		State:     orderState(row.Get("ordSt").String()),
		FilledQty: row.Get("fldQty").Int(),
		AvgPrice:  row.Get("avgPrc").Float(),
	}
	status.PendingQty = row.Get("qty").Int() - status.FilledQty
	return status, nil
}

// MarginRequired runs the venue's pre-order margin check. It has no
// side effects on the account.
func (c *Client) MarginRequired(ctx context.Context, token session.Token, req broker.PlaceOrderRequest) (broker.MarginResult, error) {
	payload := orderPayload{
		ExchangeSegment: exchangeSegment(req.ExchangeSegment),
		TradingSymbol:   req.Symbol,
		TransactionType: transactionType(req.Side),
		OrderType:       orderType(req.OrderType),
		Product:         product(req.Product),
		Quantity:        strconv.FormatInt(req.Quantity, 10),
		Price:           formatPrice(req.Price),
	}
	body, err := c.do(ctx, token, http.MethodPost, "/margin/required", payload)
	if err != nil {
		return broker.MarginResult{}, err
	}
	data := gjson.GetBytes(body, "data")
	res := broker.MarginResult{
		Required:      data.Get("reqdMrgn").Float(),
		Available:     data.Get("avlblMrgn").Float(),
		AvailableCash: data.Get("avlblCash").Float(),
	}
	res.Valid = res.Required > 0 && res.Required <= res.Available
	return res, nil
}

// Positions fetches today's positions and maps the venue's carried-forward
// and same-day aggregates into ledger rows.
func (c *Client) Positions(ctx context.Context, token session.Token, accountID string) ([]ledger.Position, error) {
	body, err := c.do(ctx, token, http.MethodGet, "/positions/todays", nil)
	if err != nil {
		return nil, err
	}
	return parsePositions(accountID, body)
}

// do performs one authenticated round-trip and returns the raw body of a
// successful response. Any transport failure, HTTP error status or
// non-200 stCode surfaces as a *broker.APIError so the dispatcher can
// classify it.
func (c *Client) do(ctx context.Context, token session.Token, method, path string, payload any) ([]byte, error) {
	endpoint, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("kotakneo: encoding request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("kotakneo: building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	if c.consumer != "" {
		req.Header.Set("neo-fin-key", c.consumer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kotakneo: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("kotakneo: reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &broker.APIError{
			StatusCode: resp.StatusCode,
			Code:       gjson.GetBytes(body, "code").String(),
			Message:    errorMessage(body, resp.Status),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	// The venue reports application failures inside a 200 envelope.
	if st := gjson.GetBytes(body, "stCode"); st.Exists() && st.Int() != 200 {
		return nil, &broker.APIError{
			StatusCode: int(st.Int()),
			Code:       gjson.GetBytes(body, "errCode").String(),
			Message:    errorMessage(body, resp.Status),
		}
	}
	return body, nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("kotakneo: base URL not configured")
	}
	trimmed := strings.TrimSpace(path)
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawQuery = query
	return &base, nil
}

func errorMessage(body []byte, fallback string) string {
	for _, key := range []string{"errMsg", "emsg", "message", "error"} {
		if msg := gjson.GetBytes(body, key).String(); msg != "" {
			return msg
		}
	}
	return fallback
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

func transactionType(side types.Side) string {
	if side == types.SideSell {
		return "S"
	}
	return "B"
}

func exchangeSegment(exchange string) string {
	switch strings.ToUpper(strings.TrimSpace(exchange)) {
	case "", "NSE":
		return "nse_cm"
	case "BSE":
		return "bse_cm"
	case "NFO":
		return "nse_fo"
	case "BFO":
		return "bse_fo"
	default:
		return strings.ToLower(exchange)
	}
}

func orderType(t broker.OrderType) string {
	switch t {
	case broker.OrderTypeMarket:
		return "MKT"
	case broker.OrderTypeStopLossLimit:
		return "SL"
	case broker.OrderTypeStopLossMarket:
		return "SL-M"
	default:
		return "L"
	}
}

func product(p broker.Product) string {
	switch p {
	case broker.ProductCashAndCarry:
		return "CNC"
	case broker.ProductCover:
		return "CO"
	case broker.ProductNormal:
		return "NRML"
	default:
		return "MIS"
	}
}

func validity(v broker.Validity) string {
	if v == broker.ValidityIOC {
		return "IOC"
	}
	return "DAY"
}

func orderState(raw string) broker.OrderState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "complete", "completed", "filled":
		return broker.StateFilled
	case "rejected":
		return broker.StateRejected
	case "cancelled", "canceled":
		return broker.StateCancelled
	case "partially filled", "partial":
		return broker.StatePartiallyFilled
	case "open", "trigger pending", "modified", "pending":
		return broker.StateAcknowledged
	default:
		return broker.StatePending
	}
}
