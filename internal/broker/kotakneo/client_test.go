package kotakneo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/internal/broker"
	"signalflow/internal/session"
	"signalflow/internal/types"
)

func testToken() session.Token {
	now := time.Now()
	return session.Token{AccountID: "acct-1", Value: "trade-token", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL, ConsumerKey: "ck"})
	require.NoError(t, err)
	client.SetHTTPClient(server.Client())
	return client, server
}

func placeReq() broker.PlaceOrderRequest {
	return broker.PlaceOrderRequest{
		AccountID: "acct-1",
		SignalID:  "sig-1",
		Symbol:    "RELIANCE-EQ",
		Side:      types.SideBuy,
		Quantity:  10,
		Price:     2500.5,
		OrderType: broker.OrderTypeLimit,
		Validity:  broker.ValidityDay,
		Product:   broker.ProductIntraday,
		Tag:       "sig-1",
	}
}

func TestPlaceOrderEncodesVenueSchema(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/place", r.URL.Path)
		assert.Equal(t, "Bearer trade-token", r.Header.Get("Authorization"))
		assert.Equal(t, "ck", r.Header.Get("neo-fin-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"stat":"Ok","stCode":200,"nOrdNo":"240826000001"}`))
	})

	ack, err := client.PlaceOrder(context.Background(), testToken(), placeReq())
	require.NoError(t, err)
	assert.Equal(t, "240826000001", ack.OrderID)
	assert.Equal(t, broker.StateSubmitted, ack.State)

	assert.Equal(t, "nse_cm", got["exchange_segment"])
	assert.Equal(t, "RELIANCE-EQ", got["trading_symbol"])
	assert.Equal(t, "B", got["transaction_type"])
	assert.Equal(t, "L", got["order_type"])
	assert.Equal(t, "MIS", got["product"])
	assert.Equal(t, "10", got["quantity"])
	assert.Equal(t, "2500.50", got["price"])
	assert.Equal(t, "DAY", got["validity"])
}

func TestEnvelopeFailureBecomesAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stat":"Not_Ok","stCode":5028,"errMsg":"Insufficient funds"}`))
	})

	_, err := client.PlaceOrder(context.Background(), testToken(), placeReq())
	apiErr, ok := broker.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 5028, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "Insufficient funds")
}

func TestHTTPErrorCarriesRetryAfterHint(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errMsg":"rate limit"}`))
	})

	_, err := client.PlaceOrder(context.Background(), testToken(), placeReq())
	apiErr, ok := broker.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
}

func TestOrderStatusMapsHistoryRow(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/history", r.URL.Path)
		assert.Equal(t, "240826000001", r.URL.Query().Get("order_id"))
		w.Write([]byte(`{"stCode":200,"data":[
			{"nOrdNo":"240826000001","ordSt":"complete","qty":10,"fldQty":10,"avgPrc":2500.25},
			{"nOrdNo":"240826000001","ordSt":"open","qty":10,"fldQty":0,"avgPrc":0}
		]}`))
	})

	status, err := client.OrderStatus(context.Background(), testToken(), "acct-1", "240826000001")
	require.NoError(t, err)
	assert.Equal(t, broker.StateFilled, status.State)
	assert.Equal(t, int64(10), status.FilledQty)
	assert.Equal(t, int64(0), status.PendingQty)
	assert.InDelta(t, 2500.25, status.AvgPrice, 1e-9)
}

func TestCancelOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/cancel", r.URL.Path)
		w.Write([]byte(`{"stCode":200,"data":{"result":"cancelled"}}`))
	})

	ack, err := client.CancelOrder(context.Background(), testToken(), "acct-1", "240826000001")
	require.NoError(t, err)
	assert.Equal(t, broker.StateCancelled, ack.State)
}

func TestMarginRequired(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/margin/required", r.URL.Path)
		w.Write([]byte(`{"stCode":200,"data":{"reqdMrgn":"5001.00","avlblMrgn":"25000.00","avlblCash":"20000.00"}}`))
	})

	res, err := client.MarginRequired(context.Background(), testToken(), placeReq())
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.InDelta(t, 5001.0, res.Required, 1e-9)
	assert.InDelta(t, 25000.0, res.Available, 1e-9)
}

func TestPositionsParsesAggregates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions/todays", r.URL.Path)
		w.Write([]byte(`{"stCode":200,"data":[{
			"trdSym":"NIFTY25AUG24600CE","exSeg":"nse_fo",
			"cfBuyQty":"50","flBuyQty":"25","cfSellQty":"0","flSellQty":"25",
			"cfBuyAmt":"205000.00","buyAmt":"103750.00","cfSellAmt":"0","sellAmt":"103750.00",
			"multiplier":"1","genNum":"1","genDen":"1","prcNum":"1","prcDen":"1","precision":"2",
			"stkPrc":"4150.00"
		},{"trdSym":"","exSeg":"nse_cm"}]}`))
	})

	positions, err := client.Positions(context.Background(), testToken(), "acct-1")
	require.NoError(t, err)
	require.Len(t, positions, 1, "rows without a symbol are skipped")

	pos := positions[0]
	assert.Equal(t, "acct-1", pos.AccountID)
	assert.Equal(t, "NIFTY25AUG24600CE", pos.Symbol)
	assert.Equal(t, int64(75), pos.TotalBuyQty())
	assert.Equal(t, int64(25), pos.TotalSellQty())
	assert.Equal(t, int64(50), pos.NetQty())
	assert.Equal(t, "308750", pos.TotalBuyAmt().String())
}

func TestAuthenticatorTwoStepLogin(t *testing.T) {
	var sawOTP string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/login":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "9999900000", body["mobilenumber"])
			w.Write([]byte(`{"status":"success","data":{"token":"view-token"}}`))
		case "/session/2fa":
			assert.Equal(t, "Bearer view-token", r.Header.Get("Authorization"))
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			sawOTP = body["otp"]
			w.Write([]byte(`{"status":"success","data":{"session_token":"trade-token"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	auth, err := NewAuthenticator(Config{
		BaseURL:      server.URL,
		MobileNumber: "9999900000",
		Password:     "secret",
	}, func(ctx context.Context) (string, error) { return "123456", nil })
	require.NoError(t, err)
	auth.SetHTTPClient(server.Client())

	token, err := auth.Login(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "123456", sawOTP)
	assert.Equal(t, "trade-token", token.Value)
	assert.True(t, token.Valid(time.Now()))
}

func TestAuthenticatorRejectedLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","errMsg":"Invalid credentials"}`))
	}))
	defer server.Close()

	auth, err := NewAuthenticator(Config{BaseURL: server.URL},
		func(ctx context.Context) (string, error) { return "123456", nil })
	require.NoError(t, err)
	auth.SetHTTPClient(server.Client())

	_, err = auth.Login(context.Background(), "acct-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
}
