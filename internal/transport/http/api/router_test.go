package apihttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/internal/accounts"
	"signalflow/internal/broker/paper"
	"signalflow/internal/dispatch"
	"signalflow/internal/eligibility"
	"signalflow/internal/ingest"
	"signalflow/internal/ledger"
	"signalflow/internal/report"
	"signalflow/internal/session"
	"signalflow/internal/sizing"
	"signalflow/internal/store/dispatchlog"
	"signalflow/internal/store/orderstore"
)

type staticAccounts struct{ snap accounts.Snapshot }

func (s staticAccounts) Snapshot() accounts.Snapshot { return s.snap }

func newTestServer(t *testing.T) (*Server, *ledger.Ledger, *orderstore.Store, *dispatchlog.Store) {
	t.Helper()
	dir := t.TempDir()

	orders, err := orderstore.New(filepath.Join(dir, "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { orders.Close() })

	attempts, err := dispatchlog.New(filepath.Join(dir, "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { attempts.Close() })

	book := ledger.New()
	venue := paper.New(1_000_000)
	sessions := session.NewCache(paper.Auth{})
	dispatcher := dispatch.New(dispatch.Deps{
		Transport: venue,
		Sessions:  sessions,
		Ledger:    book,
		Journal:   orders,
	}, dispatch.Config{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, UpstreamBaseDelay: time.Millisecond})

	acct := accounts.Account{
		ID:      "acct-1",
		Broker:  "paper",
		Active:  true,
		Capital: 10000,
		Sizing:  sizing.Config{Method: sizing.MethodFixedFractional, RiskPct: 0.02},
		Eligibility: eligibility.Rules{
			Active:           true,
			MaxOpenPositions: 10,
		},
	}
	ing, err := ingest.New(ingest.Deps{
		Accounts: staticAccounts{snap: accounts.Snapshot{Version: 1, Accounts: map[string]accounts.Account{"acct-1": acct}}},
		Venues: map[string]ingest.Venue{
			"paper": {Transport: venue, Sessions: sessions, Dispatcher: dispatcher},
		},
		Ledger: book,
	})
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{
		Addr: ":0",
		Router: &Router{
			Ingestor: ing,
			Book:     book,
			Orders:   orders,
			Attempts: attempts,
			Reports:  report.New(orders),
		},
	})
	require.NoError(t, err)
	return srv, book, orders, attempts
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestSignalIntakeAndQueries(t *testing.T) {
	srv, book, _, _ := newTestServer(t)

	payload := `{"id":"sig-1","symbol":"RELIANCE-EQ","exchange":"NSE","side":"buy","entry_price":100,"stop_price":95,"target_price":112}`
	rec := doRequest(t, srv, http.MethodPost, "/api/signals", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SignalID   string `json:"signal_id"`
		Dispatched int    `json:"dispatched"`
		Results    []struct {
			AccountID string `json:"account_id"`
			Status    string `json:"status"`
			Quantity  int64  `json:"quantity"`
			State     string `json:"state"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sig-1", resp.SignalID)
	assert.Equal(t, 1, resp.Dispatched)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "acct-1", resp.Results[0].AccountID)
	assert.Equal(t, "DISPATCHED", resp.Results[0].Status)
	assert.Equal(t, int64(40), resp.Results[0].Quantity)
	assert.Equal(t, "SUCCEEDED", resp.Results[0].State)

	pos, ok := book.Snapshot(ledger.Key{AccountID: "acct-1", Symbol: "RELIANCE-EQ"})
	require.True(t, ok)
	assert.Equal(t, int64(40), pos.TotalBuyQty())

	rec = doRequest(t, srv, http.MethodGet, "/api/positions/acct-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "RELIANCE-EQ")
	assert.Contains(t, rec.Body.String(), `"net_qty":40`)

	rec = doRequest(t, srv, http.MethodGet, "/api/orders?account=acct-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sig-1")
}

func TestSignalIntakeRejectsBadPayload(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/signals", `{"symbol":"X"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPositionsEmptyAccount(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/positions/acct-9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

func TestDispatchEndpoints(t *testing.T) {
	srv, _, _, attempts := newTestServer(t)

	require.NoError(t, attempts.Append(dispatch.Result{
		SignalID:  "sig-7",
		AccountID: "acct-1",
		State:     dispatch.StateSucceeded,
		Attempts: []dispatch.Attempt{
			{Seq: 1, Outcome: "SUCCESS", At: time.Now()},
		},
	}))

	rec := doRequest(t, srv, http.MethodGet, "/api/dispatches?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sig-7")

	rec = doRequest(t, srv, http.MethodGet, "/api/dispatches/sig-7/acct-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUCCESS")

	rec = doRequest(t, srv, http.MethodGet, "/api/dispatches/sig-8/acct-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPnLReportEndpoint(t *testing.T) {
	srv, _, orders, _ := newTestServer(t)

	require.NoError(t, orders.SaveClosedPosition(orderstore.ClosedPositionRecord{
		AccountID:    "acct-1",
		Symbol:       "RELIANCE-EQ",
		Quantity:     10,
		RealizedPnL:  250,
		ClosedAtUnix: time.Now().Unix(),
	}))

	rec := doRequest(t, srv, http.MethodGet, "/api/report/pnl/acct-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "acct-1 cumulative PnL")

	rec = doRequest(t, srv, http.MethodGet, "/api/report/pnl/acct-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	payload := `{"id":"sig-2","symbol":"TCS-EQ","exchange":"NSE","side":"buy","entry_price":100,"stop_price":95}`
	rec := doRequest(t, srv, http.MethodPost, "/api/signals", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/reconcile/acct-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"positions":1`)
}

func TestMarkEndpoint(t *testing.T) {
	srv, book, _, _ := newTestServer(t)

	payload := `{"id":"sig-3","symbol":"RELIANCE-EQ","exchange":"NSE","side":"buy","entry_price":100,"stop_price":95}`
	rec := doRequest(t, srv, http.MethodPost, "/api/signals", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, srv, http.MethodPost, "/api/marks/acct-1", `{"symbol":"RELIANCE-EQ","price":104}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	pos, ok := book.Snapshot(ledger.Key{AccountID: "acct-1", Symbol: "RELIANCE-EQ"})
	require.True(t, ok)
	assert.True(t, pos.LastPrice.Equal(decimal.NewFromInt(104)))

	rec = doRequest(t, srv, http.MethodGet, "/api/positions/acct-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_price":"104"`)
	assert.Contains(t, rec.Body.String(), `"pnl":"160"`)

	rec = doRequest(t, srv, http.MethodPost, "/api/marks/acct-1", `{"symbol":"TCS-EQ","price":104}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/marks/acct-1", `{"symbol":"RELIANCE-EQ","price":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
