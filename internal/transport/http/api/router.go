package apihttp

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signalflow/internal/ingest"
	"signalflow/internal/ledger"
	"signalflow/internal/report"
	"signalflow/internal/store/dispatchlog"
	"signalflow/internal/store/orderstore"
)

// Router exposes the intake endpoint and the read-side queries. Optional
// collaborators may be nil; their routes are simply not registered.
type Router struct {
	Ingestor *ingest.Ingestor
	Book     *ledger.Ledger
	Orders   *orderstore.Store
	Attempts *dispatchlog.Store
	Reports  *report.Reporter
}

// Register mounts the API routes onto the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.Ingestor != nil {
		group.POST("/signals", r.handleSignal)
		group.POST("/reconcile/:account", r.handleReconcile)
	}
	if r.Book != nil {
		group.GET("/positions/:account", r.handlePositions)
		group.POST("/marks/:account", r.handleMark)
	}
	if r.Orders != nil {
		group.GET("/orders", r.handleOrders)
	}
	if r.Attempts != nil {
		group.GET("/dispatches", r.handleDispatches)
		group.GET("/dispatches/:signal/:account", r.handleDispatchDetail)
	}
	if r.Reports != nil {
		group.GET("/report/pnl/:account", r.handlePnLReport)
	}
}

type taskView struct {
	AccountID     string `json:"account_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	Quantity      int64  `json:"quantity,omitempty"`
	State         string `json:"state,omitempty"`
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (r *Router) handleSignal(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body failed"})
		return
	}
	rep, err := r.Ingestor.Process(c.Request.Context(), payload)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	views := make([]taskView, 0, len(rep.Results))
	for _, res := range rep.Results {
		views = append(views, newTaskView(res))
	}
	c.JSON(http.StatusOK, gin.H{
		"signal_id":  rep.Signal.ID,
		"symbol":     rep.Signal.Symbol,
		"dispatched": rep.Dispatched(),
		"results":    views,
	})
}

func newTaskView(res ingest.TaskResult) taskView {
	view := taskView{
		AccountID: res.AccountID,
		Status:    string(res.Status),
		Reason:    res.Reason,
		Quantity:  res.Quantity,
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	if res.Dispatch != nil {
		view.State = string(res.Dispatch.State)
		view.BrokerOrderID = res.Dispatch.Ack.OrderID
		view.Attempts = len(res.Dispatch.Attempts)
		if view.Error == "" && res.Dispatch.Err != nil {
			view.Error = res.Dispatch.Err.Error()
		}
	}
	return view
}

func (r *Router) handleReconcile(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	if account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account required"})
		return
	}
	n, err := r.Ingestor.Reconcile(c.Request.Context(), account)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": account, "positions": n})
}

type positionView struct {
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Exchange  string `json:"exchange,omitempty"`
	NetQty    int64  `json:"net_qty"`
	BuyQty    int64  `json:"buy_qty"`
	SellQty   int64  `json:"sell_qty"`
	AvgPrice  string `json:"avg_price"`
	LastPrice string `json:"last_price,omitempty"`
	PnL       string `json:"pnl,omitempty"`
}

func (r *Router) handlePositions(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	if account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account required"})
		return
	}
	positions := r.Book.Snapshots(account)
	views := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		view := positionView{
			AccountID: pos.AccountID,
			Symbol:    pos.Symbol,
			Exchange:  pos.Exchange,
			NetQty:    pos.NetQty(),
			BuyQty:    pos.TotalBuyQty(),
			SellQty:   pos.TotalSellQty(),
			AvgPrice:  pos.AveragePrice().String(),
		}
		if !pos.LastPrice.IsZero() {
			view.LastPrice = pos.LastPrice.String()
			view.PnL = pos.PnL(pos.LastPrice).String()
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"account_id": account, "positions": views})
}

type markRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// handleMark records a last traded price against an existing aggregate so
// the positions view marks open exposure to market between fills.
func (r *Router) handleMark(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	if account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account required"})
		return
	}
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mark payload"})
		return
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" || req.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and a positive price required"})
		return
	}
	key := ledger.Key{AccountID: account, Symbol: req.Symbol}
	if _, ok := r.Book.Snapshot(key); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no position for " + req.Symbol})
		return
	}
	r.Book.MarkPrice(key, decimal.NewFromFloat(req.Price))
	c.JSON(http.StatusOK, gin.H{"account_id": account, "symbol": req.Symbol, "last_price": req.Price})
}

func (r *Router) handleOrders(c *gin.Context) {
	account := strings.TrimSpace(c.Query("account"))
	if account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account query param required"})
		return
	}
	limit := parseLimit(c.Query("limit"), 50)
	records, err := r.Orders.Orders(account, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": account, "orders": records})
}

type attemptView struct {
	SignalID  string `json:"signal_id"`
	AccountID string `json:"account_id"`
	Seq       int    `json:"seq"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	BackoffMS int64  `json:"backoff_ms,omitempty"`
	State     string `json:"state"`
	AtUnix    int64  `json:"at_unix"`
}

func (r *Router) handleDispatches(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	rows, err := r.Attempts.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attemptViews(rows)})
}

func (r *Router) handleDispatchDetail(c *gin.Context) {
	signalID := strings.TrimSpace(c.Param("signal"))
	account := strings.TrimSpace(c.Param("account"))
	rows, err := r.Attempts.Attempts(signalID, account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no attempts recorded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attemptViews(rows)})
}

func attemptViews(rows []dispatchlog.AttemptRow) []attemptView {
	views := make([]attemptView, 0, len(rows))
	for _, row := range rows {
		views = append(views, attemptView{
			SignalID:  row.SignalID,
			AccountID: row.AccountID,
			Seq:       row.Seq,
			Outcome:   row.Outcome,
			Error:     row.Error,
			BackoffMS: row.BackoffMS,
			State:     row.State,
			AtUnix:    row.At.Unix(),
		})
	}
	return views
}

func (r *Router) handlePnLReport(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	if account == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account required"})
		return
	}
	var buf bytes.Buffer
	if err := r.Reports.RenderPnL(account, &buf); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		n = 500
	}
	return n
}
