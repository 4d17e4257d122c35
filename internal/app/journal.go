package app

import (
	"signalflow/internal/dispatch"
	"signalflow/internal/logger"
	"signalflow/internal/store/dispatchlog"
	"signalflow/internal/store/orderstore"
)

// journalFanout writes each finished dispatch to the order store and the
// per-attempt journal, and realized round trips to the closed-positions
// table. Persistence failures are logged, never surfaced into the
// dispatch path.
type journalFanout struct {
	orders   *orderstore.Store
	attempts *dispatchlog.Store
}

func (j journalFanout) RecordDispatch(res dispatch.Result) {
	if j.orders != nil {
		j.orders.RecordDispatch(res)
	}
	if j.attempts != nil {
		if err := j.attempts.Append(res); err != nil {
			logger.Warnf("dispatch log append failed for %s/%s: %v", res.SignalID, res.AccountID, err)
		}
	}
}

func (j journalFanout) RecordClose(trade dispatch.ClosedTrade) {
	if j.orders == nil {
		return
	}
	rec := orderstore.ClosedPositionRecord{
		AccountID:   trade.AccountID,
		Symbol:      trade.Symbol,
		Quantity:    trade.Quantity,
		EntryAvg:    trade.EntryAvg,
		ExitAvg:     trade.ExitAvg,
		RealizedPnL: trade.Realized,
	}
	if err := j.orders.SaveClosedPosition(rec); err != nil {
		logger.Warnf("closed position save failed for %s %s: %v", trade.AccountID, trade.Symbol, err)
	}
}
