package kotakneo

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"signalflow/internal/ledger"
)

// parsePositions maps the venue's positions rows into ledger aggregates.
// Quantities, amounts and conversion ratios arrive as strings; missing
// conversion fields default inside the ledger.
func parsePositions(accountID string, body []byte) ([]ledger.Position, error) {
	rows := gjson.GetBytes(body, "data")
	if !rows.Exists() {
		return nil, nil
	}
	if !rows.IsArray() {
		return nil, fmt.Errorf("kotakneo: positions data is not an array")
	}

	out := make([]ledger.Position, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		pos := ledger.Position{
			AccountID: accountID,
			Symbol:    row.Get("trdSym").String(),
			Exchange:  row.Get("exSeg").String(),

			CfBuyQty:  row.Get("cfBuyQty").Int(),
			FlBuyQty:  row.Get("flBuyQty").Int(),
			CfSellQty: row.Get("cfSellQty").Int(),
			FlSellQty: row.Get("flSellQty").Int(),

			CfBuyAmt:  money(row.Get("cfBuyAmt")),
			FlBuyAmt:  money(row.Get("buyAmt")),
			CfSellAmt: money(row.Get("cfSellAmt")),
			FlSellAmt: money(row.Get("sellAmt")),

			Multiplier: row.Get("multiplier").Int(),
			GenNum:     row.Get("genNum").Int(),
			GenDen:     row.Get("genDen").Int(),
			PrcNum:     row.Get("prcNum").Int(),
			PrcDen:     row.Get("prcDen").Int(),
			Precision:  int32(row.Get("precision").Int()),

			LastPrice: money(row.Get("stkPrc")),
		}
		if pos.Symbol == "" {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func money(r gjson.Result) decimal.Decimal {
	if !r.Exists() || r.String() == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.NewFromFloat(r.Float())
	}
	return d
}
