package ledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/internal/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyFillAccumulatesSameDaySide(t *testing.T) {
	l := New()
	key := Key{AccountID: "acct-1", Symbol: "RELIANCE"}

	pos, err := l.ApplyFill(key, types.SideBuy, 10, dec("12500"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.FlBuyQty)
	assert.Equal(t, int64(0), pos.CfBuyQty)
	assert.True(t, pos.FlBuyAmt.Equal(dec("12500")))

	pos, err = l.ApplyFill(key, types.SideBuy, 5, dec("6300"))
	require.NoError(t, err)
	assert.Equal(t, int64(15), pos.TotalBuyQty())
	assert.Equal(t, int64(15), pos.NetQty())
	assert.True(t, pos.TotalBuyAmt().Equal(dec("18800")))
}

func TestApplyFillRejectsDegenerateInput(t *testing.T) {
	l := New()
	key := Key{AccountID: "acct-1", Symbol: "RELIANCE"}

	_, err := l.ApplyFill(key, types.SideBuy, 0, dec("100"))
	assert.ErrorIs(t, err, ErrInvalidFill)

	_, err = l.ApplyFill(key, types.SideBuy, -5, dec("100"))
	assert.ErrorIs(t, err, ErrInvalidFill)

	_, err = l.ApplyFill(key, types.SideBuy, 5, dec("-100"))
	assert.ErrorIs(t, err, ErrInvalidFill)

	_, err = l.ApplyFill(key, "HOLD", 5, dec("100"))
	assert.ErrorIs(t, err, ErrInvalidFill)

	// Nothing was recorded.
	_, ok := l.Snapshot(key)
	assert.False(t, ok)
}

func TestAveragePriceSelectionRule(t *testing.T) {
	l := New()
	key := Key{AccountID: "acct-1", Symbol: "TCS"}

	_, err := l.ApplyFill(key, types.SideBuy, 10, dec("41000"))
	require.NoError(t, err)
	pos, _ := l.Snapshot(key)
	assert.True(t, pos.AveragePrice().Equal(dec("4100")), "net long reports buy average, got %s", pos.AveragePrice())

	_, err = l.ApplyFill(key, types.SideSell, 25, dec("103750"))
	require.NoError(t, err)
	pos, _ = l.Snapshot(key)
	assert.True(t, pos.AveragePrice().Equal(dec("4150")), "net short reports sell average, got %s", pos.AveragePrice())
}

func TestAveragePriceFlatPositionIsZero(t *testing.T) {
	l := New()
	key := Key{AccountID: "acct-1", Symbol: "INFY"}

	_, err := l.ApplyFill(key, types.SideBuy, 10, dec("15000"))
	require.NoError(t, err)
	_, err = l.ApplyFill(key, types.SideSell, 10, dec("15500"))
	require.NoError(t, err)

	pos, _ := l.Snapshot(key)
	assert.True(t, pos.Flat())
	assert.True(t, pos.AveragePrice().IsZero(), "both sides equal defines average price as exactly 0")

	// Per-side averages stay defined.
	buyAvg, ok := pos.SideAveragePrice(types.SideBuy)
	require.True(t, ok)
	assert.True(t, buyAvg.Equal(dec("1500")))
}

func TestSideAveragePriceUndefinedWithoutQuantity(t *testing.T) {
	var pos Position
	pos.normalize()

	_, ok := pos.SideAveragePrice(types.SideBuy)
	assert.False(t, ok)
}

func TestAveragePriceUsesConversionAndPrecision(t *testing.T) {
	pos := Position{
		FlBuyQty:   3,
		FlBuyAmt:   dec("1000"),
		Multiplier: 2,
		GenNum:     1, GenDen: 1,
		PrcNum: 1, PrcDen: 1,
		Precision: 3,
	}

	// 1000 / (3 * 2) = 166.666..., round half-up at 3 digits.
	avg, ok := pos.SideAveragePrice(types.SideBuy)
	require.True(t, ok)
	assert.True(t, avg.Equal(dec("166.667")), "got %s", avg)
}

func TestPnL(t *testing.T) {
	pos := Position{
		CfBuyQty: 10, CfBuyAmt: dec("1000"),
		FlSellQty: 4, FlSellAmt: dec("480"),
		Multiplier: 1,
		GenNum:     1, GenDen: 1,
		PrcNum: 1, PrcDen: 1,
		Precision: 2,
	}

	// (480 - 1000) + 6 * 110 = 140
	assert.True(t, pos.PnL(dec("110")).Equal(dec("140")))

	// Net short positions profit when price falls.
	short := Position{
		FlSellQty: 10, FlSellAmt: dec("1000"),
		Multiplier: 1, GenNum: 1, GenDen: 1, PrcNum: 1, PrcDen: 1, Precision: 2,
	}
	assert.True(t, short.PnL(dec("90")).Equal(dec("100")))
}

// Fills for one key must commute: any interleaving of the same fill set
// yields the same final aggregate.
func TestConcurrentFillsConverge(t *testing.T) {
	type fill struct {
		side types.Side
		qty  int64
		amt  string
	}
	fills := []fill{
		{types.SideBuy, 10, "1000"},
		{types.SideBuy, 7, "707"},
		{types.SideSell, 5, "515"},
		{types.SideBuy, 3, "309"},
		{types.SideSell, 12, "1260"},
		{types.SideSell, 1, "103"},
	}

	sequential := New()
	key := Key{AccountID: "acct-1", Symbol: "SBIN"}
	for _, f := range fills {
		_, err := sequential.ApplyFill(key, f.side, f.qty, dec(f.amt))
		require.NoError(t, err)
	}
	want, _ := sequential.Snapshot(key)

	for run := 0; run < 20; run++ {
		concurrent := New()
		var wg sync.WaitGroup
		for _, f := range fills {
			wg.Add(1)
			go func(f fill) {
				defer wg.Done()
				_, err := concurrent.ApplyFill(key, f.side, f.qty, dec(f.amt))
				assert.NoError(t, err)
			}(f)
		}
		wg.Wait()

		got, ok := concurrent.Snapshot(key)
		require.True(t, ok)
		assert.Equal(t, want.TotalBuyQty(), got.TotalBuyQty())
		assert.Equal(t, want.TotalSellQty(), got.TotalSellQty())
		assert.True(t, want.TotalBuyAmt().Equal(got.TotalBuyAmt()))
		assert.True(t, want.TotalSellAmt().Equal(got.TotalSellAmt()))
		assert.Equal(t, want.NetQty(), got.NetQty())
	}
}

func TestOpenPositionsCountsNetExposureOnly(t *testing.T) {
	l := New()

	_, err := l.ApplyFill(Key{AccountID: "a", Symbol: "X"}, types.SideBuy, 10, dec("100"))
	require.NoError(t, err)
	_, err = l.ApplyFill(Key{AccountID: "a", Symbol: "Y"}, types.SideBuy, 5, dec("50"))
	require.NoError(t, err)
	_, err = l.ApplyFill(Key{AccountID: "a", Symbol: "Y"}, types.SideSell, 5, dec("55"))
	require.NoError(t, err)
	_, err = l.ApplyFill(Key{AccountID: "b", Symbol: "X"}, types.SideSell, 1, dec("10"))
	require.NoError(t, err)

	assert.Equal(t, 1, l.OpenPositions("a"))
	assert.Equal(t, 1, l.OpenPositions("b"))
	assert.Equal(t, 0, l.OpenPositions("missing"))
	assert.Len(t, l.Snapshots(""), 3)
}

func TestReplaceInstallsBrokerAggregates(t *testing.T) {
	l := New()
	l.Replace(Position{
		AccountID: "a", Symbol: "NIFTY24DECFUT",
		CfBuyQty: 50, CfBuyAmt: dec("110000"),
		Multiplier: 1, Precision: 2,
	})

	pos, ok := l.Snapshot(Key{AccountID: "a", Symbol: "NIFTY24DECFUT"})
	require.True(t, ok)
	assert.Equal(t, int64(50), pos.TotalBuyQty())
	assert.True(t, pos.AveragePrice().Equal(dec("2200")))
}

func TestCloseAgainstLongPosition(t *testing.T) {
	pos := Position{AccountID: "acct-1", Symbol: "RELIANCE", FlBuyQty: 40, FlBuyAmt: dec("4000")}

	lot, ok := pos.CloseAgainst(types.SideSell, 40, dec("110"))
	require.True(t, ok)
	assert.Equal(t, int64(40), lot.Quantity)
	assert.True(t, lot.EntryAvg.Equal(dec("100")))
	assert.True(t, lot.ExitAvg.Equal(dec("110")))
	assert.True(t, lot.Realized.Equal(dec("400")))
}

func TestCloseAgainstPartialAndLoss(t *testing.T) {
	pos := Position{AccountID: "acct-1", Symbol: "RELIANCE", FlBuyQty: 40, FlBuyAmt: dec("4000")}

	lot, ok := pos.CloseAgainst(types.SideSell, 100, dec("95"))
	require.True(t, ok)
	assert.Equal(t, int64(40), lot.Quantity, "only the open quantity closes")
	assert.True(t, lot.Realized.Equal(dec("-200")))
}

func TestCloseAgainstShortPosition(t *testing.T) {
	pos := Position{AccountID: "acct-1", Symbol: "RELIANCE", FlSellQty: 20, FlSellAmt: dec("2400")}

	lot, ok := pos.CloseAgainst(types.SideBuy, 20, dec("110"))
	require.True(t, ok)
	assert.Equal(t, int64(20), lot.Quantity)
	assert.True(t, lot.EntryAvg.Equal(dec("120")))
	assert.True(t, lot.Realized.Equal(dec("200")))
}

func TestCloseAgainstExtendingOrFlat(t *testing.T) {
	long := Position{FlBuyQty: 40, FlBuyAmt: dec("4000")}
	_, ok := long.CloseAgainst(types.SideBuy, 10, dec("101"))
	assert.False(t, ok, "a same-direction fill extends exposure")

	var flat Position
	_, ok = flat.CloseAgainst(types.SideSell, 10, dec("101"))
	assert.False(t, ok)
}
