// Package report renders account performance charts from the closed
// position history.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"signalflow/internal/store/orderstore"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorWin           = "#34d399"
	colorLoss          = "#f87171"

	chartWidthPx  = 1200
	chartHeightPx = 420
)

// Source is the slice of the order store the reporter needs.
type Source interface {
	ClosedPositions(accountID string) ([]orderstore.ClosedPositionRecord, error)
}

// Reporter builds equity-curve pages for one account at a time.
type Reporter struct {
	src Source
}

func New(src Source) *Reporter {
	return &Reporter{src: src}
}

// RenderPnL writes an HTML page with the cumulative realized PnL curve and
// the per-trade PnL bars for one account.
func (r *Reporter) RenderPnL(accountID string, w io.Writer) error {
	rows, err := r.src.ClosedPositions(accountID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("report: no closed positions for account %s", accountID)
	}

	xAxis := make([]string, len(rows))
	equity := make([]opts.LineData, len(rows))
	trades := make([]opts.BarData, len(rows))
	var cum float64
	for i, row := range rows {
		cum += row.RealizedPnL
		xAxis[i] = time.Unix(row.ClosedAtUnix, 0).UTC().Format("01-02 15:04")
		equity[i] = opts.LineData{Value: cum}
		color := colorWin
		if row.RealizedPnL < 0 {
			color = colorLoss
		}
		trades[i] = opts.BarData{
			Value:     row.RealizedPnL,
			Name:      row.Symbol,
			ItemStyle: &opts.ItemStyle{Color: color},
		}
	}

	page := components.NewPage()
	page.AddCharts(
		buildEquityLine(accountID, xAxis, equity, cum),
		buildTradeBars(accountID, xAxis, trades),
	)
	return page.Render(w)
}

func buildEquityLine(accountID string, xAxis []string, equity []opts.LineData, final float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s cumulative PnL", accountID),
			Subtitle:      fmt.Sprintf("final %.2f over %d trades", final, len(equity)),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildTradeBars(accountID string, xAxis []string, trades []opts.BarData) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("%s per-trade PnL", accountID),
			Left:       "left",
			Top:        "10",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	bar.SetXAxis(xAxis)
	bar.AddSeries("Trade PnL", trades)
	return bar
}
