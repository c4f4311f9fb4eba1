// Package plot renders a per-commit safe/unsafe series as a standalone
// HTML line chart.
package plot

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/DCNick3/unsafe-track/internal/analysis"
)

// ErrUnknownCoord reports an unrecognized axis selector.
var ErrUnknownCoord = errors.New("plot: unknown coordinate")

// XCoord selects what the horizontal axis shows.
type XCoord uint8

const (
	// XIndex plots commits at their dense chronological index.
	XIndex XCoord = iota
	// XDate plots commits at their committer date.
	XDate
)

// YCoord selects which counters the vertical axis shows.
type YCoord uint8

const (
	// YFunctions plots function counts; methods declared in impl and
	// trait blocks count as functions here.
	YFunctions YCoord = iota
	// YExpressions plots expression counts.
	YExpressions
)

// ParseXCoord maps a request parameter to an XCoord.
func ParseXCoord(s string) (XCoord, error) {
	switch s {
	case "", "index":
		return XIndex, nil
	case "date":
		return XDate, nil
	default:
		return 0, fmt.Errorf("%w: x_coord %q", ErrUnknownCoord, s)
	}
}

// ParseYCoord maps a request parameter to a YCoord.
func ParseYCoord(s string) (YCoord, error) {
	switch s {
	case "", "functions":
		return YFunctions, nil
	case "expressions":
		return YExpressions, nil
	default:
		return 0, fmt.Errorf("%w: y_coord %q", ErrUnknownCoord, s)
	}
}

// String implements fmt.Stringer.
func (x XCoord) String() string {
	if x == XDate {
		return "date"
	}

	return "index"
}

// String implements fmt.Stringer.
func (y YCoord) String() string {
	if y == YExpressions {
		return "expressions"
	}

	return "functions"
}

// Counts projects one counter block onto the axis.
func (y YCoord) Counts(block analysis.CounterBlock) analysis.Count {
	if y == YExpressions {
		return block.Exprs
	}

	total := block.Functions
	total.Add(block.Methods)

	return total
}

// Series colors follow the usual safety palette.
const (
	unsafeColor = "#ee6666"
	safeColor   = "#91cc75"

	chartWidth  = "1200px"
	chartHeight = "600px"
	dateLayout  = "2006-01-02"
)

// RenderHTML writes a standalone HTML page charting results to w.
func RenderHTML(w io.Writer, title string, results []analysis.CommitResult, x XCoord, y YCoord) error {
	labels := make([]string, len(results))
	unsafeSeries := make([]opts.LineData, len(results))
	safeSeries := make([]opts.LineData, len(results))

	for i, result := range results {
		if x == XDate {
			labels[i] = result.Time.Format(dateLayout)
		} else {
			labels[i] = strconv.Itoa(result.Index)
		}

		counts := y.Counts(result.Counters)
		unsafeSeries[i] = opts.LineData{Value: counts.Unsafe}
		safeSeries[i] = opts.LineData{Value: counts.Safe}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "commit " + x.String()}),
		charts.WithYAxisOpts(opts.YAxis{Name: y.String()}),
	)
	line.SetXAxis(labels)
	line.AddSeries("unsafe", unsafeSeries,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: unsafeColor}),
	)
	line.AddSeries("safe", safeSeries,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: safeColor}),
	)

	err := line.Render(w)
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}
