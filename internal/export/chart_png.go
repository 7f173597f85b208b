package export

import (
	"fmt"
	"io"
	"time"

	"github.com/wcharczuk/go-chart/v2"
)

const (
	chartWidth  = 800
	chartHeight = 500
)

// Slice is one labelled pie segment.
type Slice struct {
	Label string
	Value float64
}

// Series is one line of a time chart.
type Series struct {
	Name   string
	Times  []time.Time
	Values []float64
}

// RenderPieChart draws the positive slices as a PNG pie chart.
func RenderPieChart(w io.Writer, title string, slices []Slice) error {
	values := make([]chart.Value, 0, len(slices))
	for _, s := range slices {
		if s.Value <= 0 {
			continue
		}
		values = append(values, chart.Value{Label: s.Label, Value: s.Value})
	}
	if len(values) == 0 {
		return ErrNoChartData
	}

	pie := chart.PieChart{
		Title:  title,
		Width:  chartWidth,
		Height: chartHeight,
		Background: chart.Style{
			FillColor: chart.ColorWhite,
		},
		Values: values,
	}
	if err := pie.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render pie chart: %w", err)
	}
	return nil
}

var seriesColors = []chart.Style{
	{StrokeColor: chart.ColorRed, StrokeWidth: 2},
	{StrokeColor: chart.ColorGreen, StrokeWidth: 2},
	{StrokeColor: chart.ColorBlue, StrokeWidth: 2},
}

// RenderLineChart draws each series against a shared time axis.
// Series with fewer than two points are skipped.
func RenderLineChart(w io.Writer, title string, series []Series) error {
	graph := chart.Chart{
		Title:  title,
		Width:  chartWidth,
		Height: chartHeight,
		Background: chart.Style{
			Padding: chart.Box{
				Top:   50,
				Left:  20,
				Right: 20,
			},
			FillColor: chart.ColorWhite,
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("02.01"),
			Style: chart.Style{
				FontColor: chart.ColorBlack,
			},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{
				FontColor: chart.ColorBlack,
			},
		},
	}

	for i, s := range series {
		if len(s.Times) < 2 || len(s.Times) != len(s.Values) {
			continue
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    s.Name,
			XValues: s.Times,
			YValues: s.Values,
			Style:   seriesColors[i%len(seriesColors)],
		})
	}
	if len(graph.Series) == 0 {
		return ErrNoChartData
	}

	graph.Elements = []chart.Renderable{
		chart.Legend(&graph, chart.Style{
			FillColor: chart.ColorWhite,
			FontColor: chart.ColorBlack,
		}),
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render line chart: %w", err)
	}
	return nil
}
