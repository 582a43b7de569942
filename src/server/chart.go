package server

import (
	"errors"
	"io"
	"math"
	"strconv"

	"CopenhagenIncome/src/processor"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var errTooFewPoints = errors.New("need at least two years with values to draw a trend")

var trendColor = drawing.ColorFromHex("31a354")

// renderTrend draws the income of one district over the years as a PNG.
func renderTrend(w io.Writer, title, yName string, records []processor.Record) error {
	var xs, ys []float64
	for _, r := range records {
		if math.IsNaN(r.Income) {
			continue
		}
		xs = append(xs, float64(r.Year))
		ys = append(ys, r.Income)
	}
	if len(xs) < 2 {
		return errTooFewPoints
	}

	ch := chart.Chart{
		Title:  title,
		Width:  800,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{
			Name: "Year",
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return strconv.Itoa(int(f))
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			Name: yName,
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return processor.FormatIncome(f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    title,
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: trendColor,
					StrokeWidth: 3,
					DotColor:    trendColor,
					DotWidth:    4,
				},
			},
		},
	}

	return ch.Render(chart.PNG, w)
}
