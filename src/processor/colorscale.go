package processor

import (
	"math"

	"github.com/dustin/go-humanize"
)

// ColorScale is the fixed colour range of the map and its legend ticks.
type ColorScale struct {
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	TickVals []int64  `json:"tickvals"`
	TickText []string `json:"ticktext"`
}

// NewColorScale rounds lo and hi to the nearest multiple of roundTo (ties to
// even), widens the range by padding on both sides and places a tick every
// step from Min up to, but not including, Max.
func NewColorScale(lo, hi float64, roundTo, padding, step int) ColorScale {
	minV := roundToMultiple(lo, roundTo) - int64(padding)
	maxV := roundToMultiple(hi, roundTo) + int64(padding)

	cs := ColorScale{
		Min:      float64(minV),
		Max:      float64(maxV),
		TickVals: []int64{},
		TickText: []string{},
	}
	if step <= 0 {
		return cs
	}
	for v := minV; v < maxV; v += int64(step) {
		cs.TickVals = append(cs.TickVals, v)
		cs.TickText = append(cs.TickText, FormatThousands(v))
	}
	return cs
}

func roundToMultiple(v float64, multiple int) int64 {
	m := float64(multiple)
	return int64(math.RoundToEven(v/m) * m)
}

// FormatThousands renders n with "." between thousands: 240000 -> "240.000".
func FormatThousands(n int64) string {
	return humanize.FormatInteger("#.###,", int(n))
}

// FormatIncome renders an income rounded to whole kroner.
func FormatIncome(v float64) string {
	return FormatThousands(int64(math.Round(v)))
}
