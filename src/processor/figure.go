// figure.go
package processor

import (
	"encoding/json"
	"fmt"
	"math"
)

// Figure is a plotly.js figure: traces, layout and the chart config.
type Figure struct {
	Data   []Trace    `json:"data"`
	Layout Layout     `json:"layout"`
	Config PlotConfig `json:"config"`
}

// Trace is a choroplethmapbox trace. Locations, Z, CustomData and Text are
// parallel slices, one entry per coloured district.
type Trace struct {
	Type          string            `json:"type"`
	Name          string            `json:"name"`
	GeoJSON       json.RawMessage   `json:"geojson"`
	FeatureIDKey  string            `json:"featureidkey"`
	Locations     []json.RawMessage `json:"locations"`
	Z             []float64         `json:"z"`
	CustomData    [][]interface{}   `json:"customdata"`
	Text          []string          `json:"text"`
	HoverTemplate string            `json:"hovertemplate"`
	ColorAxis     string            `json:"coloraxis"`
	MarkerOpacity float64           `json:"marker_opacity"`
}

// Font is a plotly font: family and size in px.
type Font struct {
	Family string `json:"family,omitempty"`
	Size   int    `json:"size,omitempty"`
}

// HoverLabel styles the tooltip box.
type HoverLabel struct {
	BGColor string `json:"bgcolor"`
	Font    Font   `json:"font"`
}

// LatLon is a map position.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Mapbox sets the base map tiles, centre and zoom.
type Mapbox struct {
	Style  string  `json:"style"`
	Center LatLon  `json:"center"`
	Zoom   float64 `json:"zoom"`
}

// Title is a plotly title object.
type Title struct {
	Text string `json:"text"`
}

// ColorBar is the legend of the colour axis.
type ColorBar struct {
	Title    Title    `json:"title"`
	LenMode  string   `json:"lenmode"`
	Len      float64  `json:"len"`
	TickVals []int64  `json:"tickvals"`
	TickText []string `json:"ticktext"`
}

// ColorAxis is the shared colour range of the choropleth.
type ColorAxis struct {
	ColorScale string   `json:"colorscale"`
	CMin       float64  `json:"cmin"`
	CMax       float64  `json:"cmax"`
	ColorBar   ColorBar `json:"colorbar"`
}

// Margin is the plot margin in px.
type Margin struct {
	L int `json:"l"`
	R int `json:"r"`
	T int `json:"t"`
	B int `json:"b"`
}

// Layout holds the chart-level styling. DragMode is always false: the map
// cannot be panned.
type Layout struct {
	Height       int        `json:"height"`
	Font         Font       `json:"font"`
	DragMode     bool       `json:"dragmode"`
	PaperBGColor string     `json:"paper_bgcolor"`
	HoverLabel   HoverLabel `json:"hoverlabel"`
	Separators   string     `json:"separators"`
	Mapbox       Mapbox     `json:"mapbox"`
	ColorAxis    ColorAxis  `json:"coloraxis"`
	Margin       Margin     `json:"margin"`
}

// PlotConfig disables the mode bar and scroll zoom.
type PlotConfig struct {
	DisplayModeBar bool `json:"displayModeBar"`
	ScrollZoom     bool `json:"scrollZoom"`
	Responsive     bool `json:"responsive"`
}

// HoverText is the tooltip of one district.
func HoverText(district string, year int, income float64, currency string) string {
	return fmt.Sprintf("<b>%s</b><br>Year: %d<br>Avg. income: %s %s",
		district, year, FormatIncome(income), currency)
}

// Redraw builds the map for year. It only reads the dataset and returns a
// fresh figure on every call. A year outside the table gives a figure with
// no coloured districts.
func (d *Dataset) Redraw(year int) *Figure {
	records := d.Records(year)

	trace := Trace{
		Type:          "choroplethmapbox",
		Name:          fmt.Sprintf("%d", year),
		GeoJSON:       d.geo.Raw,
		FeatureIDKey:  "id",
		Locations:     make([]json.RawMessage, 0, len(records)),
		Z:             make([]float64, 0, len(records)),
		CustomData:    make([][]interface{}, 0, len(records)),
		Text:          make([]string, 0, len(records)),
		HoverTemplate: "%{text}<extra></extra>",
		ColorAxis:     "coloraxis",
		MarkerOpacity: 0.8,
	}

	for _, r := range records {
		// a missing value leaves the district uncoloured
		if math.IsNaN(r.Income) {
			continue
		}
		district, _ := d.geo.ByID(r.ID)
		trace.Locations = append(trace.Locations, district.RawID)
		trace.Z = append(trace.Z, r.Income)
		trace.CustomData = append(trace.CustomData, []interface{}{r.District, r.Year, r.Income})
		trace.Text = append(trace.Text, HoverText(r.District, r.Year, r.Income, d.style.Currency))
	}

	return &Figure{
		Data:   []Trace{trace},
		Layout: d.layout(),
		Config: PlotConfig{DisplayModeBar: false, ScrollZoom: false, Responsive: true},
	}
}

func (d *Dataset) layout() Layout {
	s := d.style
	font := Font{Family: s.FontFamily, Size: s.FontSize}

	return Layout{
		Height:       s.Height,
		Font:         font,
		DragMode:     false,
		PaperBGColor: s.Background,
		HoverLabel:   HoverLabel{BGColor: "white", Font: font},
		Separators:   s.Separators,
		Mapbox: Mapbox{
			Style:  s.MapboxStyle,
			Center: LatLon{Lat: s.CenterLat, Lon: s.CenterLon},
			Zoom:   s.Zoom,
		},
		ColorAxis: ColorAxis{
			ColorScale: s.ColorScale,
			CMin:       d.scale.Min,
			CMax:       d.scale.Max,
			ColorBar: ColorBar{
				Title:    Title{Text: s.ColorTitle},
				LenMode:  "fraction",
				Len:      0.5,
				TickVals: append([]int64(nil), d.scale.TickVals...),
				TickText: append([]string(nil), d.scale.TickText...),
			},
		},
		Margin: Margin{},
	}
}
