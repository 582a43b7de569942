package view

import (
	"embed"
	"html/template"
	"io"
	"strconv"
	"strings"

	"CopenhagenIncome/src/config"
)

// Component ids shared by the page and the dispatcher.
const (
	SliderID = "year-slider"
	GraphID  = "map-copenhagen"
)

//go:embed templates/index.html
var templates embed.FS

var pageTemplate = template.Must(template.ParseFS(templates, "templates/index.html"))

// SliderMark is one selectable year.
type SliderMark struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// Slider only allows the marked values.
type Slider struct {
	ID    string       `json:"id"`
	Label string       `json:"label"`
	Min   int          `json:"min"`
	Max   int          `json:"max"`
	Value int          `json:"value"`
	Marks []SliderMark `json:"marks"`
}

// Graph is the placeholder the figure is drawn into.
type Graph struct {
	ID string `json:"id"`
}

// Layout is the whole page: title, description, slider and map.
type Layout struct {
	Title       string   `json:"title"`
	Description []string `json:"description"`
	Slider      Slider   `json:"slider"`
	Graph       Graph    `json:"graph"`
}

// NewLayout declares the page for the given years (ascending). The slider
// starts on the most recent year.
func NewLayout(page config.PageText, years []int) Layout {
	l := Layout{
		Title:       page.Title,
		Description: paragraphs(page.Description),
		Slider: Slider{
			ID:    SliderID,
			Label: page.SliderLabel,
			Marks: make([]SliderMark, 0, len(years)),
		},
		Graph: Graph{ID: GraphID},
	}

	for _, y := range years {
		l.Slider.Marks = append(l.Slider.Marks, SliderMark{Value: y, Label: strconv.Itoa(y)})
	}
	if len(years) > 0 {
		l.Slider.Min = years[0]
		l.Slider.Max = years[len(years)-1]
		l.Slider.Value = l.Slider.Max
	}
	return l
}

// LastIndex is the position of the last mark, the range input's max.
func (s Slider) LastIndex() int {
	if len(s.Marks) == 0 {
		return 0
	}
	return len(s.Marks) - 1
}

// HasMark reports whether year can be picked on the slider.
func (l Layout) HasMark(year int) bool {
	for _, m := range l.Slider.Marks {
		if m.Value == year {
			return true
		}
	}
	return false
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Render writes the HTML page for l.
func Render(w io.Writer, l Layout) error {
	return pageTemplate.Execute(w, l)
}
