package view

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"CopenhagenIncome/src/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayout(t *testing.T) {
	page := config.DefaultDataConfig().Page
	l := NewLayout(page, []int{2010, 2011, 2012})

	assert.Equal(t, page.Title, l.Title)
	assert.Len(t, l.Description, 2)
	assert.Equal(t, SliderID, l.Slider.ID)
	assert.Equal(t, 2010, l.Slider.Min)
	assert.Equal(t, 2012, l.Slider.Max)
	assert.Equal(t, 2012, l.Slider.Value)
	assert.Equal(t, []SliderMark{{2010, "2010"}, {2011, "2011"}, {2012, "2012"}}, l.Slider.Marks)
	assert.True(t, l.HasMark(2011))
	assert.False(t, l.HasMark(2013))
	assert.Equal(t, 2, l.Slider.LastIndex())
}

func TestNewLayoutNoYears(t *testing.T) {
	l := NewLayout(config.PageText{Title: "x"}, nil)
	assert.Empty(t, l.Slider.Marks)
	assert.Zero(t, l.Slider.Value)
	assert.Zero(t, l.Slider.LastIndex())
}

func TestRender(t *testing.T) {
	l := NewLayout(config.DefaultDataConfig().Page, []int{2018, 2019})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, l))
	html := buf.String()

	assert.Contains(t, html, "<h1>How the average income in the districts of Copenhagen has changed</h1>")
	assert.Contains(t, html, `id="year-slider"`)
	assert.Contains(t, html, `<div id="map-copenhagen"></div>`)
	assert.Contains(t, html, `<span data-index="1">2019</span>`)
	assert.Contains(t, html, `min="0" max="1"`)
	assert.Contains(t, html, "Choose year:")
	assert.Contains(t, html, "plotly")
}

func TestRenderEscapesText(t *testing.T) {
	l := NewLayout(config.PageText{Title: "<script>alert(1)</script>"}, []int{2019})

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, l))
	assert.NotContains(t, buf.String(), "<h1><script>")
}

func TestDispatcherYear(t *testing.T) {
	d := NewDispatcher()
	var got int
	d.OnYear(SliderID, func(year int) (interface{}, error) {
		got = year
		return map[string]int{"year": year}, nil
	})

	out, err := d.Dispatch(Event{Component: SliderID, Property: "value", Value: json.RawMessage("2017")})
	require.NoError(t, err)
	assert.Equal(t, 2017, got)
	assert.Equal(t, map[string]int{"year": 2017}, out)
}

func TestDispatcherErrors(t *testing.T) {
	d := NewDispatcher()
	d.OnYear(SliderID, func(year int) (interface{}, error) { return year, nil })

	_, err := d.Dispatch(Event{Component: "other", Property: "value", Value: json.RawMessage("1")})
	assert.ErrorIs(t, err, ErrNoHandler)

	_, err = d.Dispatch(Event{Component: SliderID, Property: "value", Value: json.RawMessage(`"soon"`)})
	assert.ErrorIs(t, err, ErrBadValue)

	boom := errors.New("boom")
	d.On(SliderID, "value", func(json.RawMessage) (interface{}, error) { return nil, boom })
	_, err = d.Dispatch(Event{Component: SliderID, Property: "value", Value: json.RawMessage("1")})
	assert.ErrorIs(t, err, boom)
}
