// geo.go
package file

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
)

// ErrMissingFeatureID is returned for a boundary feature without an "id".
var ErrMissingFeatureID = errors.New("feature has no id")

// District is one boundary feature of the collection.
type District struct {
	Name     string          `json:"name"`
	ID       string          `json:"id"`       // join key, the feature id as text
	RawID    json.RawMessage `json:"-"`        // the id exactly as written in the collection
	Centroid [2]float64      `json:"centroid"` // lon, lat
	Bounds   [4]float64      `json:"bounds"`   // min lon, min lat, max lon, max lat
}

// GeoData holds the parsed boundary collection and its name and id indexes.
type GeoData struct {
	Raw       json.RawMessage // collection bytes handed to the map unchanged
	Districts []District      // file order

	byName map[string]int
	byID   map[string]int
}

type rawFeature struct {
	ID         json.RawMessage        `json:"id"`
	Properties map[string]interface{} `json:"properties"`
	Geometry   *geojson.Geometry      `json:"geometry"`
}

type rawCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

// ReadDistricts loads a GeoJSON FeatureCollection from path.
func ReadDistricts(path, nameProperty string) (*GeoData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundaries: %w", err)
	}
	geo, err := ParseDistricts(data, nameProperty)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return geo, nil
}

// ParseDistricts builds the district index from GeoJSON bytes. The name of a
// feature is read from properties[nameProperty].
func ParseDistricts(data []byte, nameProperty string) (*GeoData, error) {
	var fc rawCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse boundaries: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}

	geo := &GeoData{
		Raw:       json.RawMessage(data),
		Districts: make([]District, 0, len(fc.Features)),
		byName:    make(map[string]int, len(fc.Features)),
		byID:      make(map[string]int, len(fc.Features)),
	}

	for i, f := range fc.Features {
		id, err := featureID(f.ID)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		name, ok := f.Properties[nameProperty].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("feature %s: property %q missing or not a string", id, nameProperty)
		}
		if _, dup := geo.byName[name]; dup {
			return nil, fmt.Errorf("feature %s: duplicate district name %q", id, name)
		}
		if _, dup := geo.byID[id]; dup {
			return nil, fmt.Errorf("duplicate feature id %s", id)
		}

		d := District{Name: name, ID: id, RawID: f.ID}
		if f.Geometry != nil {
			if err := d.measure(f.Geometry); err != nil {
				return nil, fmt.Errorf("feature %s (%s): %w", id, name, err)
			}
		}

		geo.byName[name] = len(geo.Districts)
		geo.byID[id] = len(geo.Districts)
		geo.Districts = append(geo.Districts, d)
	}

	return geo, nil
}

// measure fills centroid and bounds from the feature geometry.
func (d *District) measure(g *geojson.Geometry) error {
	t, err := g.Decode()
	if err != nil {
		return fmt.Errorf("decode geometry: %w", err)
	}

	b := t.Bounds()
	d.Bounds = [4]float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}

	c, err := xy.Centroid(t)
	if err != nil {
		return fmt.Errorf("centroid: %w", err)
	}
	d.Centroid = [2]float64{c.X(), c.Y()}
	return nil
}

// featureID renders a GeoJSON id (string or number) as text.
func featureID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrMissingFeatureID
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("feature id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("feature id must be a string or number: %s", raw)
	}
	return n.String(), nil
}

// IDMap returns district name -> feature id.
func (g *GeoData) IDMap() map[string]string {
	m := make(map[string]string, len(g.Districts))
	for _, d := range g.Districts {
		m[d.Name] = d.ID
	}
	return m
}

// Lookup finds a district by display name.
func (g *GeoData) Lookup(name string) (District, bool) {
	i, ok := g.byName[strings.TrimSpace(name)]
	if !ok {
		return District{}, false
	}
	return g.Districts[i], true
}

// ByID finds a district by feature id.
func (g *GeoData) ByID(id string) (District, bool) {
	i, ok := g.byID[id]
	if !ok {
		return District{}, false
	}
	return g.Districts[i], true
}
