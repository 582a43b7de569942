// data.go
package processor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"CopenhagenIncome/src/config"
	"CopenhagenIncome/src/datasource/file"
	"CopenhagenIncome/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Columns of the long table.
const (
	ColDistrict = "district"
	ColYear     = "year"
	ColIncome   = "avg_income"
	ColID       = "id"
)

var (
	ErrUnknownDistrict = errors.New("district not found in boundary data")
	ErrNoYearColumns   = errors.New("income table has no year columns")
	ErrNoIncomeValues  = errors.New("income table has no values")
)

// Record is one (district, year) observation.
type Record struct {
	District string  `json:"district"`
	Year     int     `json:"year"`
	Income   float64 `json:"avg_income"`
	ID       string  `json:"id"`
}

// DataProcess is one step of the income table preparation.
type DataProcess interface {
	Process(df dataframe.DataFrame) (dataframe.DataFrame, error)
}

// CleanDistricts drops the code prefix from every district label and
// applies the configured name corrections.
type CleanDistricts struct {
	Dcfg *config.DataConfig
}

func (c CleanDistricts) Process(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	col := c.Dcfg.DistrictColumn
	if !utils.HasColumn(df, col) {
		return df, fmt.Errorf("income table has no %q column", col)
	}

	labels := df.Col(col).Records()
	cleaned := make([]string, len(labels))
	for i, label := range labels {
		name := stripPrefix(label, c.Dcfg.PrefixWidth)
		if fixed, ok := c.Dcfg.GetNameCorrection(name); ok {
			name = fixed
		}
		cleaned[i] = name
	}

	out := df.Mutate(series.New(cleaned, series.String, col))
	return out, out.Err
}

// stripPrefix removes the first width characters (not bytes) of label.
func stripPrefix(label string, width int) string {
	runes := []rune(label)
	if width >= len(runes) {
		return ""
	}
	return string(runes[width:])
}

// Melt reshapes the wide table (one column per year) into the long table
// with columns district, year and avg_income. Rows are ordered year by
// year, districts in source order within each year.
type Melt struct {
	IDColumn string
}

func (m Melt) Process(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	if !utils.HasColumn(df, m.IDColumn) {
		return df, fmt.Errorf("income table has no %q column", m.IDColumn)
	}

	type yearColumn struct {
		name string
		year int
	}
	var yearCols []yearColumn
	for _, name := range df.Names() {
		if name == m.IDColumn {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(name))
		if err != nil {
			return df, fmt.Errorf("column %q is not a year: %w", name, err)
		}
		yearCols = append(yearCols, yearColumn{name, year})
	}
	if len(yearCols) == 0 {
		return df, ErrNoYearColumns
	}

	districts := df.Col(m.IDColumn).Records()
	n := len(districts) * len(yearCols)
	outDistricts := make([]string, 0, n)
	outYears := make([]int, 0, n)
	outIncome := make([]float64, 0, n)

	for _, yc := range yearCols {
		values := df.Col(yc.name).Records()
		for i, district := range districts {
			income, err := parseIncome(values[i])
			if err != nil {
				return df, fmt.Errorf("%s %d: %w", district, yc.year, err)
			}
			outDistricts = append(outDistricts, district)
			outYears = append(outYears, yc.year)
			outIncome = append(outIncome, income)
		}
	}

	long := dataframe.New(
		series.New(outDistricts, series.String, ColDistrict),
		series.New(outYears, series.Int, ColYear),
		series.New(outIncome, series.Float, ColIncome),
	)
	return long, long.Err
}

// parseIncome reads one cell. Empty and Statbank ".." cells are missing.
func parseIncome(cell string) (float64, error) {
	v := strings.ReplaceAll(strings.TrimSpace(cell), " ", "")
	switch v {
	case "", "..", "NA", "NaN":
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("income %q: %w", cell, err)
	}
	return f, nil
}

// AttachIDs adds the feature id of every district and replaces the label
// with the boundary data's spelling. An unknown district is an error.
type AttachIDs struct {
	Geo *file.GeoData
}

func (a AttachIDs) Process(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	names := df.Col(ColDistrict).Records()
	ids := make([]string, len(names))
	canonical := make([]string, len(names))

	for i, name := range names {
		d, ok := a.Geo.Lookup(name)
		if !ok {
			return df, fmt.Errorf("%w: %q", ErrUnknownDistrict, name)
		}
		ids[i] = d.ID
		canonical[i] = d.Name
	}

	out := df.Mutate(series.New(canonical, series.String, ColDistrict)).
		Mutate(series.New(ids, series.String, ColID))
	return out, out.Err
}

// RunPipeline applies steps in order.
func RunPipeline(df dataframe.DataFrame, steps ...DataProcess) (dataframe.DataFrame, error) {
	var err error
	for _, step := range steps {
		df, err = step.Process(df)
		if err != nil {
			return df, err
		}
	}
	return df, nil
}

// Dataset is the prepared, read-only state the map is drawn from. It is
// built once at startup and shared by every redraw.
type Dataset struct {
	long      dataframe.DataFrame
	geo       *file.GeoData
	years     []int
	districts []string
	scale     ColorScale
	style     config.MapStyle
}

// Build prepares the long table from the wide income table and the
// boundary data, and derives years, districts and the colour scale.
func Build(geo *file.GeoData, wide dataframe.DataFrame, dcfg *config.DataConfig) (*Dataset, error) {
	long, err := RunPipeline(wide,
		CleanDistricts{Dcfg: dcfg},
		Melt{IDColumn: dcfg.DistrictColumn},
		AttachIDs{Geo: geo},
	)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{long: long, geo: geo, style: dcfg.Map}

	seenYear := make(map[int]bool)
	years, _ := long.Col(ColYear).Int()
	for _, y := range years {
		if !seenYear[y] {
			seenYear[y] = true
			ds.years = append(ds.years, y)
		}
	}
	sort.Ints(ds.years)

	seenDistrict := make(map[string]bool)
	for _, name := range long.Col(ColDistrict).Records() {
		if !seenDistrict[name] {
			seenDistrict[name] = true
			ds.districts = append(ds.districts, name)
		}
	}

	lo, hi, ok := finiteRange(long.Col(ColIncome).Float())
	if !ok {
		return nil, ErrNoIncomeValues
	}
	ds.scale = NewColorScale(lo, hi, dcfg.ColorBar.RoundTo, dcfg.ColorBar.Padding, dcfg.ColorBar.Step)

	return ds, nil
}

// Load reads both inputs named by cfg and builds the Dataset.
func Load(cfg *config.Config, dcfg *config.DataConfig) (*Dataset, error) {
	geo, err := file.ReadDistricts(cfg.GeoPath(), dcfg.NameProperty)
	if err != nil {
		return nil, err
	}

	wide, err := file.ReadIncome(cfg.IncomePath(), dcfg.Encoding, []rune(dcfg.Delimiter)[0])
	if err != nil {
		return nil, err
	}

	return Build(geo, wide, dcfg)
}

func finiteRange(values []float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}

// Len is the number of rows of the long table.
func (d *Dataset) Len() int { return d.long.Nrow() }

// Years are the distinct years, ascending.
func (d *Dataset) Years() []int { return append([]int(nil), d.years...) }

// LatestYear is the most recent year, the slider's start position.
func (d *Dataset) LatestYear() int { return d.years[len(d.years)-1] }

// HasYear reports whether year is one of the table's years.
func (d *Dataset) HasYear(year int) bool {
	i := sort.SearchInts(d.years, year)
	return i < len(d.years) && d.years[i] == year
}

// Districts are the district names in source order.
func (d *Dataset) Districts() []string { return append([]string(nil), d.districts...) }

// Geo is the boundary data the table is joined to.
func (d *Dataset) Geo() *file.GeoData { return d.geo }

// Scale is the precomputed colour scale.
func (d *Dataset) Scale() ColorScale { return d.scale }

// Frame returns a copy of the long table.
func (d *Dataset) Frame() dataframe.DataFrame { return d.long.Copy() }

// Records returns the rows of one year. A year outside the table gives an
// empty slice.
func (d *Dataset) Records(year int) []Record {
	if !d.HasYear(year) {
		return []Record{}
	}
	filtered := d.long.Filter(dataframe.F{Colname: ColYear, Comparator: series.Eq, Comparando: year})
	return toRecords(filtered)
}

// Trend returns every year of one district, oldest first.
func (d *Dataset) Trend(id string) []Record {
	if _, ok := d.geo.ByID(id); !ok {
		return []Record{}
	}
	filtered := d.long.
		Filter(dataframe.F{Colname: ColID, Comparator: series.Eq, Comparando: id}).
		Arrange(dataframe.Sort(ColYear))
	return toRecords(filtered)
}

func toRecords(df dataframe.DataFrame) []Record {
	if df.Err != nil || df.Nrow() == 0 {
		return []Record{}
	}
	names := df.Col(ColDistrict).Records()
	years, _ := df.Col(ColYear).Int()
	incomes := df.Col(ColIncome).Float()
	ids := df.Col(ColID).Records()

	out := make([]Record, len(names))
	for i := range names {
		out[i] = Record{District: names[i], Year: years[i], Income: incomes[i], ID: ids[i]}
	}
	return out
}
