// reader.go
package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ReadIncome loads the wide income table (one row per district label, one
// column per year) from a .csv or .xlsx file. Every column is read as text;
// typing happens when the table is reshaped.
//
// Parameters:
//
//	path:      .csv or .xlsx file
//	charset:   encoding of a CSV file, ignored for xlsx
//	delimiter: CSV field separator, ignored for xlsx
func ReadIncome(path, charset string, delimiter rune) (dataframe.DataFrame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadIncomeXLSX(path, "")
	default:
		f, err := os.Open(path)
		if err != nil {
			return dataframe.New(), fmt.Errorf("open income table: %w", err)
		}
		defer f.Close()

		df, err := ReadIncomeCSV(f, charset, delimiter)
		if err != nil {
			return df, fmt.Errorf("%s: %w", path, err)
		}
		return df, nil
	}
}

// ReadIncomeCSV decodes r from charset to UTF-8 and parses it as a
// delimited table with a header row.
func ReadIncomeCSV(r io.Reader, charset string, delimiter rune) (dataframe.DataFrame, error) {
	decoded, err := charsetReader(charset, r)
	if err != nil {
		return dataframe.New(), err
	}

	df := dataframe.ReadCSV(decoded,
		dataframe.WithDelimiter(delimiter),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return df, fmt.Errorf("parse income table: %w", df.Err)
	}
	return df, nil
}

// charsetReader wraps input with a decoder for the named charset.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return input, nil
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
	case "iso-8859-15", "latin9":
		return transform.NewReader(input, charmap.ISO8859_15.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(input, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported charset: %s", charset)
	}
}

// ReadIncomeXLSX reads the income table from sheetName, or from the first
// sheet when sheetName is empty. The first row is the header.
func ReadIncomeXLSX(filePath, sheetName string) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenFile(filePath)
	if err != nil {
		return dataframe.New(), fmt.Errorf("open xlsx: %w", err)
	}
	if len(xlFile.Sheets) == 0 {
		return dataframe.New(), fmt.Errorf("%s: workbook has no sheets", filePath)
	}

	sheet := xlFile.Sheets[0]
	if sheetName != "" {
		s, ok := xlFile.Sheet[sheetName]
		if !ok {
			return dataframe.New(), fmt.Errorf("%s: no sheet named %q", filePath, sheetName)
		}
		sheet = s
	}

	df, err := convertSheetToDataFrame(sheet)
	if err != nil {
		return df, fmt.Errorf("%s: %w", filePath, err)
	}
	return df, nil
}

// convertSheetToDataFrame turns a header row plus data rows into string series.
func convertSheetToDataFrame(sheet *xlsx.Sheet) (dataframe.DataFrame, error) {
	if len(sheet.Rows) < 2 {
		return dataframe.New(), fmt.Errorf("sheet %q has no data rows", sheet.Name)
	}

	var headers []string
	for _, cell := range sheet.Rows[0].Cells {
		headers = append(headers, strings.TrimSpace(cell.String()))
	}
	// trailing empty header cells are formatting leftovers
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}

	columns := make([][]string, len(headers))
	for i := range columns {
		columns[i] = make([]string, 0, len(sheet.Rows)-1)
	}

	for _, row := range sheet.Rows[1:] {
		if row == nil || isBlankRow(row) {
			continue
		}
		for i := range headers {
			value := ""
			if i < len(row.Cells) {
				value = row.Cells[i].String()
			}
			columns[i] = append(columns[i], value)
		}
	}

	seriesList := make([]series.Series, len(headers))
	for i, colName := range headers {
		seriesList[i] = series.New(columns[i], series.String, colName)
	}

	df := dataframe.New(seriesList...)
	return df, df.Err
}

func isBlankRow(row *xlsx.Row) bool {
	for _, cell := range row.Cells {
		if strings.TrimSpace(cell.String()) != "" {
			return false
		}
	}
	return true
}
