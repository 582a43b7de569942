package utils

import (
	"fmt"
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"
)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// HasColumn reports whether df has a column called name.
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// newWorkbook copies df into sheetName of a fresh workbook: header row
// first, then one row per record.
func newWorkbook(df dataframe.DataFrame, sheetName string) (*excelize.File, error) {
	f := excelize.NewFile()

	if sheetName != "" && sheetName != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		sheetName = "Sheet1"
	}

	colNames := df.Names()
	for i, name := range colNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			f.Close()
			return nil, err
		}
	}

	for colIdx, colName := range colNames {
		col := df.Col(colName)
		for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, col.Val(rowIdx)); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	return f, nil
}

// WriteExcel streams df as an xlsx workbook to w.
func WriteExcel(df dataframe.DataFrame, sheetName string, w io.Writer) error {
	f, err := newWorkbook(df, sheetName)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveToExcel writes df as an xlsx workbook to filePath.
func SaveToExcel(df dataframe.DataFrame, sheetName, filePath string) error {
	f, err := newWorkbook(df, sheetName)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("save excel file: %w", err)
	}
	return nil
}
