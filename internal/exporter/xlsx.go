package exporter

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet is the sheet name used when none is given
const DefaultSheet = "Sheet1"

// EncodeXLSX writes t as a single sheet workbook to w. Numeric columns are
// stored as numbers and the header row is bold.
func EncodeXLSX(w io.Writer, sheet string, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = DefaultSheet
	}
	if sheet != DefaultSheet {
		if err := f.SetSheetName(DefaultSheet, sheet); err != nil {
			return fmt.Errorf("failed to name sheet: %w", err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if len(t.Headers) > 0 {
		header := make([]interface{}, len(t.Headers))
		for i, h := range t.Headers {
			header[i] = h
		}
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
		last, err := excelize.CoordinatesToCellName(len(t.Headers), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
			return fmt.Errorf("failed to style headers: %w", err)
		}
	}

	for i, record := range t.Rows {
		row := make([]interface{}, len(record))
		for col, v := range record {
			row[col] = cellValue(t.Numeric[col], v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func cellValue(numeric bool, v string) interface{} {
	if !numeric || v == "" {
		return v
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// SaveXLSX writes t to filename in the exports directory and returns the
// full path
func (w *Writer) SaveXLSX(filename, sheet string, t Table) (string, error) {
	return w.save(filename, len(t.Rows), func(f io.Writer) error {
		return EncodeXLSX(f, sheet, t)
	})
}
