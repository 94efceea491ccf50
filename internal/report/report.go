// Package report renders the business directory as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"bizdir/pkg/domain"

	"github.com/xuri/excelize/v2"
)

// Sheet names.
const (
	SheetBusinesses = "Businesses"
	SheetHistory    = "History"
)

// BusinessHeader lists the columns of the Businesses sheet.
var BusinessHeader = []string{
	"Identifier", "Business Name", "Category", "Location", "District",
	"Phone Number", "Email", "Images", "Products",
}

// HistoryHeader lists the columns of the History sheet.
var HistoryHeader = []string{
	"Identifier", "Field", "Old Value", "New Value", "Actor", "Timestamp", "Request",
}

var columnWidths = map[string][]float64{
	SheetBusinesses: {14, 30, 18, 18, 18, 18, 28, 8, 10},
	SheetHistory:    {14, 18, 40, 40, 16, 22, 38},
}

// WriteDirectory writes one row per record and one row per history entry.
// Records are ordered by identifier.
func WriteDirectory(w io.Writer, records []domain.BusinessRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	sorted := append([]domain.BusinessRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if err := f.SetSheetName("Sheet1", SheetBusinesses); err != nil {
		return fmt.Errorf("rename default sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetHistory); err != nil {
		return fmt.Errorf("create history sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	var businessRows, historyRows [][]any
	for _, rec := range sorted {
		businessRows = append(businessRows, []any{
			rec.ID, rec.Name, rec.Category, rec.Location, rec.District,
			rec.Phone, rec.Email, len(rec.Images), len(rec.Products),
		})
		for _, h := range rec.History {
			historyRows = append(historyRows, []any{
				rec.ID, h.Field, h.OldValue, h.NewValue, h.Actor,
				h.Timestamp.UTC().Format(time.RFC3339), h.RequestID,
			})
		}
	}
	if err := writeSheet(f, SheetBusinesses, BusinessHeader, businessRows, headerStyle); err != nil {
		return err
	}
	if err := writeSheet(f, SheetHistory, HistoryHeader, historyRows, headerStyle); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any, style int) error {
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("set header %s!%s: %w", sheet, cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("style header %s!%s: %w", sheet, cell, err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if widths := columnWidths[sheet]; col < len(widths) {
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("set width %s!%s: %w", sheet, name, err)
			}
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
