package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"jersey-dashboard/models"
)

// Workbook sheet names, in the order they are written.
const (
	SheetSummary        = "Summary"
	SheetBrands         = "Avg Price by Brand"
	SheetCities         = "Listings by City"
	SheetFits           = "Fit Distribution"
	SheetTopBrands      = "Top Brands"
	SheetTopBrandPrices = "Top Brand Prices"
)

// WorkbookExporter writes every derived table of a report to its own sheet.
type WorkbookExporter struct{}

func NewWorkbookExporter() *WorkbookExporter { return &WorkbookExporter{} }

// Export streams the workbook to w.
func (e *WorkbookExporter) Export(w io.Writer, report *models.DashboardReport) error {
	f, err := e.build(report)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx: write workbook: %w", err)
	}
	return nil
}

// SaveAs writes the workbook to path, creating parent directories.
func (e *WorkbookExporter) SaveAs(path string, report *models.DashboardReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("xlsx: create output dir: %w", err)
	}

	f, err := e.build(report)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx: save %q: %w", path, err)
	}
	return nil
}

func (e *WorkbookExporter) build(r *models.DashboardReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsx: rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"0074D9"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsx: header style: %w", err)
	}

	summary := [][]interface{}{
		{"Source", r.Source},
		{"Generated At", r.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Rows Read", r.RawRows},
		{"Rows Dropped", r.DroppedRows},
		{"Total Listings", r.TotalListings},
	}

	brands := make([][]interface{}, 0, len(r.AvgPriceByBrand))
	for _, b := range r.AvgPriceByBrand {
		brands = append(brands, []interface{}{b.Brand, b.AveragePrice})
	}
	cities := make([][]interface{}, 0, len(r.ListingsByCity))
	for _, c := range r.ListingsByCity {
		cities = append(cities, []interface{}{c.City, c.Listings})
	}
	fits := make([][]interface{}, 0, len(r.FitDistribution))
	for _, ft := range r.FitDistribution {
		fits = append(fits, []interface{}{ft.Fit, ft.Count})
	}
	top := make([][]interface{}, 0, len(r.TopBrands))
	for _, b := range r.TopBrands {
		top = append(top, []interface{}{b.Brand, b.Listings})
	}
	topPrices := make([][]interface{}, 0, len(r.TopBrandPrices))
	for _, b := range r.TopBrandPrices {
		topPrices = append(topPrices, []interface{}{b.Brand, b.AveragePrice})
	}

	sheets := []struct {
		name   string
		header []interface{}
		rows   [][]interface{}
	}{
		{SheetSummary, []interface{}{"Metric", "Value"}, summary},
		{SheetBrands, []interface{}{"Brand", "Average Price"}, brands},
		{SheetCities, []interface{}{"City", "Number of Listings"}, cities},
		{SheetFits, []interface{}{"Fit", "Count"}, fits},
		{SheetTopBrands, []interface{}{"Brand", "Number of Listings"}, top},
		{SheetTopBrandPrices, []interface{}{"Brand", "Average Price"}, topPrices},
	}

	for i, s := range sheets {
		if i > 0 {
			if _, err := f.NewSheet(s.name); err != nil {
				f.Close()
				return nil, fmt.Errorf("xlsx: new sheet %q: %w", s.name, err)
			}
		}
		if err := writeTable(f, s.name, s.header, s.rows, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeTable(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("xlsx: %s header: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("xlsx: %s header style: %w", sheet, err)
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx: %s row %d: %w", sheet, i+1, err)
		}
	}
	return f.SetColWidth(sheet, "A", "B", 24)
}
