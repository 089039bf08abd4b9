package storage

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"jersey-dashboard/models"
)

// XLSXReader reads raw listings from one sheet of an Excel workbook.
// An empty sheet name selects the first sheet.
type XLSXReader struct {
	path  string
	sheet string
}

func (x *XLSXReader) Path() string { return x.path }

func (x *XLSXReader) Read() ([]*models.RawListing, error) {
	f, err := excelize.OpenFile(x.path)
	if err != nil {
		return nil, fmt.Errorf("xlsx: open %q: %w", x.path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx: %s has no sheets", x.path)
	}

	sheet := sheets[0]
	if x.sheet != "" {
		found := false
		for _, s := range sheets {
			if s == x.sheet {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("xlsx: sheet %q not found in %s (have %v)", x.sheet, x.path, sheets)
		}
		sheet = x.sheet
	}

	// Raw values, so number formats like "#,##0.00" do not leak into prices.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("xlsx: read sheet %q: %w", sheet, err)
	}
	return recordsToRaw(x.path, rows)
}
