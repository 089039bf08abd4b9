package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"jersey-dashboard/models"
)

// ErrInputNotFound is returned when the configured input file does not exist.
var ErrInputNotFound = errors.New("input file not found")

// Required column names, matched case-insensitively against the header row.
const (
	ColListPrice = "list_price"
	ColBrand     = "brand"
	ColCity      = "city"
	ColFit       = "fit"
)

var requiredColumns = []string{ColListPrice, ColBrand, ColCity, ColFit}

// unnamedRegexp matches index columns left behind by spreadsheet round-trips.
var unnamedRegexp = regexp.MustCompile(`^(?i)unnamed:\s*\d+$`)

// NewListingReader returns a reader for path, chosen by file extension.
// A missing file yields an error wrapping ErrInputNotFound.
func NewListingReader(path, sheet string) (ListingReader, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (set INPUT_PATH or pass -input)", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("storage: stat %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &CSVReader{path: path}, nil
	case ".xlsx":
		return &XLSXReader{path: path, sheet: sheet}, nil
	default:
		return nil, fmt.Errorf("storage: unsupported input format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// CSVReader reads raw listings from a comma-separated export.
type CSVReader struct {
	path string
}

func (c *CSVReader) Path() string { return c.path }

// Read parses the whole file. Short rows are padded with empty cells and
// extra cells are ignored.
func (c *CSVReader) Read() ([]*models.RawListing, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", c.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: parse %q: %w", c.path, err)
	}
	return recordsToRaw(c.path, records)
}

// recordsToRaw maps a header row plus data rows onto RawListings. Shared by
// the CSV and workbook readers.
func recordsToRaw(path string, records [][]string) ([]*models.RawListing, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("storage: %s has no header row", path)
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" || unnamedRegexp.MatchString(h) {
			continue
		}
		header[i] = h
	}

	index := make(map[string]int, len(requiredColumns))
	for i, h := range header {
		if h == "" {
			continue
		}
		key := strings.ToLower(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("storage: %s is missing required column %q", path, col)
		}
	}

	cell := func(row []string, i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	out := make([]*models.RawListing, 0, len(records)-1)
	for n, row := range records[1:] {
		raw := &models.RawListing{
			Row:       n + 1,
			ListPrice: cell(row, index[ColListPrice]),
			Brand:     cell(row, index[ColBrand]),
			City:      cell(row, index[ColCity]),
			Fit:       cell(row, index[ColFit]),
		}
		for i, h := range header {
			if h == "" || isRequired(h) {
				continue
			}
			if raw.Extra == nil {
				raw.Extra = make(map[string]string)
			}
			raw.Extra[h] = cell(row, i)
		}
		out = append(out, raw)
	}
	return out, nil
}

func isRequired(header string) bool {
	h := strings.ToLower(header)
	for _, col := range requiredColumns {
		if h == col {
			return true
		}
	}
	return false
}
