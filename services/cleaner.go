package services

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"jersey-dashboard/models"
	"jersey-dashboard/utils"
)

// naTokens are the cell values spreadsheet tools and pandas read as missing.
var naTokens = map[string]struct{}{
	"NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"null": {}, "NULL": {}, "None": {}, "<NA>": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {},
	"1.#IND": {}, "1.#QNAN": {}, "-1.#IND": {}, "-1.#QNAN": {},
}

// DropReason says why a row did not survive cleaning.
type DropReason string

const (
	DropMissingField DropReason = "missing_field"
	DropBadPrice     DropReason = "bad_price"
)

// CleanStats summarises one Clean call.
type CleanStats struct {
	Read    int
	Kept    int
	Dropped map[DropReason]int
}

// DroppedTotal returns the number of rows removed for any reason.
func (s CleanStats) DroppedTotal() int {
	n := 0
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

// Cleaner transforms RawListings into clean, validated Listings.
type Cleaner struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger, now: time.Now}
}

// Clean drops rows missing any required field, then rows whose price does
// not parse as a finite number. Survivors keep their input order.
func (c *Cleaner) Clean(raw []*models.RawListing) ([]*models.Listing, CleanStats) {
	stats := CleanStats{Read: len(raw), Dropped: make(map[DropReason]int)}
	result := make([]*models.Listing, 0, len(raw))
	now := c.now()

	for _, r := range raw {
		brand, city, fit := normaliseText(r.Brand), normaliseText(r.City), normaliseText(r.Fit)
		price := strings.TrimSpace(r.ListPrice)
		if isMissing(price) || isMissing(brand) || isMissing(city) || isMissing(fit) {
			stats.Dropped[DropMissingField]++
			c.logger.Debug("[cleaner] Row %d dropped: missing required field", r.Row)
			continue
		}

		value, ok := parsePrice(price)
		if !ok {
			stats.Dropped[DropBadPrice]++
			c.logger.Debug("[cleaner] Row %d dropped: list_price %q is not numeric", r.Row, price)
			continue
		}

		result = append(result, &models.Listing{
			Brand:     brand,
			City:      city,
			Fit:       fit,
			ListPrice: value,
			CreatedAt: now,
		})
	}

	stats.Kept = len(result)
	c.logger.Info("[cleaner] Cleaned %d -> %d listings (missing fields: %d, bad price: %d)",
		stats.Read, stats.Kept, stats.Dropped[DropMissingField], stats.Dropped[DropBadPrice])
	return result, stats
}

// parsePrice accepts plain decimal numbers only. Currency symbols and
// thousands separators are coercion failures.
func parsePrice(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isMissing(s string) bool {
	if s == "" {
		return true
	}
	_, na := naTokens[s]
	return na
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}
