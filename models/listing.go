package models

import "time"

// RawListing holds one unprocessed row of the spreadsheet export. Values are
// kept exactly as read; the cleaner decides what counts as missing.
type RawListing struct {
	Row       int
	ListPrice string
	Brand     string
	City      string
	Fit       string
	Extra     map[string]string
}

// Listing is a cleaned, validated jersey listing.
type Listing struct {
	ID        int64     `json:"id,omitempty"`
	Brand     string    `json:"brand"`
	City      string    `json:"city"`
	Fit       string    `json:"fit"`
	ListPrice float64   `json:"list_price"`
	CreatedAt time.Time `json:"-"`
}

// BrandPrice is the mean list price of one brand.
type BrandPrice struct {
	Brand        string  `json:"brand"`
	AveragePrice float64 `json:"average_price"`
}

// CityCount is the number of listings in one city.
type CityCount struct {
	City     string `json:"city"`
	Listings int    `json:"listings"`
}

// FitCount is the number of listings with one fit.
type FitCount struct {
	Fit   string `json:"fit"`
	Count int    `json:"count"`
}

// BrandCount is the number of listings of one brand.
type BrandCount struct {
	Brand    string `json:"brand"`
	Listings int    `json:"listings"`
}

// DashboardReport holds every derived table computed from one load of the
// input file. A report is never modified after it is generated.
type DashboardReport struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	GeneratedAt time.Time `json:"generated_at"`

	RawRows       int `json:"raw_rows"`
	TotalListings int `json:"total_listings"`
	DroppedRows   int `json:"dropped_rows"`
	TopN          int `json:"top_n"`

	AvgPriceByBrand []BrandPrice `json:"avg_price_by_brand"`
	ListingsByCity  []CityCount  `json:"listings_by_city"`
	FitDistribution []FitCount   `json:"fit_distribution"`
	TopBrands       []BrandCount `json:"top_brands"`
	TopBrandPrices  []BrandPrice `json:"top_brand_prices"`
}
