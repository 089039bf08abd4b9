package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"jersey-dashboard/models"
	"jersey-dashboard/utils"
)

const (
	colBrand     = "brand"
	colCity      = "city"
	colFit       = "fit"
	colListPrice = "list_price"

	DefaultTopN = 5
)

// InsightService computes the dashboard tables from cleaned listings.
type InsightService struct {
	logger *utils.Logger
	topN   int
	out    io.Writer
}

func NewInsightService(logger *utils.Logger, topN int) *InsightService {
	if topN < 1 {
		topN = DefaultTopN
	}
	return &InsightService{logger: logger, topN: topN, out: os.Stdout}
}

// groupStat is one row of a group-by over list_price.
type groupStat struct {
	key   string
	mean  float64
	count int
	first int
}

// Generate builds the report tables. Value counts are ordered by count
// descending with ties in order of first appearance.
func (s *InsightService) Generate(listings []*models.Listing) (*models.DashboardReport, error) {
	report := &models.DashboardReport{
		TotalListings:   len(listings),
		TopN:            s.topN,
		AvgPriceByBrand: []models.BrandPrice{},
		ListingsByCity:  []models.CityCount{},
		FitDistribution: []models.FitCount{},
		TopBrands:       []models.BrandCount{},
		TopBrandPrices:  []models.BrandPrice{},
	}
	if len(listings) == 0 {
		s.logger.Warn("[insights] No listings to aggregate")
		return report, nil
	}

	df := listingsFrame(listings)
	if df.Err != nil {
		return nil, fmt.Errorf("insights: build frame: %w", df.Err)
	}

	brands, err := aggregateBy(df, colBrand)
	if err != nil {
		return nil, err
	}
	cities, err := aggregateBy(df, colCity)
	if err != nil {
		return nil, err
	}
	fits, err := aggregateBy(df, colFit)
	if err != nil {
		return nil, err
	}

	sort.Slice(brands, func(i, j int) bool { return brands[i].key < brands[j].key })
	for _, b := range brands {
		report.AvgPriceByBrand = append(report.AvgPriceByBrand, models.BrandPrice{Brand: b.key, AveragePrice: b.mean})
	}

	sortByCount(cities)
	for _, c := range cities {
		report.ListingsByCity = append(report.ListingsByCity, models.CityCount{City: c.key, Listings: c.count})
	}

	sortByCount(fits)
	for _, f := range fits {
		report.FitDistribution = append(report.FitDistribution, models.FitCount{Fit: f.key, Count: f.count})
	}

	sortByCount(brands)
	top := brands
	if len(top) > s.topN {
		top = top[:s.topN]
	}
	for _, b := range top {
		report.TopBrands = append(report.TopBrands, models.BrandCount{Brand: b.key, Listings: b.count})
		report.TopBrandPrices = append(report.TopBrandPrices, models.BrandPrice{Brand: b.key, AveragePrice: b.mean})
	}
	sort.SliceStable(report.TopBrandPrices, func(i, j int) bool {
		return report.TopBrandPrices[i].AveragePrice > report.TopBrandPrices[j].AveragePrice
	})

	s.logger.Debug("[insights] %d brands, %d cities, %d fits", len(brands), len(cities), len(fits))
	return report, nil
}

func listingsFrame(listings []*models.Listing) dataframe.DataFrame {
	brands := make([]string, len(listings))
	cities := make([]string, len(listings))
	fits := make([]string, len(listings))
	prices := make([]float64, len(listings))
	for i, l := range listings {
		brands[i], cities[i], fits[i], prices[i] = l.Brand, l.City, l.Fit, l.ListPrice
	}
	return dataframe.New(
		series.New(brands, series.String, colBrand),
		series.New(cities, series.String, colCity),
		series.New(fits, series.String, colFit),
		series.New(prices, series.Float, colListPrice),
	)
}

// aggregateBy groups df by col and returns mean price and row count per
// group. gota returns groups in map order, so first appearance is recorded
// separately to make ordering deterministic.
func aggregateBy(df dataframe.DataFrame, col string) ([]groupStat, error) {
	groups := df.GroupBy(col)
	if groups.Err != nil {
		return nil, fmt.Errorf("insights: group by %s: %w", col, groups.Err)
	}
	agg := groups.Aggregation(
		[]dataframe.AggregationType{dataframe.Aggregation_MEAN, dataframe.Aggregation_COUNT},
		[]string{colListPrice, colListPrice},
	)
	if agg.Err != nil {
		return nil, fmt.Errorf("insights: aggregate by %s: %w", col, agg.Err)
	}

	first := make(map[string]int)
	for i, v := range df.Col(col).Records() {
		if _, ok := first[v]; !ok {
			first[v] = i
		}
	}

	keys := agg.Col(col).Records()
	means := agg.Col(colListPrice + "_MEAN").Float()
	counts := agg.Col(colListPrice + "_COUNT").Float()

	stats := make([]groupStat, len(keys))
	for i, k := range keys {
		stats[i] = groupStat{key: k, mean: means[i], count: int(counts[i]), first: first[k]}
	}
	return stats, nil
}

func sortByCount(stats []groupStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].count != stats[j].count {
			return stats[i].count > stats[j].count
		}
		return stats[i].first < stats[j].first
	})
}

// Print writes a terminal summary of the report.
func (s *InsightService) Print(r *models.DashboardReport) {
	w := s.out
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  SPORTS JERSEY LISTINGS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Source         : %s\n", r.Source)
	fmt.Fprintf(w, "  Rows read      : \033[1m%s\033[0m\n", utils.FormatCount(r.RawRows))
	fmt.Fprintf(w, "  Rows dropped   : \033[1m%s\033[0m\n", utils.FormatCount(r.DroppedRows))
	fmt.Fprintf(w, "  Total listings : \033[1m%s\033[0m\n\n", utils.FormatCount(r.TotalListings))

	fmt.Fprintf(w, "\033[1;33m  Top %d Brands: Average Price\033[0m\n", r.TopN)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopBrandPrices) == 0 {
		fmt.Fprintf(w, "  No listings\n")
	}
	counts := make(map[string]int, len(r.TopBrands))
	for _, b := range r.TopBrands {
		counts[b.Brand] = b.Listings
	}
	for i, b := range r.TopBrandPrices {
		fmt.Fprintf(w, "  \033[1m%d.\033[0m %-30s \033[1;32m%10s\033[0m  (%s listings)\n",
			i+1, truncate(b.Brand, 28), utils.FormatPrice(b.AveragePrice), utils.FormatCount(counts[b.Brand]))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by City\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, c := range r.ListingsByCity {
		fmt.Fprintf(w, "  %-30s %s\n", truncate(c.City, 28), utils.FormatCount(c.Listings))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Fit Distribution\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, f := range r.FitDistribution {
		share := 0.0
		if r.TotalListings > 0 {
			share = float64(f.Count) * 100 / float64(r.TotalListings)
		}
		fmt.Fprintf(w, "  %-30s %s (%.1f%%)\n", truncate(f.Fit, 28), utils.FormatCount(f.Count), share)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
