package dashboard

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"sort"
	"sync"

	"github.com/golang/freetype/truetype"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"jersey-dashboard/models"
	"jersey-dashboard/utils"
)

// Chart names, used in /charts/{name}.svg.
const (
	ChartAvgPriceBrand   = "avg-price-brand"
	ChartListingsCity    = "listings-city"
	ChartFitDistribution = "fit-distribution"
	ChartTopBrandPrices  = "top5-average-price"
)

// ChartNames lists every chart in page order.
var ChartNames = []string{ChartAvgPriceBrand, ChartListingsCity, ChartFitDistribution, ChartTopBrandPrices}

const (
	chartWidth  = 640
	chartHeight = 420
	barSlot     = 70
)

// ChartSet maps a chart name to its rendered SVG.
type ChartSet map[string][]byte

// ChartRenderer draws the dashboard charts for one report.
type ChartRenderer struct {
	workers int
	logger  *utils.Logger
	metrics *Metrics
	font    *truetype.Font
	fontErr error
}

// NewChartRenderer resolves the chart font up front. go-chart loads its
// default font into an unguarded global on first use, so concurrent renders
// must never reach that path.
func NewChartRenderer(workers int, logger *utils.Logger, metrics *Metrics) *ChartRenderer {
	font, err := chart.GetDefaultFont()
	return &ChartRenderer{workers: workers, logger: logger, metrics: metrics, font: font, fontErr: err}
}

// RenderAll renders every chart concurrently. Any single failure fails the set.
func (c *ChartRenderer) RenderAll(r *models.DashboardReport) (ChartSet, error) {
	if c.fontErr != nil {
		return nil, fmt.Errorf("chart font: %w", c.fontErr)
	}
	jobs := map[string]func(*models.DashboardReport, *truetype.Font) ([]byte, error){
		ChartAvgPriceBrand:   avgPriceByBrandChart,
		ChartListingsCity:    listingsByCityChart,
		ChartFitDistribution: fitDistributionChart,
		ChartTopBrandPrices:  topBrandPricesChart,
	}

	var (
		mu       sync.Mutex
		firstErr error
		set      = make(ChartSet, len(jobs))
	)
	pool := utils.NewWorkerPool(c.workers)
	for _, name := range ChartNames {
		name := name
		render := jobs[name]
		pool.Submit(func() {
			svg, err := render(r, c.font)
			c.metrics.ObserveChart(name, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("chart %s: %w", name, err)
				}
				return
			}
			set[name] = svg
		})
	}
	pool.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	c.logger.Debug("[charts] Rendered %d charts for report %s", len(set), r.ID)
	return set, nil
}

func avgPriceByBrandChart(r *models.DashboardReport, font *truetype.Font) ([]byte, error) {
	const title = "Average Listing Price by Brand"
	if len(r.AvgPriceByBrand) == 0 {
		return placeholderSVG(title), nil
	}

	rows := make([]models.BrandPrice, len(r.AvgPriceByBrand))
	copy(rows, r.AvgPriceByBrand)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].AveragePrice > rows[j].AveragePrice })

	bars := make([]chart.Value, len(rows))
	values := make([]float64, len(rows))
	for i, b := range rows {
		bars[i] = chart.Value{
			Label: svgText(fmt.Sprintf("%s $%.2f", b.Brand, b.AveragePrice)),
			Value: b.AveragePrice,
			Style: chart.Style{FillColor: chart.GetDefaultColor(i), StrokeColor: chart.GetDefaultColor(i)},
		}
		values[i] = b.AveragePrice
	}
	return renderBars(title, font, bars, values, priceTick)
}

func listingsByCityChart(r *models.DashboardReport, font *truetype.Font) ([]byte, error) {
	const title = "Number of Listings by City"
	if len(r.ListingsByCity) == 0 {
		return placeholderSVG(title), nil
	}

	lo, hi := math.MaxFloat64, -math.MaxFloat64
	for _, c := range r.ListingsByCity {
		lo = math.Min(lo, float64(c.Listings))
		hi = math.Max(hi, float64(c.Listings))
	}

	bars := make([]chart.Value, len(r.ListingsByCity))
	values := make([]float64, len(r.ListingsByCity))
	for i, c := range r.ListingsByCity {
		fill := viridis(float64(c.Listings), lo, hi)
		bars[i] = chart.Value{
			Label: svgText(c.City),
			Value: float64(c.Listings),
			Style: chart.Style{FillColor: fill, StrokeColor: fill},
		}
		values[i] = float64(c.Listings)
	}
	return renderBars(title, font, bars, values, countTick)
}

func fitDistributionChart(r *models.DashboardReport, font *truetype.Font) ([]byte, error) {
	const title = "Distribution of Jersey Fits"
	if len(r.FitDistribution) == 0 {
		return placeholderSVG(title), nil
	}

	values := make([]chart.Value, len(r.FitDistribution))
	for i, f := range r.FitDistribution {
		values[i] = chart.Value{
			Label: svgText(fmt.Sprintf("%s (%d)", f.Fit, f.Count)),
			Value: float64(f.Count),
		}
	}

	donut := chart.DonutChart{
		Title:  svgText(title),
		Font:   font,
		Width:  chartWidth,
		Height: chartHeight,
		Values: values,
	}
	var buf bytes.Buffer
	if err := donut.Render(chart.SVG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func topBrandPricesChart(r *models.DashboardReport, font *truetype.Font) ([]byte, error) {
	title := fmt.Sprintf("Average Price of Top %d Brands", r.TopN)
	if len(r.TopBrandPrices) == 0 {
		return placeholderSVG(title), nil
	}

	bars := make([]chart.Value, len(r.TopBrandPrices))
	values := make([]float64, len(r.TopBrandPrices))
	for i, b := range r.TopBrandPrices {
		bars[i] = chart.Value{
			Label: svgText(fmt.Sprintf("%s $%.2f", b.Brand, b.AveragePrice)),
			Value: b.AveragePrice,
			Style: chart.Style{FillColor: chart.GetDefaultColor(i), StrokeColor: chart.GetDefaultColor(i)},
		}
		values[i] = b.AveragePrice
	}
	return renderBars(title, font, bars, values, priceTick)
}

// renderBars draws a bar chart with a y-range anchored at zero. go-chart
// refuses zero-height ranges, which a single bar or equal values produce.
func renderBars(title string, font *truetype.Font, bars []chart.Value, values []float64, tick chart.ValueFormatter) ([]byte, error) {
	lo, hi := yRange(values)

	width := chartWidth
	if w := barSlot * len(bars); w > width {
		width = w
	}

	bc := chart.BarChart{
		Title:    svgText(title),
		Font:     font,
		Width:    width,
		Height:   chartHeight,
		BarWidth: 40,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		YAxis: chart.YAxis{
			Range:          &chart.ContinuousRange{Min: lo, Max: hi},
			ValueFormatter: tick,
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := bc.Render(chart.SVG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// yRange returns a range that contains zero and every value, with headroom.
func yRange(values []float64) (float64, float64) {
	lo, hi := 0.0, 0.0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi > 0 {
		hi *= 1.1
	}
	if lo < 0 {
		lo *= 1.1
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

func viridis(v, lo, hi float64) drawing.Color {
	if hi <= lo {
		return chart.Viridis(1, 0, 1)
	}
	return chart.Viridis(v, lo, hi)
}

func priceTick(v interface{}) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("$%.0f", f)
	}
	return ""
}

func countTick(v interface{}) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.0f", f)
	}
	return ""
}

// svgText escapes s for go-chart, which writes text nodes verbatim.
func svgText(s string) string {
	return html.EscapeString(s)
}

func placeholderSVG(title string) []byte {
	return []byte(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d">`+
		`<rect width="100%%" height="100%%" fill="#ffffff"/>`+
		`<text x="50%%" y="40" text-anchor="middle" font-family="Arial, sans-serif" font-size="18">%s</text>`+
		`<text x="50%%" y="50%%" text-anchor="middle" font-family="Arial, sans-serif" font-size="14" fill="#888888">No data</text>`+
		`</svg>`, chartWidth, chartHeight, svgText(title)))
}
