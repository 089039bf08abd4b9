package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"jersey-dashboard/models"
	"jersey-dashboard/services"
	"jersey-dashboard/storage"
	"jersey-dashboard/utils"
)

func sampleReport() *models.DashboardReport {
	return &models.DashboardReport{
		ID:            "6c1f0b7e-0000-4000-8000-000000000001",
		Source:        "DSG_final.csv",
		GeneratedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		RawRows:       1300,
		TotalListings: 1234,
		DroppedRows:   66,
		TopN:          5,
		AvgPriceByBrand: []models.BrandPrice{
			{Brand: "Adidas", AveragePrice: 25},
			{Brand: "Mitchell & Ness", AveragePrice: 150},
			{Brand: "Nike", AveragePrice: 50},
		},
		ListingsByCity: []models.CityCount{
			{City: "Boston", Listings: 700},
			{City: "Pittsburgh", Listings: 534},
		},
		FitDistribution: []models.FitCount{
			{Fit: "Regular", Count: 1000},
			{Fit: "Slim", Count: 234},
		},
		TopBrands: []models.BrandCount{
			{Brand: "Nike", Listings: 1100},
			{Brand: "Adidas", Listings: 100},
			{Brand: "Mitchell & Ness", Listings: 34},
		},
		TopBrandPrices: []models.BrandPrice{
			{Brand: "Mitchell & Ness", AveragePrice: 150},
			{Brand: "Nike", AveragePrice: 50},
			{Brand: "Adidas", AveragePrice: 25},
		},
	}
}

func emptyReport() *models.DashboardReport {
	return &models.DashboardReport{ID: "empty", TopN: 5}
}

type stubLoader struct {
	mu      sync.Mutex
	results []*services.LoadResult
	errs    []error
	calls   int
}

func (l *stubLoader) Run(context.Context) (*services.LoadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.calls
	l.calls++
	if i < len(l.errs) && l.errs[i] != nil {
		return nil, l.errs[i]
	}
	return l.results[i], nil
}

func loadResult(r *models.DashboardReport) *services.LoadResult {
	return &services.LoadResult{
		Report: r,
		Stats: services.CleanStats{
			Read:    r.RawRows,
			Kept:    r.TotalListings,
			Dropped: map[services.DropReason]int{services.DropMissingField: r.DroppedRows},
		},
	}
}

func newTestState(t *testing.T, loader Loader) (*State, *Metrics) {
	t.Helper()
	logger := utils.NewDiscardLogger()
	metrics := NewMetrics()
	return NewState(loader, NewChartRenderer(2, logger, metrics), metrics, logger), metrics
}

func TestRenderAllCharts(t *testing.T) {
	charts, err := NewChartRenderer(4, utils.NewDiscardLogger(), nil).RenderAll(sampleReport())
	require.NoError(t, err)

	require.Len(t, charts, len(ChartNames))
	for _, name := range ChartNames {
		svg := string(charts[name])
		assert.True(t, strings.HasPrefix(svg, "<svg"), name)
		assert.NotContains(t, svg, "No data", name)
	}
	brands := string(charts[ChartAvgPriceBrand])
	assert.Contains(t, brands, "$150.00")
	assert.Contains(t, brands, "&amp;")
	assert.NotContains(t, brands, "& ")
	assert.Contains(t, string(charts[ChartTopBrandPrices]), "Average Price of Top 5 Brands")
}

func TestRenderAllChartsEmptyReport(t *testing.T) {
	charts, err := NewChartRenderer(2, utils.NewDiscardLogger(), nil).RenderAll(emptyReport())
	require.NoError(t, err)

	for _, name := range ChartNames {
		assert.Contains(t, string(charts[name]), "No data", name)
	}
}

func TestRenderChartsDegenerateRanges(t *testing.T) {
	r := &models.DashboardReport{
		ID:              "single",
		TopN:            5,
		AvgPriceByBrand: []models.BrandPrice{{Brand: "Nike", AveragePrice: 0}},
		ListingsByCity:  []models.CityCount{{City: "Erie", Listings: 3}, {City: "Boston", Listings: 3}},
		FitDistribution: []models.FitCount{{Fit: "Slim", Count: 6}},
		TopBrands:       []models.BrandCount{{Brand: "Nike", Listings: 6}},
		TopBrandPrices:  []models.BrandPrice{{Brand: "Nike", AveragePrice: 0}},
	}

	charts, err := NewChartRenderer(1, utils.NewDiscardLogger(), nil).RenderAll(r)
	require.NoError(t, err)
	assert.Len(t, charts, len(ChartNames))
}

func TestYRange(t *testing.T) {
	tests := []struct {
		in     []float64
		lo, hi float64
	}{
		{[]float64{10, 20}, 0, 22},
		{[]float64{0}, 0, 1},
		{[]float64{-10, 10}, -11, 11},
		{nil, 0, 1},
	}
	for _, tt := range tests {
		lo, hi := yRange(tt.in)
		assert.InDelta(t, tt.lo, lo, 1e-9)
		assert.InDelta(t, tt.hi, hi, 1e-9)
	}
}

func TestStateLoadKeepsPreviousOnError(t *testing.T) {
	first := sampleReport()
	loader := &stubLoader{
		results: []*services.LoadResult{loadResult(first), nil},
		errs:    []error{nil, errors.New("disk on fire")},
	}
	state, metrics := newTestState(t, loader)

	assert.Nil(t, state.Report())

	_, err := state.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, state.Report())

	err = state.Reload(context.Background(), services.TriggerFile)
	require.Error(t, err)
	assert.Same(t, first, state.Report())

	svg, err := state.Chart("", ChartFitDistribution)
	require.NoError(t, err)
	assert.NotEmpty(t, svg)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reloads.WithLabelValues(services.TriggerFile, "error")))
	assert.Equal(t, 1300.0, testutil.ToFloat64(metrics.rowsRead))
	assert.Equal(t, 1234.0, testutil.ToFloat64(metrics.listingsLoaded))
}

func TestStateReloadSwapsSnapshot(t *testing.T) {
	first, second := sampleReport(), sampleReport()
	second.ID = "second"
	second.TotalListings = 10
	loader := &stubLoader{results: []*services.LoadResult{loadResult(first), loadResult(second)}}
	state, metrics := newTestState(t, loader)

	_, err := state.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, state.Reload(context.Background(), services.TriggerSchedule))

	assert.Equal(t, "second", state.Report().ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reloads.WithLabelValues(services.TriggerSchedule, "ok")))
}

func TestStateRetainsRecentCharts(t *testing.T) {
	var results []*services.LoadResult
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		r := sampleReport()
		r.ID = id
		r.ListingsByCity = []models.CityCount{{City: "City-" + id, Listings: 5}}
		results = append(results, loadResult(r))
	}
	state, _ := newTestState(t, &stubLoader{results: results})

	for range results {
		_, err := state.Load(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, "r4", state.Report().ID)

	for _, id := range []string{"r2", "r3", "r4"} {
		svg, err := state.Chart(id, ChartListingsCity)
		require.NoError(t, err, id)
		assert.Contains(t, string(svg), "City-"+id)
	}
	current, err := state.Chart("", ChartListingsCity)
	require.NoError(t, err)
	assert.Contains(t, string(current), "City-r4")

	_, err = state.Chart("r1", ChartListingsCity)
	assert.ErrorIs(t, err, ErrReportGone)
	_, err = state.Chart("r4", "nope")
	assert.ErrorIs(t, err, ErrUnknownChart)
}

func TestChartRendererConcurrentRenders(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < cap(errs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			renderer := NewChartRenderer(4, utils.NewDiscardLogger(), nil)
			_, err := renderer.RenderAll(sampleReport())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.NotNil(t, NewChartRenderer(1, utils.NewDiscardLogger(), nil).font)
}

func newTestServer(t *testing.T, report *models.DashboardReport) *httptest.Server {
	t.Helper()
	state, metrics := newTestState(t, &stubLoader{})
	if report != nil {
		require.NoError(t, state.Publish(report))
	}
	srv := NewServer(ServerOptions{
		Title:           "Sports Jerseys Aggregation Dashboard",
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: time.Second,
	}, state, metrics, storage.NewWorkbookExporter(), utils.NewDiscardLogger())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestServerIndex(t *testing.T) {
	ts := newTestServer(t, sampleReport())

	resp, body := get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	page := string(body)
	assert.Contains(t, page, "<h1>Sports Jerseys Aggregation Dashboard</h1>")
	assert.Contains(t, page, "Total Listings: 1,234")
	assert.Contains(t, page, "Top 5 Brands: Average Price")
	assert.Contains(t, page, "<td>Mitchell &amp; Ness</td><td>34</td>")
	assert.Contains(t, page, "<td>Nike</td><td>1,100</td>")
	assert.Contains(t, page, "#0074D9")
	assert.Contains(t, page, "rgb(248, 248, 248)")
	for _, name := range ChartNames {
		assert.Contains(t, page, "/charts/"+name+".svg")
	}
	assert.Less(t, strings.Index(page, "<td>Nike</td>"), strings.Index(page, "<td>Adidas</td>"))
}

func TestServerNotLoaded(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"status":"loading","listings":0}`, string(body))
}

func TestServerCharts(t *testing.T) {
	ts := newTestServer(t, sampleReport())

	resp, body := get(t, ts.URL+"/charts/listings-city.svg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("<svg")))

	resp, body = get(t, ts.URL+"/charts/nope.svg")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), `unknown chart \"nope\"`)
}

func TestServerChartsFollowReportID(t *testing.T) {
	first, second := sampleReport(), sampleReport()
	first.ID = "first"
	first.ListingsByCity = []models.CityCount{{City: "Erie", Listings: 4}}
	second.ID = "second"
	second.ListingsByCity = []models.CityCount{{City: "Scranton", Listings: 9}}

	state, metrics := newTestState(t, &stubLoader{})
	require.NoError(t, state.Publish(first))
	require.NoError(t, state.Publish(second))
	srv := NewServer(ServerOptions{Title: "t", RequestTimeout: 5 * time.Second, ShutdownTimeout: time.Second},
		state, metrics, storage.NewWorkbookExporter(), utils.NewDiscardLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/charts/listings-city.svg?v=first")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Erie")
	assert.NotContains(t, string(body), "Scranton")
	assert.Contains(t, resp.Header.Get("Cache-Control"), "immutable")

	resp, body = get(t, ts.URL+"/charts/listings-city.svg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Scranton")
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	resp, _ = get(t, ts.URL+"/charts/listings-city.svg?v=long-gone")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestServerReportAPI(t *testing.T) {
	ts := newTestServer(t, sampleReport())

	resp, body := get(t, ts.URL+"/api/report")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.DashboardReport
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 1234, got.TotalListings)
	assert.Equal(t, sampleReport().TopBrands, got.TopBrands)
}

func TestServerSummaryAPI(t *testing.T) {
	ts := newTestServer(t, sampleReport())

	tests := []struct {
		table string
		want  string
	}{
		{TableBrands, `[{"brand":"Adidas","average_price":25},{"brand":"Mitchell & Ness","average_price":150},{"brand":"Nike","average_price":50}]`},
		{TableCities, `[{"city":"Boston","listings":700},{"city":"Pittsburgh","listings":534}]`},
		{TableFits, `[{"fit":"Regular","count":1000},{"fit":"Slim","count":234}]`},
		{TableTopBrands, `[{"brand":"Nike","listings":1100},{"brand":"Adidas","listings":100},{"brand":"Mitchell & Ness","listings":34}]`},
		{TableTopBrandPrices, `[{"brand":"Mitchell & Ness","average_price":150},{"brand":"Nike","average_price":50},{"brand":"Adidas","average_price":25}]`},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			resp, body := get(t, ts.URL+"/api/summary/"+tt.table)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, tt.want, string(body))
		})
	}

	resp, body := get(t, ts.URL+"/api/summary/colours")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"unknown table \"colours\""}`, string(body))
}

func TestServerExport(t *testing.T) {
	ts := newTestServer(t, sampleReport())

	resp, body := get(t, ts.URL+"/export.xlsx")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "jersey-dashboard-20240501-120000.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), storage.SheetTopBrands)
}

func TestServerHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, sampleReport())

	resp, body := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","report_id":"6c1f0b7e-0000-4000-8000-000000000001","listings":1234}`, string(body))

	resp, body = get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "jersey_dashboard_chart_renders_total")
	assert.Contains(t, string(body), `route="/healthz"`)
}

func TestServerUnknownRoute(t *testing.T) {
	ts := newTestServer(t, sampleReport())

	resp, body := get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"not found"}`, string(body))
}

func TestServerGracefulShutdown(t *testing.T) {
	state, metrics := newTestState(t, &stubLoader{})
	require.NoError(t, state.Publish(sampleReport()))
	srv := NewServer(ServerOptions{Title: "t", ShutdownTimeout: time.Second}, state, metrics,
		storage.NewWorkbookExporter(), utils.NewDiscardLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, _ := get(t, "http://"+ln.Addr().String()+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
