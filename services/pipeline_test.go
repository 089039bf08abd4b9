package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"jersey-dashboard/models"
	"jersey-dashboard/storage"
)

const sampleCSV = `list_price,brand,city,fit,Unnamed: 4
45,Nike,Pittsburgh,Regular,0
,Nike,Pittsburgh,Regular,1
$30,Adidas,Boston,Slim,2
55,Nike,Boston,Slim,3
20,Adidas,Erie,NA,4
35,Adidas,Erie,Regular,5
`

type memoryStore struct {
	written []*models.Listing
	err     error
}

func (m *memoryStore) Write(listings []*models.Listing) error {
	if m.err != nil {
		return m.err
	}
	m.written = listings
	return nil
}

func (m *memoryStore) Close() error { return nil }

func newTestPipeline(t *testing.T, path string) *Pipeline {
	t.Helper()
	logger := newTestLogger()
	return NewPipeline(path, "", NewCleaner(logger), NewInsightService(logger, 5), logger)
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "DSG_final.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0644))
	return path
}

func TestPipelineRun(t *testing.T) {
	path := writeSample(t)

	res, err := newTestPipeline(t, path).Run(context.Background())
	require.NoError(t, err)

	r := res.Report
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, path, r.Source)
	assert.False(t, r.GeneratedAt.IsZero())
	assert.Equal(t, 6, r.RawRows)
	assert.Equal(t, 3, r.TotalListings)
	assert.Equal(t, 3, r.DroppedRows)
	assert.Equal(t, r.RawRows, r.TotalListings+r.DroppedRows)
	assert.Len(t, res.Listings, 3)

	assert.Equal(t, []models.BrandPrice{
		{Brand: "Adidas", AveragePrice: 35},
		{Brand: "Nike", AveragePrice: 50},
	}, r.AvgPriceByBrand)
	assert.Equal(t, []models.BrandCount{
		{Brand: "Nike", Listings: 2},
		{Brand: "Adidas", Listings: 1},
	}, r.TopBrands)
}

func TestPipelineMissingInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.csv")

	_, err := newTestPipeline(t, path).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInputNotFound))
}

func TestPipelineReportIDsDiffer(t *testing.T) {
	p := newTestPipeline(t, writeSample(t))

	a, err := p.Run(context.Background())
	require.NoError(t, err)
	b, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.Report.ID, b.Report.ID)
}

func TestPipelineWritesStore(t *testing.T) {
	store := &memoryStore{}
	p := newTestPipeline(t, writeSample(t)).WithStore(store)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.written, 3)
}

func TestPipelineStoreFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{err: errors.New("connection refused")}
	p := newTestPipeline(t, writeSample(t)).WithStore(store)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Report.TotalListings)
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(t, writeSample(t)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineRunFormattedWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DSG_final.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"list_price", "brand", "city", "fit"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{45.0, "Nike", "Pittsburgh", "Regular"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{1299.9, "Nike", "Boston", "Slim"}))
	style, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheet, "A2", "A3", style))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	res, err := newTestPipeline(t, path).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Report.RawRows)
	assert.Equal(t, 2, res.Report.TotalListings)
	assert.Equal(t, 0, res.Report.DroppedRows)
	require.Len(t, res.Report.AvgPriceByBrand, 1)
	assert.InDelta(t, 672.45, res.Report.AvgPriceByBrand[0].AveragePrice, 1e-9)
}
