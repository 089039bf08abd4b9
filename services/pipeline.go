package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jersey-dashboard/models"
	"jersey-dashboard/storage"
	"jersey-dashboard/utils"
)

// LoadResult is the outcome of one pipeline run.
type LoadResult struct {
	Report   *models.DashboardReport
	Listings []*models.Listing
	Stats    CleanStats
	Took     time.Duration
}

// Pipeline runs read -> clean -> aggregate for one input file and optionally
// mirrors the cleaned rows to a ListingWriter.
type Pipeline struct {
	path     string
	sheet    string
	cleaner  *Cleaner
	insights *InsightService
	store    storage.ListingWriter
	logger   *utils.Logger
	now      func() time.Time
}

func NewPipeline(path, sheet string, cleaner *Cleaner, insights *InsightService, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		path:     path,
		sheet:    sheet,
		cleaner:  cleaner,
		insights: insights,
		logger:   logger,
		now:      time.Now,
	}
}

// WithStore sets a writer that receives the cleaned listings after every run.
// Store failures are logged and never fail the run.
func (p *Pipeline) WithStore(w storage.ListingWriter) *Pipeline {
	p.store = w
	return p
}

func (p *Pipeline) Path() string { return p.path }

// Run loads the input file and builds a fresh report. A missing input file
// returns an error wrapping storage.ErrInputNotFound.
func (p *Pipeline) Run(ctx context.Context) (*LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := p.now()

	reader, err := storage.NewListingReader(p.path, p.sheet)
	if err != nil {
		return nil, err
	}
	raw, err := reader.Read()
	if err != nil {
		return nil, err
	}
	p.logger.Info("[pipeline] Read %d rows from %s", len(raw), reader.Path())

	listings, stats := p.cleaner.Clean(raw)

	report, err := p.insights.Generate(listings)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	report.ID = uuid.NewString()
	report.Source = reader.Path()
	report.GeneratedAt = p.now()
	report.RawRows = stats.Read
	report.DroppedRows = stats.DroppedTotal()

	if p.store != nil {
		if err := p.store.Write(listings); err != nil {
			p.logger.Error("[pipeline] Store write failed: %v", err)
		} else {
			p.logger.Info("[pipeline] Stored %d listings", len(listings))
		}
	}

	return &LoadResult{
		Report:   report,
		Listings: listings,
		Stats:    stats,
		Took:     p.now().Sub(start),
	}, nil
}
