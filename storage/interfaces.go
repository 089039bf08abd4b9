package storage

import (
	"io"

	"jersey-dashboard/models"
)

// ListingReader loads the raw rows of one input file.
type ListingReader interface {
	Read() ([]*models.RawListing, error)
	Path() string
}

// ListingWriter is the interface any storage backend must satisfy.
type ListingWriter interface {
	Write(listings []*models.Listing) error
	Close() error
}

// ReportExporter serialises a finished report, e.g. as a workbook download.
type ReportExporter interface {
	Export(w io.Writer, report *models.DashboardReport) error
}
