package dashboard

import (
	"embed"
	"html/template"
	"io"

	"jersey-dashboard/models"
	"jersey-dashboard/utils"
)

//go:embed templates/index.html
var templatesFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

type pageData struct {
	Title         string
	TotalListings string
	TopN          int
	ReportID      string
	TopBrands     []brandRow
	Source        string
	GeneratedAt   string
}

type brandRow struct {
	Brand    string
	Listings string
}

func renderPage(w io.Writer, title string, r *models.DashboardReport) error {
	data := pageData{
		Title:         title,
		TotalListings: utils.FormatCount(r.TotalListings),
		TopN:          r.TopN,
		ReportID:      r.ID,
		Source:        r.Source,
		GeneratedAt:   r.GeneratedAt.Format("2006-01-02 15:04:05"),
	}
	for _, b := range r.TopBrands {
		data.TopBrands = append(data.TopBrands, brandRow{Brand: b.Brand, Listings: utils.FormatCount(b.Listings)})
	}
	return pageTemplate.Execute(w, data)
}
