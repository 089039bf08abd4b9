package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"jersey-dashboard/storage"
	"jersey-dashboard/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Summary table names served by /api/summary/{table}.
const (
	TableBrands         = "brands"
	TableCities         = "cities"
	TableFits           = "fits"
	TableTopBrands      = "top-brands"
	TableTopBrandPrices = "top-brand-prices"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status   string `json:"status"`
	ReportID string `json:"report_id,omitempty"`
	Listings int    `json:"listings"`
}

// ServerOptions configures the HTTP layer.
type ServerOptions struct {
	Title           string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the dashboard page, charts and JSON API.
type Server struct {
	opts     ServerOptions
	state    *State
	metrics  *Metrics
	exporter storage.ReportExporter
	logger   *utils.Logger
	router   chi.Router
}

func NewServer(opts ServerOptions, state *State, metrics *Metrics, exporter storage.ReportExporter, logger *utils.Logger) *Server {
	s := &Server{
		opts:     opts,
		state:    state,
		metrics:  metrics,
		exporter: exporter,
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metrics.Middleware)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not found")
	})

	r.Get("/", s.handleIndex)
	r.Get("/charts/{name}.svg", s.handleChart)
	r.Get("/export.xlsx", s.handleExport)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/report", s.handleReport)
		r.Get("/summary/{table}", s.handleSummary)
	})
	return r
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[http] Dashboard listening on http://%s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http: serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("[http] Shutting down (timeout %v)", s.opts.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	report := s.state.Report()
	if report == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "report not loaded")
		return
	}

	var buf bytes.Buffer
	if err := renderPage(&buf, s.opts.Title, report); err != nil {
		s.logger.Error("[http] Render page: %v", err)
		s.writeError(w, r, http.StatusInternalServerError, "render page failed")
		return
	}
	render.HTML(w, r, buf.String())
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if s.state.Report() == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "report not loaded")
		return
	}
	name := chi.URLParam(r, "name")
	reportID := r.URL.Query().Get("v")
	svg, err := s.state.Chart(reportID, name)
	switch {
	case errors.Is(err, ErrUnknownChart):
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ErrReportGone):
		s.writeError(w, r, http.StatusGone, err.Error())
		return
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	if reportID != "" {
		// A report's charts never change once rendered.
		w.Header().Set("Cache-Control", "private, max-age=3600, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	_, _ = w.Write(svg)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.state.Report()
	if report == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "report not loaded")
		return
	}
	render.JSON(w, r, report)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	report := s.state.Report()
	if report == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "report not loaded")
		return
	}

	table := chi.URLParam(r, "table")
	switch table {
	case TableBrands:
		render.JSON(w, r, report.AvgPriceByBrand)
	case TableCities:
		render.JSON(w, r, report.ListingsByCity)
	case TableFits:
		render.JSON(w, r, report.FitDistribution)
	case TableTopBrands:
		render.JSON(w, r, report.TopBrands)
	case TableTopBrandPrices:
		render.JSON(w, r, report.TopBrandPrices)
	default:
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("unknown table %q", table))
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	report := s.state.Report()
	if report == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "report not loaded")
		return
	}

	var buf bytes.Buffer
	if err := s.exporter.Export(&buf, report); err != nil {
		s.logger.Error("[http] Export workbook: %v", err)
		s.writeError(w, r, http.StatusInternalServerError, "export failed")
		return
	}
	filename := fmt.Sprintf("jersey-dashboard-%s.xlsx", report.GeneratedAt.Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.state.Report()
	if report == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, healthResponse{Status: "loading"})
		return
	}
	render.JSON(w, r, healthResponse{Status: "ok", ReportID: report.ID, Listings: report.TotalListings})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug("[http] %s %s %d %dB %v req=%s remote=%s",
			r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start),
			middleware.GetReqID(r.Context()), r.RemoteAddr)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("[http] panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				s.writeError(w, r, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
